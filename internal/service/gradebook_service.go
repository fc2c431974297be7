package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading/internal/dto"
	"github.com/noah-isme/gema-grading/internal/events"
	"github.com/noah-isme/gema-grading/internal/models"
	"github.com/noah-isme/gema-grading/internal/repository"
)

// GradebookService produces student-facing rollups of released grades. Drafts and
// unreleased grades never contribute.
type GradebookService interface {
	StudentSummary(ctx context.Context, userID, assignmentID uint) (dto.GradebookSummary, error)
	StudentOverview(ctx context.Context, userID uint) (dto.GradebookSummary, error)
	Invalidate(ctx context.Context, gradeIDs ...uint) error
	// Sink recalculates cached rollups when grades are released or recalculated.
	Sink() events.Sink
}

type gradebookService struct {
	grades   repository.GradeRepository
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewGradebookService builds the rollup service. A nil cache disables caching.
func NewGradebookService(grades repository.GradeRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) GradebookService {
	return &gradebookService{
		grades:   grades,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger.With().Str("component", "gradebook_service").Logger(),
		now:      time.Now,
	}
}

func assignmentSummaryKey(userID, assignmentID uint) string {
	return fmt.Sprintf("gradebook:user:%d:assignment:%d", userID, assignmentID)
}

func overviewKey(userID uint) string {
	return fmt.Sprintf("gradebook:user:%d:all", userID)
}

func (s *gradebookService) StudentSummary(ctx context.Context, userID, assignmentID uint) (dto.GradebookSummary, error) {
	filter := repository.GradeFilter{
		UserID:     userID,
		SourceType: models.GradeSourceAssignment,
		SourceID:   uintPtr(assignmentID),
	}
	return s.summarize(ctx, assignmentSummaryKey(userID, assignmentID), filter)
}

func (s *gradebookService) StudentOverview(ctx context.Context, userID uint) (dto.GradebookSummary, error) {
	return s.summarize(ctx, overviewKey(userID), repository.GradeFilter{UserID: userID})
}

func (s *gradebookService) summarize(ctx context.Context, cacheKey string, filter repository.GradeFilter) (dto.GradebookSummary, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var summary dto.GradebookSummary
			if unmarshalErr := json.Unmarshal([]byte(cached), &summary); unmarshalErr == nil {
				summary.CacheHit = true
				return summary, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Str("key", cacheKey).Msg("failed to read gradebook cache")
		}
	}

	grades, err := s.grades.ListReleased(ctx, filter)
	if err != nil {
		return dto.GradebookSummary{}, err
	}

	summary := s.buildSummary(filter, grades)

	if s.cache != nil {
		if payload, err := json.Marshal(summary); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Str("key", cacheKey).Msg("failed to store gradebook cache")
			}
		}
	}

	return summary, nil
}

func (s *gradebookService) buildSummary(filter repository.GradeFilter, grades []models.Grade) dto.GradebookSummary {
	summary := dto.GradebookSummary{
		UserID:      filter.UserID,
		SourceID:    filter.SourceID,
		Entries:     make([]dto.GradebookEntry, 0, len(grades)),
		GeneratedAt: s.now().UTC(),
	}

	for _, grade := range grades {
		if grade.IsDraft || !grade.IsReleased() {
			continue
		}
		summary.TotalScore += grade.Score
		summary.TotalMax += grade.MaxScore
		summary.Entries = append(summary.Entries, dto.GradebookEntry{
			GradeID:     grade.ID,
			SourceType:  grade.SourceType,
			SourceID:    grade.SourceID,
			Score:       grade.Score,
			MaxScore:    grade.MaxScore,
			IsOverride:  grade.IsOverride,
			ReleasedAt:  *grade.ReleasedAt,
			Percentage:  grade.Percentage(),
			HasFeedback: grade.Feedback != nil,
		})
	}

	if summary.TotalMax > 0 {
		summary.Percentage = summary.TotalScore / summary.TotalMax * 100
	}
	return summary
}

func (s *gradebookService) Invalidate(ctx context.Context, gradeIDs ...uint) error {
	if s.cache == nil || len(gradeIDs) == 0 {
		return nil
	}

	grades, err := s.grades.ListByIDs(ctx, gradeIDs)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(grades)*2)
	for _, grade := range grades {
		keys = append(keys, overviewKey(grade.UserID))
		if grade.SourceType == models.GradeSourceAssignment {
			keys = append(keys, assignmentSummaryKey(grade.UserID, grade.SourceID))
		}
	}
	if len(keys) == 0 {
		return nil
	}

	return s.cache.Del(ctx, keys...).Err()
}

func (s *gradebookService) Sink() events.Sink {
	return events.SinkFunc(func(ctx context.Context, envelope events.Envelope) error {
		switch payload := envelope.Payload.(type) {
		case events.GradeRecalculated:
			return s.Invalidate(ctx, payload.GradeID)
		case events.GradesReleased:
			return s.Invalidate(ctx, payload.GradeIDs...)
		default:
			return nil
		}
	})
}
