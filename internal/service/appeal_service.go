package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading/internal/events"
	"github.com/noah-isme/gema-grading/internal/models"
	"github.com/noah-isme/gema-grading/internal/observability"
	"github.com/noah-isme/gema-grading/internal/repository"
)

// AppealService manages appeals against released grades.
type AppealService interface {
	Submit(ctx context.Context, submissionID, studentID uint, reason string, documents []string) (models.Appeal, error)
	Approve(ctx context.Context, appealID, reviewerID uint, decisionReason string, newScore float64) (models.Appeal, models.Grade, error)
	Deny(ctx context.Context, appealID, reviewerID uint, decisionReason string) (models.Appeal, error)
	ListPendingForInstructor(ctx context.Context, instructorID uint) ([]models.Appeal, error)
	ListForStudent(ctx context.Context, studentID uint) ([]models.Appeal, error)
}

type appealService struct {
	store       repository.Store
	ledger      GradeLedger
	assignments AssignmentDirectory
	publisher   events.Publisher
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewAppealService constructs the appeal adjudicator.
func NewAppealService(store repository.Store, ledger GradeLedger, assignments AssignmentDirectory, publisher events.Publisher, logger zerolog.Logger) AppealService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &appealService{
		store:       store,
		ledger:      ledger,
		assignments: assignments,
		publisher:   publisher,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "appeal_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading/internal/service/appeal"),
		now:         time.Now,
	}
}

func (s *appealService) Submit(ctx context.Context, submissionID, studentID uint, reason string, documents []string) (models.Appeal, error) {
	cleanReason := s.clean(reason)
	if cleanReason == "" {
		return models.Appeal{}, newError(ErrValidation, "appeal reason is required")
	}

	var appeal models.Appeal
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		// the submission lock serialises concurrent appeals for the same submission
		submission, err := tx.Submissions().GetByIDForUpdate(ctx, submissionID)
		if err != nil {
			return notFound(err, "submission", submissionID)
		}
		if submission.UserID != studentID {
			return newError(ErrValidation, "submission %d does not belong to user %d", submissionID, studentID)
		}

		grade, err := tx.Grades().FindFinalBySubmission(ctx, submissionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(ErrConflict, "submission %d has no grade to appeal", submissionID)
		}
		if err != nil {
			return err
		}
		if !grade.IsReleased() {
			return newError(ErrConflict, "grade for submission %d is not released", submissionID)
		}

		pending, err := tx.Appeals().HasPending(ctx, submissionID)
		if err != nil {
			return err
		}
		if pending {
			return newError(ErrConflict, "submission %d already has a pending appeal", submissionID)
		}

		appeal = models.Appeal{
			SubmissionID:        submissionID,
			StudentID:           studentID,
			Reason:              cleanReason,
			SupportingDocuments: cleanDocuments(documents),
			Status:              models.AppealStatusPending,
			SubmittedAt:         s.now(),
		}
		if err := tx.Appeals().Create(ctx, &appeal); err != nil {
			return err
		}

		return recordActivity(ctx, tx, ActivityEntry{
			ActorID:    uintPtr(studentID),
			ActorRole:  "student",
			Action:     models.ActivityAppealSubmitted,
			EntityType: "appeal",
			EntityID:   uintPtr(appeal.ID),
			Metadata:   map[string]interface{}{"submission_id": submissionID, "grade_id": grade.ID},
		})
	})
	if err != nil {
		return models.Appeal{}, err
	}

	s.logger.Info().Uint("appeal_id", appeal.ID).Uint("submission_id", submissionID).Msg("appeal submitted")
	return appeal, nil
}

// Approve decides the appeal in the student's favour and overrides the submission's grade
// with newScore in the same transaction.
func (s *appealService) Approve(ctx context.Context, appealID, reviewerID uint, decisionReason string, newScore float64) (models.Appeal, models.Grade, error) {
	ctx, span := s.tracer.Start(ctx, "appeals.approve", trace.WithAttributes(
		attribute.Int64("appeal.id", int64(appealID)),
		attribute.Int64("appeal.reviewer_id", int64(reviewerID)),
	))
	defer span.End()

	reason := s.clean(decisionReason)
	if reason == "" {
		return models.Appeal{}, models.Grade{}, newError(ErrValidation, "decision reason is required")
	}

	var out outbox
	var appeal models.Appeal
	var grade models.Grade
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		appeal, err = s.lockPending(ctx, tx, appealID)
		if err != nil {
			return err
		}

		current, err := tx.Grades().FindFinalBySubmission(ctx, appeal.SubmissionID)
		if err != nil {
			return notFound(err, "grade for submission", appeal.SubmissionID)
		}

		grade, err = s.ledger.overrideTx(ctx, tx, &out, current.ID, newScore, reason, reviewerID)
		if err != nil {
			return err
		}

		s.decide(&appeal, models.AppealStatusApproved, reviewerID, reason)
		appeal.NewScore = &newScore
		if err := tx.Appeals().Save(ctx, &appeal); err != nil {
			return err
		}

		return recordActivity(ctx, tx, ActivityEntry{
			ActorID:    uintPtr(reviewerID),
			Action:     models.ActivityAppealApproved,
			EntityType: "appeal",
			EntityID:   uintPtr(appeal.ID),
			Metadata:   map[string]interface{}{"grade_id": grade.ID, "new_score": newScore},
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return models.Appeal{}, models.Grade{}, err
	}

	out.flush(ctx, s.publisher)
	observability.AppealDecisions().WithLabelValues(string(models.AppealStatusApproved)).Inc()
	return appeal, grade, nil
}

func (s *appealService) Deny(ctx context.Context, appealID, reviewerID uint, decisionReason string) (models.Appeal, error) {
	reason := s.clean(decisionReason)
	if reason == "" {
		return models.Appeal{}, newError(ErrValidation, "decision reason is required")
	}

	var appeal models.Appeal
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		appeal, err = s.lockPending(ctx, tx, appealID)
		if err != nil {
			return err
		}

		s.decide(&appeal, models.AppealStatusDenied, reviewerID, reason)
		if err := tx.Appeals().Save(ctx, &appeal); err != nil {
			return err
		}

		return recordActivity(ctx, tx, ActivityEntry{
			ActorID:    uintPtr(reviewerID),
			Action:     models.ActivityAppealDenied,
			EntityType: "appeal",
			EntityID:   uintPtr(appeal.ID),
		})
	})
	if err != nil {
		return models.Appeal{}, err
	}

	observability.AppealDecisions().WithLabelValues(string(models.AppealStatusDenied)).Inc()
	return appeal, nil
}

func (s *appealService) ListPendingForInstructor(ctx context.Context, instructorID uint) ([]models.Appeal, error) {
	assignmentIDs, err := s.assignments.ListIDsByInstructor(ctx, instructorID)
	if err != nil {
		return nil, err
	}
	return s.store.Appeals().ListPendingByAssignments(ctx, assignmentIDs)
}

func (s *appealService) ListForStudent(ctx context.Context, studentID uint) ([]models.Appeal, error) {
	return s.store.Appeals().ListByStudent(ctx, studentID)
}

func (s *appealService) lockPending(ctx context.Context, tx repository.Store, appealID uint) (models.Appeal, error) {
	appeal, err := tx.Appeals().GetByIDForUpdate(ctx, appealID)
	if err != nil {
		return models.Appeal{}, notFound(err, "appeal", appealID)
	}
	if !appeal.IsPending() {
		return models.Appeal{}, newError(ErrInvalidState, "appeal %d is already %s", appealID, appeal.Status)
	}
	return appeal, nil
}

func (s *appealService) decide(appeal *models.Appeal, status models.AppealStatus, reviewerID uint, reason string) {
	decidedAt := s.now()
	appeal.Status = status
	appeal.ReviewerID = uintPtr(reviewerID)
	appeal.DecisionReason = &reason
	appeal.DecidedAt = &decidedAt
}

func (s *appealService) clean(text string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(text))
}

func cleanDocuments(documents []string) []string {
	cleaned := make([]string, 0, len(documents))
	for _, document := range documents {
		if trimmed := strings.TrimSpace(document); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
