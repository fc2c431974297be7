package service

import (
	"context"
	"errors"
	"math"
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

const scoreTolerance = 1e-9

// GradeInput is the score payload for a finalised grade.
type GradeInput struct {
	Score    float64
	MaxScore float64
	Feedback *string
}

// GradeLedger owns the grade lifecycle: recording, drafts, overrides and release.
// Every write is a single transaction holding the grade row lock.
type GradeLedger interface {
	RecordGrade(ctx context.Context, submissionID uint, input GradeInput, gradedBy uint) (models.Grade, error)
	RecordSourceGrade(ctx context.Context, target repository.GradeTarget, userID uint, input GradeInput, gradedBy uint) (models.Grade, error)
	SaveDraft(ctx context.Context, submissionID, gradedBy uint, partialGrades map[string]interface{}, feedback *string) (models.Grade, error)
	Override(ctx context.Context, gradeID uint, newScore float64, reason string, overriddenBy uint) (models.Grade, error)
	Release(ctx context.Context, gradeID uint) (models.Grade, error)
	ApplyFeedback(ctx context.Context, gradeID uint, feedback string) (models.Grade, error)

	// transaction-scoped variants for services composing ledger writes with their own
	recordGradeTx(ctx context.Context, tx repository.Store, out *outbox, submission models.Submission, input GradeInput, gradedBy uint) (models.Grade, error)
	overrideTx(ctx context.Context, tx repository.Store, out *outbox, gradeID uint, newScore float64, reason string, overriddenBy uint) (models.Grade, error)
	releaseTx(ctx context.Context, tx repository.Store, out *outbox, gradeID uint) (models.Grade, bool, error)
}

type gradeLedger struct {
	store     repository.Store
	publisher events.Publisher
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewGradeLedger constructs the ledger. A nil publisher discards events.
func NewGradeLedger(store repository.Store, publisher events.Publisher, logger zerolog.Logger) GradeLedger {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &gradeLedger{
		store:     store,
		publisher: publisher,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "grade_ledger").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grading/internal/service/grade_ledger"),
		now:       time.Now,
	}
}

func (l *gradeLedger) RecordGrade(ctx context.Context, submissionID uint, input GradeInput, gradedBy uint) (models.Grade, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.record", trace.WithAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
		attribute.Int64("grading.actor_id", int64(gradedBy)),
	))
	defer span.End()

	var out outbox
	var grade models.Grade
	err := l.store.Transaction(ctx, func(tx repository.Store) error {
		submission, err := tx.Submissions().GetByID(ctx, submissionID)
		if err != nil {
			return notFound(err, "submission", submissionID)
		}
		grade, err = l.recordGradeTx(ctx, tx, &out, submission, input, gradedBy)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return models.Grade{}, err
	}

	out.flush(ctx, l.publisher)
	observability.GradesRecorded().WithLabelValues("manual").Inc()
	return grade, nil
}

func (l *gradeLedger) recordGradeTx(ctx context.Context, tx repository.Store, out *outbox, submission models.Submission, input GradeInput, gradedBy uint) (models.Grade, error) {
	target := repository.GradeTarget{
		SourceType:   models.GradeSourceAssignment,
		SourceID:     submission.AssignmentID,
		SubmissionID: uintPtr(submission.ID),
	}

	grade, err := l.upsertFinal(ctx, tx, target, submission.UserID, input, gradedBy)
	if err != nil {
		return models.Grade{}, err
	}

	if err := tx.Submissions().UpdateScore(ctx, submission.ID, grade.Score); err != nil {
		return models.Grade{}, err
	}

	return grade, nil
}

func (l *gradeLedger) RecordSourceGrade(ctx context.Context, target repository.GradeTarget, userID uint, input GradeInput, gradedBy uint) (models.Grade, error) {
	if strings.TrimSpace(target.SourceType) == "" || target.SourceID == 0 {
		return models.Grade{}, newError(ErrValidation, "grade source is required")
	}

	var grade models.Grade
	err := l.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		grade, err = l.upsertFinal(ctx, tx, target, userID, input, gradedBy)
		return err
	})
	if err != nil {
		return models.Grade{}, err
	}

	observability.GradesRecorded().WithLabelValues("source").Inc()
	return grade, nil
}

// upsertFinal creates the finalised grade for target or supersedes the existing one.
func (l *gradeLedger) upsertFinal(ctx context.Context, tx repository.Store, target repository.GradeTarget, userID uint, input GradeInput, gradedBy uint) (models.Grade, error) {
	if err := validateScore(input.Score, input.MaxScore); err != nil {
		return models.Grade{}, err
	}

	target.UserID = userID
	grade, err := tx.Grades().FindFinalForUpdate(ctx, target)
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Grade{}, err
	}
	if found && grade.UserID != userID {
		return models.Grade{}, newError(ErrConflict, "grade %d belongs to user %d, not %d", grade.ID, grade.UserID, userID)
	}
	if found && grade.IsReleased() {
		return models.Grade{}, newError(ErrInvalidState, "grade %d is released; use override", grade.ID)
	}

	gradedAt := l.now()
	if !found {
		grade = models.Grade{
			SourceType:   target.SourceType,
			SourceID:     target.SourceID,
			SubmissionID: target.SubmissionID,
			UserID:       userID,
		}
	}
	grade.GradedBy = gradedBy
	grade.Score = input.Score
	grade.MaxScore = input.MaxScore
	grade.Status = models.GradeStatusGraded
	grade.GradedAt = &gradedAt
	grade.IsOverride = false
	grade.OriginalScore = nil
	grade.OverrideReason = nil
	if input.Feedback != nil {
		grade.Feedback = l.sanitizeFeedback(*input.Feedback)
	}

	if found {
		err = tx.Grades().Save(ctx, &grade)
	} else {
		err = tx.Grades().Create(ctx, &grade)
	}
	if err != nil {
		return models.Grade{}, err
	}

	if err := recordActivity(ctx, tx, ActivityEntry{
		ActorID:    uintPtr(gradedBy),
		Action:     models.ActivityGradeRecorded,
		EntityType: "grade",
		EntityID:   uintPtr(grade.ID),
		Metadata: map[string]interface{}{
			"score":       grade.Score,
			"max_score":   grade.MaxScore,
			"source_type": grade.SourceType,
			"source_id":   grade.SourceID,
			"superseded":  found,
		},
	}); err != nil {
		return models.Grade{}, err
	}

	return grade, nil
}

func (l *gradeLedger) SaveDraft(ctx context.Context, submissionID, gradedBy uint, partialGrades map[string]interface{}, feedback *string) (models.Grade, error) {
	var draft models.Grade
	err := l.store.Transaction(ctx, func(tx repository.Store) error {
		submission, err := tx.Submissions().GetByID(ctx, submissionID)
		if err != nil {
			return notFound(err, "submission", submissionID)
		}

		draft, err = tx.Grades().FindDraftForUpdate(ctx, submissionID, gradedBy)
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !found {
			draft = models.Grade{
				SourceType:   models.GradeSourceAssignment,
				SourceID:     submission.AssignmentID,
				SubmissionID: uintPtr(submission.ID),
				UserID:       submission.UserID,
				GradedBy:     gradedBy,
				IsDraft:      true,
				Status:       models.GradeStatusPending,
			}
		}

		// replace, never merge: stale keys from the previous draft must not survive
		draft.PartialGrades = copyPartialGrades(partialGrades)
		draft.Score = sumPartialGrades(partialGrades)
		draft.Feedback = nil
		if feedback != nil {
			draft.Feedback = l.sanitizeFeedback(*feedback)
		}

		if found {
			return tx.Grades().Save(ctx, &draft)
		}
		return tx.Grades().Create(ctx, &draft)
	})
	if err != nil {
		return models.Grade{}, err
	}

	l.logger.Debug().Uint("submission_id", submissionID).Uint("graded_by", gradedBy).Msg("draft grade saved")
	return draft, nil
}

func (l *gradeLedger) Override(ctx context.Context, gradeID uint, newScore float64, reason string, overriddenBy uint) (models.Grade, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.override", trace.WithAttributes(
		attribute.Int64("grading.grade_id", int64(gradeID)),
		attribute.Int64("grading.actor_id", int64(overriddenBy)),
	))
	defer span.End()

	var out outbox
	var grade models.Grade
	err := l.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		grade, err = l.overrideTx(ctx, tx, &out, gradeID, newScore, reason, overriddenBy)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return models.Grade{}, err
	}

	out.flush(ctx, l.publisher)
	span.SetAttributes(attribute.Float64("grading.score", grade.Score))
	return grade, nil
}

func (l *gradeLedger) overrideTx(ctx context.Context, tx repository.Store, out *outbox, gradeID uint, newScore float64, reason string, overriddenBy uint) (models.Grade, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Grade{}, newError(ErrValidation, "override reason is required")
	}

	grade, err := tx.Grades().GetByIDForUpdate(ctx, gradeID)
	if err != nil {
		return models.Grade{}, notFound(err, "grade", gradeID)
	}
	if grade.IsDraft {
		return models.Grade{}, newError(ErrInvalidState, "grade %d is a draft", gradeID)
	}
	if err := validateScore(newScore, grade.MaxScore); err != nil {
		return models.Grade{}, err
	}

	previous := grade.Score
	if grade.OriginalScore == nil {
		original := previous
		grade.OriginalScore = &original
	}
	grade.Score = newScore
	grade.IsOverride = true
	grade.OverrideReason = &reason
	grade.GradedBy = overriddenBy
	if grade.Status != models.GradeStatusGraded {
		gradedAt := l.now()
		grade.Status = models.GradeStatusGraded
		grade.GradedAt = &gradedAt
	}

	if err := tx.Grades().Save(ctx, &grade); err != nil {
		return models.Grade{}, err
	}

	if grade.SubmissionID != nil {
		if err := tx.Submissions().UpdateScore(ctx, *grade.SubmissionID, newScore); err != nil {
			return models.Grade{}, err
		}
	}

	if err := recordActivity(ctx, tx, ActivityEntry{
		ActorID:    uintPtr(overriddenBy),
		Action:     models.ActivityGradeOverridden,
		EntityType: "grade",
		EntityID:   uintPtr(grade.ID),
		Metadata: map[string]interface{}{
			"previous_score": previous,
			"new_score":      newScore,
			"original_score": *grade.OriginalScore,
			"reason":         reason,
			"released":       grade.IsReleased(),
		},
	}); err != nil {
		return models.Grade{}, err
	}

	out.add(events.OverrideGranted{GradeID: grade.ID, ActorID: overriddenBy})
	if grade.IsReleased() && math.Abs(previous-newScore) > scoreTolerance {
		out.add(events.GradeRecalculated{GradeID: grade.ID, OldScore: previous, NewScore: newScore})
	}
	out.onCommit(func() { observability.GradeOverrides().Inc() })

	return grade, nil
}

// Release publishes the grade to the student. Releasing an already released grade is a no-op.
func (l *gradeLedger) Release(ctx context.Context, gradeID uint) (models.Grade, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.release", trace.WithAttributes(
		attribute.Int64("grading.grade_id", int64(gradeID)),
	))
	defer span.End()

	var out outbox
	var grade models.Grade
	var fresh bool
	err := l.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		grade, fresh, err = l.releaseTx(ctx, tx, &out, gradeID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return models.Grade{}, err
	}

	if fresh {
		out.add(events.GradesReleased{GradeIDs: []uint{grade.ID}})
	}
	out.flush(ctx, l.publisher)
	span.SetAttributes(attribute.Bool("grading.already_released", !fresh))
	return grade, nil
}

// releaseTx reports fresh=false when the grade was already released.
func (l *gradeLedger) releaseTx(ctx context.Context, tx repository.Store, out *outbox, gradeID uint) (models.Grade, bool, error) {
	grade, err := tx.Grades().GetByIDForUpdate(ctx, gradeID)
	if err != nil {
		return models.Grade{}, false, notFound(err, "grade", gradeID)
	}
	if grade.IsReleased() {
		// a regraded submission may still sit in graded behind an already released grade
		if grade.SubmissionID != nil {
			if err := l.advanceReleasedSubmission(ctx, tx, out, *grade.SubmissionID); err != nil {
				return models.Grade{}, false, err
			}
		}
		return grade, false, nil
	}
	if grade.IsDraft {
		return models.Grade{}, false, newError(ErrInvalidState, "grade %d is a draft", gradeID)
	}
	if grade.Status != models.GradeStatusGraded {
		return models.Grade{}, false, newError(ErrInvalidState, "grade %d has status %s", gradeID, grade.Status)
	}

	var submission *models.Submission
	if grade.SubmissionID != nil {
		linked, err := tx.Submissions().GetByIDForUpdate(ctx, *grade.SubmissionID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return models.Grade{}, false, err
		case !linked.IsGraded():
			return models.Grade{}, false, newError(ErrInvalidState, "submission %d is %s; finalize it before releasing grade %d", linked.ID, linked.State, gradeID)
		default:
			submission = &linked
		}
	}

	releasedAt := l.now()
	grade.ReleasedAt = &releasedAt
	if err := tx.Grades().Save(ctx, &grade); err != nil {
		return models.Grade{}, false, err
	}

	if submission != nil && submission.State == models.SubmissionStateGraded {
		if err := transitionSubmission(ctx, tx, out, submission, models.SubmissionStateReleased, nil); err != nil {
			return models.Grade{}, false, err
		}
	}

	if err := recordActivity(ctx, tx, ActivityEntry{
		Action:     models.ActivityGradeReleased,
		EntityType: "grade",
		EntityID:   uintPtr(grade.ID),
		Metadata:   map[string]interface{}{"score": grade.Score},
	}); err != nil {
		return models.Grade{}, false, err
	}

	out.onCommit(func() { observability.GradesReleased().Inc() })
	return grade, true, nil
}

// advanceReleasedSubmission moves a regraded submission behind an already released grade
// back to released. Submissions in any other state keep their state.
func (l *gradeLedger) advanceReleasedSubmission(ctx context.Context, tx repository.Store, out *outbox, submissionID uint) error {
	submission, err := tx.Submissions().GetByIDForUpdate(ctx, submissionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if submission.State != models.SubmissionStateGraded {
		l.logger.Debug().Uint("submission_id", submissionID).Str("state", string(submission.State)).Msg("grade released without advancing submission")
		return nil
	}
	return transitionSubmission(ctx, tx, out, &submission, models.SubmissionStateReleased, nil)
}

func (l *gradeLedger) ApplyFeedback(ctx context.Context, gradeID uint, feedback string) (models.Grade, error) {
	var grade models.Grade
	err := l.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		grade, err = tx.Grades().GetByIDForUpdate(ctx, gradeID)
		if err != nil {
			return notFound(err, "grade", gradeID)
		}
		grade.Feedback = l.sanitizeFeedback(feedback)
		return tx.Grades().Save(ctx, &grade)
	})
	if err != nil {
		return models.Grade{}, err
	}
	return grade, nil
}

func (l *gradeLedger) sanitizeFeedback(feedback string) *string {
	clean := strings.TrimSpace(l.sanitizer.Sanitize(feedback))
	if clean == "" {
		return nil
	}
	return &clean
}

func validateScore(score, maxScore float64) error {
	switch {
	case math.IsNaN(score) || math.IsInf(score, 0):
		return newError(ErrValidation, "score must be a finite number")
	case score < 0:
		return newError(ErrValidation, "score must not be negative")
	case maxScore < 0:
		return newError(ErrValidation, "max score must not be negative")
	case maxScore > 0 && score > maxScore+scoreTolerance:
		return newError(ErrValidation, "score %.2f exceeds max score %.2f", score, maxScore)
	}
	return nil
}

func copyPartialGrades(partial map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(partial))
	for key, value := range partial {
		copied[key] = value
	}
	return copied
}

func sumPartialGrades(partial map[string]interface{}) float64 {
	var total float64
	for _, value := range partial {
		switch v := value.(type) {
		case float64:
			total += v
		case float32:
			total += float64(v)
		case int:
			total += float64(v)
		case int64:
			total += float64(v)
		case uint:
			total += float64(v)
		}
	}
	return total
}
