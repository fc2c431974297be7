package service

import (
	"context"
	"errors"
	"time"

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
	"github.com/noah-isme/gema-grading/internal/scoring"
)

// SystemGraderID is recorded as the grader of automatically scored grades.
const SystemGraderID uint = 0

// RegradeReason is the override reason used when a returned submission is regraded.
const RegradeReason = "regrade after return to queue"

// AssignmentDirectory resolves assignment metadata owned by the course subsystem.
type AssignmentDirectory interface {
	GetByID(ctx context.Context, id uint) (models.Assignment, error)
	ListIDsByInstructor(ctx context.Context, instructorID uint) ([]uint, error)
}

// WorkflowConfig tunes the submission lifecycle.
type WorkflowConfig struct {
	// AutoFinalize moves fully auto-graded submissions straight to graded.
	AutoFinalize bool
	// AutoGradeOnSubmit runs the auto-grading pass as soon as a submission is submitted.
	AutoGradeOnSubmit bool
}

// AutoGradeResult reports the outcome of an auto-grading pass.
type AutoGradeResult struct {
	Submission models.Submission
	Grade      *models.Grade
	Outcome    scoring.Outcome
}

// SubmissionWorkflow drives submissions through their lifecycle:
//
//	draft -> submitted -> auto_graded | pending_manual_grading -> graded -> released
//	released -> returned_to_queue -> graded
//
// Each transition is logged and announced with a SubmissionStateChanged event.
type SubmissionWorkflow interface {
	Submit(ctx context.Context, submissionID, studentID uint) (models.Submission, error)
	AutoGrade(ctx context.Context, submissionID uint) (AutoGradeResult, error)
	FinalizeAuto(ctx context.Context, submissionID uint, actorID *uint) (models.Submission, error)
	FinalizeManual(ctx context.Context, submissionID uint, input GradeInput, graderID uint) (models.Submission, models.Grade, error)
	ReturnToQueue(ctx context.Context, submissionID, instructorID uint) (models.Submission, error)
	Transition(ctx context.Context, submissionID uint, to models.SubmissionState, actorID *uint) (models.Submission, error)
	History(ctx context.Context, submissionID uint) ([]models.SubmissionStateEvent, error)
}

type submissionWorkflow struct {
	store       repository.Store
	questions   repository.QuestionRepository
	assignments AssignmentDirectory
	ledger      GradeLedger
	dispatcher  scoring.Dispatcher
	publisher   events.Publisher
	cfg         WorkflowConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionWorkflow constructs the submission state machine.
func NewSubmissionWorkflow(store repository.Store, questions repository.QuestionRepository, assignments AssignmentDirectory, ledger GradeLedger, publisher events.Publisher, cfg WorkflowConfig, logger zerolog.Logger) SubmissionWorkflow {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &submissionWorkflow{
		store:       store,
		questions:   questions,
		assignments: assignments,
		ledger:      ledger,
		dispatcher:  scoring.NewDispatcher(),
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger.With().Str("component", "submission_workflow").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading/internal/service/submission_workflow"),
		now:         time.Now,
	}
}

func (w *submissionWorkflow) Submit(ctx context.Context, submissionID, studentID uint) (models.Submission, error) {
	current, err := w.store.Submissions().GetByID(ctx, submissionID)
	if err != nil {
		return models.Submission{}, notFound(err, "submission", submissionID)
	}
	submittedAt := w.now()
	late := w.isLate(ctx, current.AssignmentID, submittedAt)

	var out outbox
	var submission models.Submission
	err = w.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		submission, err = tx.Submissions().GetByIDForUpdate(ctx, submissionID)
		if err != nil {
			return notFound(err, "submission", submissionID)
		}
		if submission.UserID != studentID {
			return newError(ErrValidation, "submission %d does not belong to user %d", submissionID, studentID)
		}
		if !submission.State.CanTransition(models.SubmissionStateSubmitted) {
			return &TransitionError{SubmissionID: submissionID, From: submission.State, To: models.SubmissionStateSubmitted}
		}

		submission.SubmittedAt = &submittedAt
		submission.IsLate = late
		if err := tx.Submissions().Save(ctx, &submission); err != nil {
			return err
		}

		return transitionSubmission(ctx, tx, &out, &submission, models.SubmissionStateSubmitted, uintPtr(studentID))
	})
	if err != nil {
		return models.Submission{}, err
	}

	out.flush(ctx, w.publisher)
	if !w.cfg.AutoGradeOnSubmit {
		return submission, nil
	}

	// the submission is already committed; a failed pass leaves it in submitted for a later /auto-grade
	result, err := w.AutoGrade(ctx, submissionID)
	if err != nil {
		w.logger.Warn().Err(err).
			Str("error_kind", string(KindOf(err))).
			Uint("submission_id", submissionID).
			Msg("auto-grading after submit failed")
		return submission, nil
	}
	return result.Submission, nil
}

func (w *submissionWorkflow) isLate(ctx context.Context, assignmentID uint, submittedAt time.Time) bool {
	if w.assignments == nil {
		return false
	}
	assignment, err := w.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		w.logger.Warn().Err(err).Uint("assignment_id", assignmentID).Msg("unable to resolve due date; submission treated as on time")
		return false
	}
	return assignment.IsPastDue(submittedAt)
}

func (w *submissionWorkflow) AutoGrade(ctx context.Context, submissionID uint) (AutoGradeResult, error) {
	ctx, span := w.tracer.Start(ctx, "workflow.auto_grade", trace.WithAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
	))
	defer span.End()

	result, err := w.autoGrade(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		if KindOf(err) == KindConfiguration {
			w.logger.Error().Err(err).Uint("submission_id", submissionID).Msg("auto-grading misconfigured")
		}
		return AutoGradeResult{}, err
	}

	span.SetAttributes(
		attribute.String("grading.state", string(result.Submission.State)),
		attribute.Float64("grading.score", result.Outcome.Score),
	)
	return result, nil
}

func (w *submissionWorkflow) autoGrade(ctx context.Context, submissionID uint) (AutoGradeResult, error) {
	submission, err := w.store.Submissions().GetByID(ctx, submissionID)
	if err != nil {
		return AutoGradeResult{}, notFound(err, "submission", submissionID)
	}

	questions, err := w.questions.ListByAssignment(ctx, submission.AssignmentID)
	if err != nil {
		return AutoGradeResult{}, err
	}
	answers, err := w.questions.ListAnswers(ctx, submissionID)
	if err != nil {
		return AutoGradeResult{}, err
	}

	outcome, err := w.dispatcher.GradeAll(questions, answers)
	if err != nil {
		return AutoGradeResult{}, err
	}

	var out outbox
	result := AutoGradeResult{Outcome: outcome}
	err = w.store.Transaction(ctx, func(tx repository.Store) error {
		locked, err := tx.Submissions().GetByIDForUpdate(ctx, submissionID)
		if err != nil {
			return notFound(err, "submission", submissionID)
		}

		if outcome.RequiresManual() {
			if err := transitionSubmission(ctx, tx, &out, &locked, models.SubmissionStatePendingManualGrading, nil); err != nil {
				return err
			}
			result.Submission = locked
			return nil
		}

		if err := transitionSubmission(ctx, tx, &out, &locked, models.SubmissionStateAutoGraded, nil); err != nil {
			return err
		}

		grade, err := w.ledger.recordGradeTx(ctx, tx, &out, locked, GradeInput{Score: outcome.Score, MaxScore: outcome.MaxScore}, SystemGraderID)
		if err != nil {
			return err
		}
		score := grade.Score
		locked.Score = &score
		result.Grade = &grade

		if w.cfg.AutoFinalize {
			if err := transitionSubmission(ctx, tx, &out, &locked, models.SubmissionStateGraded, nil); err != nil {
				return err
			}
		}
		result.Submission = locked
		return nil
	})
	if err != nil {
		return AutoGradeResult{}, err
	}

	out.flush(ctx, w.publisher)
	if result.Grade != nil {
		observability.GradesRecorded().WithLabelValues("auto").Inc()
	}
	return result, nil
}

func (w *submissionWorkflow) FinalizeAuto(ctx context.Context, submissionID uint, actorID *uint) (models.Submission, error) {
	return w.Transition(ctx, submissionID, models.SubmissionStateGraded, actorID)
}

// FinalizeManual records the instructor's score and moves the submission to graded. A
// returned submission whose grade is still released is regraded through the override path.
func (w *submissionWorkflow) FinalizeManual(ctx context.Context, submissionID uint, input GradeInput, graderID uint) (models.Submission, models.Grade, error) {
	ctx, span := w.tracer.Start(ctx, "workflow.finalize_manual", trace.WithAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
		attribute.Int64("grading.actor_id", int64(graderID)),
	))
	defer span.End()

	if input.MaxScore <= 0 && w.assignments != nil {
		current, err := w.store.Submissions().GetByID(ctx, submissionID)
		if err != nil {
			return models.Submission{}, models.Grade{}, notFound(err, "submission", submissionID)
		}
		assignment, err := w.assignments.GetByID(ctx, current.AssignmentID)
		if err != nil {
			return models.Submission{}, models.Grade{}, notFound(err, "assignment", current.AssignmentID)
		}
		input.MaxScore = assignment.MaxScore
	}

	var out outbox
	var submission models.Submission
	var grade models.Grade
	err := w.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		submission, err = tx.Submissions().GetByIDForUpdate(ctx, submissionID)
		if err != nil {
			return notFound(err, "submission", submissionID)
		}
		if !submission.State.CanTransition(models.SubmissionStateGraded) {
			return &TransitionError{SubmissionID: submissionID, From: submission.State, To: models.SubmissionStateGraded}
		}

		existing, err := tx.Grades().FindFinalBySubmission(ctx, submissionID)
		switch {
		case err == nil && existing.IsReleased():
			grade, err = w.ledger.overrideTx(ctx, tx, &out, existing.ID, input.Score, RegradeReason, graderID)
		case err == nil || errors.Is(err, gorm.ErrRecordNotFound):
			grade, err = w.ledger.recordGradeTx(ctx, tx, &out, submission, input, graderID)
		}
		if err != nil {
			return err
		}

		score := grade.Score
		submission.Score = &score
		return transitionSubmission(ctx, tx, &out, &submission, models.SubmissionStateGraded, uintPtr(graderID))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return models.Submission{}, models.Grade{}, err
	}

	out.flush(ctx, w.publisher)
	observability.GradesRecorded().WithLabelValues("manual").Inc()
	return submission, grade, nil
}

func (w *submissionWorkflow) ReturnToQueue(ctx context.Context, submissionID, instructorID uint) (models.Submission, error) {
	var out outbox
	var submission models.Submission
	err := w.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		submission, err = tx.Submissions().GetByIDForUpdate(ctx, submissionID)
		if err != nil {
			return notFound(err, "submission", submissionID)
		}
		if err := transitionSubmission(ctx, tx, &out, &submission, models.SubmissionStateReturnedToQueue, uintPtr(instructorID)); err != nil {
			return err
		}
		return recordActivity(ctx, tx, ActivityEntry{
			ActorID:    uintPtr(instructorID),
			Action:     models.ActivitySubmissionReturns,
			EntityType: "submission",
			EntityID:   uintPtr(submissionID),
		})
	})
	if err != nil {
		return models.Submission{}, err
	}

	out.flush(ctx, w.publisher)
	return submission, nil
}

func (w *submissionWorkflow) Transition(ctx context.Context, submissionID uint, to models.SubmissionState, actorID *uint) (models.Submission, error) {
	if !to.Valid() {
		return models.Submission{}, newError(ErrValidation, "unknown submission state %q", to)
	}

	var out outbox
	var submission models.Submission
	err := w.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		submission, err = tx.Submissions().GetByIDForUpdate(ctx, submissionID)
		if err != nil {
			return notFound(err, "submission", submissionID)
		}
		return transitionSubmission(ctx, tx, &out, &submission, to, actorID)
	})
	if err != nil {
		return models.Submission{}, err
	}

	out.flush(ctx, w.publisher)
	return submission, nil
}

func (w *submissionWorkflow) History(ctx context.Context, submissionID uint) ([]models.SubmissionStateEvent, error) {
	if _, err := w.store.Submissions().GetByID(ctx, submissionID); err != nil {
		return nil, notFound(err, "submission", submissionID)
	}
	return w.store.Submissions().ListStateEvents(ctx, submissionID)
}

// transitionSubmission applies a single lifecycle edge inside tx. The caller must hold the
// submission row lock.
func transitionSubmission(ctx context.Context, tx repository.Store, out *outbox, submission *models.Submission, to models.SubmissionState, actorID *uint) error {
	from := submission.State
	if !from.CanTransition(to) {
		return &TransitionError{SubmissionID: submission.ID, From: from, To: to}
	}

	if err := tx.Submissions().UpdateState(ctx, submission.ID, to); err != nil {
		return err
	}
	if err := tx.Submissions().AppendStateEvent(ctx, &models.SubmissionStateEvent{
		SubmissionID: submission.ID,
		FromState:    from,
		ToState:      to,
		ActorID:      actorID,
	}); err != nil {
		return err
	}
	submission.State = to

	out.add(events.SubmissionStateChanged{
		SubmissionID: submission.ID,
		OldState:     from,
		NewState:     to,
		ActorID:      actorID,
	})
	out.onCommit(func() { observability.SubmissionTransitions().WithLabelValues(string(to)).Inc() })
	return nil
}
