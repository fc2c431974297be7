package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading/internal/events"
	"github.com/noah-isme/gema-grading/internal/models"
	"github.com/noah-isme/gema-grading/internal/repository"
)

func TestOverrideReleasedGradeEmitsRecalculation(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	submission, grade := f.releasedSubmission(t, assignment.ID, 10, 70)

	overridden, err := f.ledger.Override(context.Background(), grade.ID, 85, "rubric error", 77)
	require.NoError(t, err)

	require.Equal(t, 85.0, overridden.Score)
	require.NotNil(t, overridden.OriginalScore)
	require.Equal(t, 70.0, *overridden.OriginalScore)
	require.True(t, overridden.IsOverride)
	require.Equal(t, "rubric error", *overridden.OverrideReason)
	require.Equal(t, uint(77), overridden.GradedBy)

	recalculated := f.publisher.ofKind(events.KindGradeRecalculated)
	require.Len(t, recalculated, 1)
	require.Equal(t, events.GradeRecalculated{GradeID: grade.ID, OldScore: 70, NewScore: 85}, recalculated[0])
	require.Len(t, f.publisher.ofKind(events.KindOverrideGranted), 1)

	reloaded := f.reloadSubmission(t, submission.ID)
	require.NotNil(t, reloaded.Score)
	require.Equal(t, 85.0, *reloaded.Score)
	require.Equal(t, int64(1), f.activityCount(t, models.ActivityGradeOverridden))
}

func TestOverrideTwiceKeepsFirstOriginalScore(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	_, grade := f.releasedSubmission(t, assignment.ID, 10, 70)
	ctx := context.Background()

	_, err := f.ledger.Override(ctx, grade.ID, 85, "rubric error", 77)
	require.NoError(t, err)
	second, err := f.ledger.Override(ctx, grade.ID, 90, "second look", 78)
	require.NoError(t, err)

	require.Equal(t, 90.0, second.Score)
	require.Equal(t, 70.0, *second.OriginalScore)
	require.Equal(t, "second look", *second.OverrideReason)
	require.Len(t, f.publisher.ofKind(events.KindGradeRecalculated), 2)
}

func TestOverrideUnreleasedGradeDoesNotRecalculate(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	_, grade := f.gradedSubmission(t, assignment.ID, 10, 60)

	_, err := f.ledger.Override(context.Background(), grade.ID, 65, "late rubric fix", 77)
	require.NoError(t, err)

	require.Empty(t, f.publisher.ofKind(events.KindGradeRecalculated))
	require.Len(t, f.publisher.ofKind(events.KindOverrideGranted), 1)
}

func TestOverrideValidation(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	_, grade := f.gradedSubmission(t, assignment.ID, 10, 60)
	ctx := context.Background()

	_, err := f.ledger.Override(ctx, grade.ID, 50, "   ", 77)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.ledger.Override(ctx, grade.ID, 120, "too generous", 77)
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, KindValidation, KindOf(err))

	_, err = f.ledger.Override(ctx, 9999, 50, "missing", 77)
	require.Equal(t, KindNotFound, KindOf(err))

	unchanged := f.reloadGrade(t, grade.ID)
	require.Equal(t, 60.0, unchanged.Score)
	require.False(t, unchanged.IsOverride)
}

func TestOverrideRejectsDraft(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	submission := f.submission(t, assignment.ID, 10, models.SubmissionStatePendingManualGrading)

	draft, err := f.ledger.SaveDraft(context.Background(), submission.ID, 5, map[string]interface{}{"q1": 3.0}, nil)
	require.NoError(t, err)

	_, err = f.ledger.Override(context.Background(), draft.ID, 4, "draft edit", 5)
	require.Equal(t, KindInvalidState, KindOf(err))
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	submission, grade := f.releasedSubmission(t, assignment.ID, 10, 80)
	firstRelease := *grade.ReleasedAt

	again, err := f.ledger.Release(context.Background(), grade.ID)
	require.NoError(t, err)
	require.WithinDuration(t, firstRelease, *again.ReleasedAt, time.Millisecond)

	released := f.publisher.ofKind(events.KindGradesReleased)
	require.Len(t, released, 1)
	require.Equal(t, []uint{grade.ID}, released[0].(events.GradesReleased).GradeIDs)

	require.Equal(t, models.SubmissionStateReleased, f.reloadSubmission(t, submission.ID).State)
	require.Equal(t, int64(1), f.activityCount(t, models.ActivityGradeReleased))
}

func TestReleaseRejectsDraftsAndPendingGrades(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	submission := f.submission(t, assignment.ID, 10, models.SubmissionStatePendingManualGrading)
	ctx := context.Background()

	draft, err := f.ledger.SaveDraft(ctx, submission.ID, 5, map[string]interface{}{"q1": 2.0}, nil)
	require.NoError(t, err)
	_, err = f.ledger.Release(ctx, draft.ID)
	require.Equal(t, KindInvalidState, KindOf(err))

	pending := models.Grade{SourceType: models.GradeSourceAssignment, SourceID: assignment.ID, UserID: 11, Status: models.GradeStatusPending}
	require.NoError(t, f.db.Create(&pending).Error)
	_, err = f.ledger.Release(ctx, pending.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	require.Empty(t, f.publisher.ofKind(events.KindGradesReleased))
}

func TestRecordGradeSupersedesUnreleasedGrade(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	submission := f.submission(t, assignment.ID, 10, models.SubmissionStatePendingManualGrading)
	ctx := context.Background()

	first, err := f.ledger.RecordGrade(ctx, submission.ID, GradeInput{Score: 40, MaxScore: 100}, 5)
	require.NoError(t, err)
	second, err := f.ledger.RecordGrade(ctx, submission.ID, GradeInput{Score: 55, MaxScore: 100}, 6)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 55.0, second.Score)

	var count int64
	require.NoError(t, f.db.Model(&models.Grade{}).Where("submission_id = ? AND is_draft = ?", submission.ID, false).Count(&count).Error)
	require.Equal(t, int64(1), count)
	require.Equal(t, 55.0, *f.reloadSubmission(t, submission.ID).Score)
}

func TestRecordGradeRefusesReleasedGrade(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	submission, _ := f.releasedSubmission(t, assignment.ID, 10, 70)

	_, err := f.ledger.RecordGrade(context.Background(), submission.ID, GradeInput{Score: 90, MaxScore: 100}, 5)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRecordSourceGradeWithoutSubmission(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	ctx := context.Background()
	target := repository.GradeTarget{SourceType: "quiz", SourceID: 3}

	grade, err := f.ledger.RecordSourceGrade(ctx, target, 10, GradeInput{Score: 8, MaxScore: 10}, 5)
	require.NoError(t, err)
	require.Nil(t, grade.SubmissionID)
	require.Equal(t, models.GradeStatusGraded, grade.Status)

	_, err = f.ledger.RecordSourceGrade(ctx, repository.GradeTarget{}, 10, GradeInput{Score: 1}, 5)
	require.ErrorIs(t, err, ErrValidation)
}

func TestSaveDraftReplacesPartialGrades(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	submission := f.submission(t, assignment.ID, 10, models.SubmissionStatePendingManualGrading)
	ctx := context.Background()

	first, err := f.ledger.SaveDraft(ctx, submission.ID, 5, map[string]interface{}{"q1": 3.0, "q2": 4.0}, nil)
	require.NoError(t, err)
	require.Equal(t, 7.0, first.Score)

	feedback := "<script>alert(1)</script>Needs citations"
	second, err := f.ledger.SaveDraft(ctx, submission.ID, 5, map[string]interface{}{"q3": 2.0}, &feedback)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	stored := f.reloadGrade(t, second.ID)
	require.True(t, stored.IsDraft)
	require.Equal(t, 2.0, stored.Score)
	require.NotContains(t, stored.PartialGrades, "q1")
	require.Contains(t, stored.PartialGrades, "q3")
	require.Equal(t, "Needs citations", *stored.Feedback)

	other, err := f.ledger.SaveDraft(ctx, submission.ID, 6, map[string]interface{}{"q1": 1.0}, nil)
	require.NoError(t, err)
	require.NotEqual(t, second.ID, other.ID)

	_, err = f.store.Grades().FindFinalBySubmission(ctx, submission.ID)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestApplyFeedbackSanitizesReleasedGrade(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	_, grade := f.releasedSubmission(t, assignment.ID, 10, 70)

	updated, err := f.ledger.ApplyFeedback(context.Background(), grade.ID, `<b>Good</b> work<img src=x onerror=alert(1)>`)
	require.NoError(t, err)
	require.NotNil(t, updated.Feedback)
	require.Contains(t, *updated.Feedback, "<b>Good</b> work")
	require.NotContains(t, *updated.Feedback, "onerror")
	require.Equal(t, 70.0, updated.Score)
}

func TestRecordSourceGradeKeepsStudentsApart(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	ctx := context.Background()
	target := repository.GradeTarget{SourceType: "quiz", SourceID: 3}

	first, err := f.ledger.RecordSourceGrade(ctx, target, 10, GradeInput{Score: 8, MaxScore: 10}, 5)
	require.NoError(t, err)
	second, err := f.ledger.RecordSourceGrade(ctx, target, 11, GradeInput{Score: 2, MaxScore: 10}, 5)
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, uint(11), second.UserID)

	untouched := f.reloadGrade(t, first.ID)
	require.Equal(t, uint(10), untouched.UserID)
	require.Equal(t, 8.0, untouched.Score)

	regraded, err := f.ledger.RecordSourceGrade(ctx, target, 10, GradeInput{Score: 9, MaxScore: 10}, 6)
	require.NoError(t, err)
	require.Equal(t, first.ID, regraded.ID)
	require.Equal(t, 9.0, regraded.Score)
	require.Equal(t, 2.0, f.reloadGrade(t, second.ID).Score)
}

func TestReleaseRequiresFinalizedSubmission(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	submission := f.submission(t, assignment.ID, 10, models.SubmissionStateSubmitted)
	question := f.question(t, assignment.ID, models.QuestionTypeMultipleChoice, `{"correct":"a"}`, 5)
	f.answer(t, submission.ID, question.ID, "a")
	ctx := context.Background()

	result, err := f.workflow.AutoGrade(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStateAutoGraded, result.Submission.State)

	_, err = f.ledger.Release(ctx, result.Grade.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	require.False(t, f.reloadGrade(t, result.Grade.ID).IsReleased())
	require.Empty(t, f.publisher.ofKind(events.KindGradesReleased))

	_, err = f.appeals.Submit(ctx, submission.ID, 10, "please recheck", nil)
	require.Equal(t, KindConflict, KindOf(err))

	report := f.bulk.BulkRelease(ctx, []uint{result.Grade.ID})
	require.Equal(t, []uint{result.Grade.ID}, report.FailedIDs())
	require.Equal(t, KindInvalidState, report.Failed[0].ErrorKind)

	actor := uint(900)
	_, err = f.workflow.FinalizeAuto(ctx, submission.ID, &actor)
	require.NoError(t, err)

	released, err := f.ledger.Release(ctx, result.Grade.ID)
	require.NoError(t, err)
	require.True(t, released.IsReleased())
	require.Equal(t, models.SubmissionStateReleased, f.reloadSubmission(t, submission.ID).State)
}
