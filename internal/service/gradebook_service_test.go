package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading/internal/events"
	"github.com/noah-isme/gema-grading/internal/models"
	"github.com/noah-isme/gema-grading/internal/repository"
)

func newGradebookFixture(t *testing.T) (*gradingFixture, GradebookService, *miniredis.Miniredis) {
	t.Helper()
	f := newGradingFixture(t, WorkflowConfig{})
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return f, NewGradebookService(repository.NewGradeRepository(f.db), client, time.Minute, testLogger()), mr
}

func TestGradebookSummaryCountsOnlyReleasedGrades(t *testing.T) {
	f, gradebook, mr := newGradebookFixture(t)
	ctx := context.Background()
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	other := f.assignment(t, 1, time.Now().Add(time.Hour))

	f.releasedSubmission(t, assignment.ID, 10, 80)
	f.releasedSubmission(t, other.ID, 10, 40)
	f.gradedSubmission(t, f.assignment(t, 1, time.Now()).ID, 10, 99)
	draftTarget := f.submission(t, assignment.ID, 10, models.SubmissionStatePendingManualGrading)
	_, err := f.ledger.SaveDraft(ctx, draftTarget.ID, 900, map[string]interface{}{"q1": 5}, nil)
	require.NoError(t, err)

	summary, err := gradebook.StudentSummary(ctx, 10, assignment.ID)
	require.NoError(t, err)
	require.False(t, summary.CacheHit)
	require.Len(t, summary.Entries, 1)
	require.Equal(t, 80.0, summary.TotalScore)
	require.Equal(t, 80.0, summary.Percentage)
	require.Equal(t, assignment.ID, *summary.SourceID)
	require.True(t, mr.Exists(assignmentSummaryKey(10, assignment.ID)))

	overview, err := gradebook.StudentOverview(ctx, 10)
	require.NoError(t, err)
	require.Len(t, overview.Entries, 2)
	require.Equal(t, 120.0, overview.TotalScore)
	require.Equal(t, 200.0, overview.TotalMax)
	require.Equal(t, 60.0, overview.Percentage)

	cached, err := gradebook.StudentSummary(ctx, 10, assignment.ID)
	require.NoError(t, err)
	require.True(t, cached.CacheHit)
	require.Equal(t, 80.0, cached.TotalScore)
}

func TestGradebookSinkInvalidatesRecalculatedGrades(t *testing.T) {
	f, gradebook, mr := newGradebookFixture(t)
	ctx := context.Background()
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	_, grade := f.releasedSubmission(t, assignment.ID, 10, 70)

	_, err := gradebook.StudentSummary(ctx, 10, assignment.ID)
	require.NoError(t, err)
	_, err = gradebook.StudentOverview(ctx, 10)
	require.NoError(t, err)

	_, err = f.ledger.Override(ctx, grade.ID, 85, "rubric error", 1)
	require.NoError(t, err)

	sink := gradebook.Sink()
	require.NoError(t, sink.Deliver(ctx, events.Envelope{
		Kind:    events.KindGradeRecalculated,
		Payload: events.GradeRecalculated{GradeID: grade.ID, OldScore: 70, NewScore: 85},
	}))
	require.False(t, mr.Exists(assignmentSummaryKey(10, assignment.ID)))
	require.False(t, mr.Exists(overviewKey(10)))

	fresh, err := gradebook.StudentSummary(ctx, 10, assignment.ID)
	require.NoError(t, err)
	require.False(t, fresh.CacheHit)
	require.Equal(t, 85.0, fresh.TotalScore)
	require.True(t, fresh.Entries[0].IsOverride)

	require.NoError(t, sink.Deliver(ctx, events.Envelope{
		Kind:    events.KindOverrideGranted,
		Payload: events.OverrideGranted{GradeID: grade.ID},
	}))
	require.True(t, mr.Exists(assignmentSummaryKey(10, assignment.ID)))
}

func TestGradebookWithoutCache(t *testing.T) {
	f := newGradingFixture(t, WorkflowConfig{})
	gradebook := NewGradebookService(repository.NewGradeRepository(f.db), nil, time.Minute, testLogger())
	assignment := f.assignment(t, 1, time.Now().Add(time.Hour))
	f.releasedSubmission(t, assignment.ID, 10, 50)

	summary, err := gradebook.StudentSummary(context.Background(), 10, assignment.ID)
	require.NoError(t, err)
	require.Equal(t, 50.0, summary.TotalScore)
	require.NoError(t, gradebook.Invalidate(context.Background(), 1, 2))

	empty, err := gradebook.StudentOverview(context.Background(), 11)
	require.NoError(t, err)
	require.Empty(t, empty.Entries)
	require.Zero(t, empty.Percentage)
}
