package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading/internal/events"
	"github.com/noah-isme/gema-grading/internal/models"
	"github.com/noah-isme/gema-grading/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Assignment{},
		&models.Question{},
		&models.Submission{},
		&models.Answer{},
		&models.SubmissionStateEvent{},
		&models.Grade{},
		&models.Appeal{},
		&models.ActivityLog{},
	))
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofKind(kind events.Kind) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	matched := make([]events.Event, 0)
	for _, event := range p.events {
		if event.EventKind() == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

type gradingFixture struct {
	db          *gorm.DB
	store       repository.Store
	assignments repository.AssignmentRepository
	publisher   *recordingPublisher
	ledger      GradeLedger
	workflow    SubmissionWorkflow
	appeals     AppealService
	bulk        BulkGradingService
}

func newGradingFixture(t *testing.T, cfg WorkflowConfig) *gradingFixture {
	t.Helper()

	db := newTestDB(t)
	store := repository.NewStore(db)
	assignments := repository.NewAssignmentRepository(db)
	publisher := &recordingPublisher{}
	ledger := NewGradeLedger(store, publisher, testLogger())

	return &gradingFixture{
		db:          db,
		store:       store,
		assignments: assignments,
		publisher:   publisher,
		ledger:      ledger,
		workflow:    NewSubmissionWorkflow(store, repository.NewQuestionRepository(db), assignments, ledger, publisher, cfg, testLogger()),
		appeals:     NewAppealService(store, ledger, assignments, publisher, testLogger()),
		bulk:        NewBulkGradingService(store, ledger, publisher, 4, testLogger()),
	}
}

func (f *gradingFixture) assignment(t *testing.T, instructorID uint, due time.Time) models.Assignment {
	t.Helper()
	assignment := models.Assignment{Title: "Unit test", InstructorID: instructorID, DueDate: due, MaxScore: 100}
	require.NoError(t, f.db.Create(&assignment).Error)
	return assignment
}

func (f *gradingFixture) submission(t *testing.T, assignmentID, userID uint, state models.SubmissionState) models.Submission {
	t.Helper()
	submission := models.Submission{AssignmentID: assignmentID, UserID: userID, State: state}
	require.NoError(t, f.db.Create(&submission).Error)
	return submission
}

func (f *gradingFixture) question(t *testing.T, assignmentID uint, kind models.QuestionType, key string, maxScore float64) models.Question {
	t.Helper()
	question := models.Question{AssignmentID: assignmentID, Type: kind, MaxScore: maxScore}
	if key != "" {
		question.AnswerKey = datatypes.JSON(key)
	}
	require.NoError(t, f.db.Create(&question).Error)
	return question
}

func (f *gradingFixture) answer(t *testing.T, submissionID, questionID uint, selected ...string) {
	t.Helper()
	answer := models.Answer{SubmissionID: submissionID, QuestionID: questionID, SelectedOptions: selected}
	require.NoError(t, f.db.Create(&answer).Error)
}

// gradedSubmission creates a submission in the graded state with a finalised grade.
func (f *gradingFixture) gradedSubmission(t *testing.T, assignmentID, userID uint, score float64) (models.Submission, models.Grade) {
	t.Helper()
	ctx := context.Background()
	submission := f.submission(t, assignmentID, userID, models.SubmissionStatePendingManualGrading)
	graded, grade, err := f.workflow.FinalizeManual(ctx, submission.ID, GradeInput{Score: score, MaxScore: 100}, 900)
	require.NoError(t, err)
	return graded, grade
}

// releasedSubmission creates a graded submission and releases its grade.
func (f *gradingFixture) releasedSubmission(t *testing.T, assignmentID, userID uint, score float64) (models.Submission, models.Grade) {
	t.Helper()
	submission, grade := f.gradedSubmission(t, assignmentID, userID, score)
	released, err := f.ledger.Release(context.Background(), grade.ID)
	require.NoError(t, err)
	return submission, released
}

func (f *gradingFixture) reloadSubmission(t *testing.T, id uint) models.Submission {
	t.Helper()
	submission, err := f.store.Submissions().GetByID(context.Background(), id)
	require.NoError(t, err)
	return submission
}

func (f *gradingFixture) reloadGrade(t *testing.T, id uint) models.Grade {
	t.Helper()
	grade, err := f.store.Grades().GetByID(context.Background(), id)
	require.NoError(t, err)
	return grade
}

func (f *gradingFixture) activityCount(t *testing.T, action string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.ActivityLog{}).Where("action = ?", action).Count(&count).Error)
	return count
}
