package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading/internal/config"
	"github.com/noah-isme/gema-grading/internal/handler"
	"github.com/noah-isme/gema-grading/internal/models"
	"github.com/noah-isme/gema-grading/internal/repository"
	"github.com/noah-isme/gema-grading/internal/router"
	"github.com/noah-isme/gema-grading/internal/service"
)

const (
	instructorID uint = 1
	studentID    uint = 10
)

type gradingApp struct {
	app *fiber.App
	db  *gorm.DB
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details map[string]any  `json:"details"`
}

func setupGradingApp(t *testing.T) *gradingApp {
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

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	store := repository.NewStore(db)
	assignments := repository.NewAssignmentRepository(db)
	grades := repository.NewGradeRepository(db)
	ledger := service.NewGradeLedger(store, nil, logger)
	workflow := service.NewSubmissionWorkflow(store, repository.NewQuestionRepository(db), assignments, ledger, nil, service.WorkflowConfig{AutoFinalize: true}, logger)
	appeals := service.NewAppealService(store, ledger, assignments, nil, logger)
	bulk := service.NewBulkGradingService(store, ledger, nil, 2, logger)
	gradebook := service.NewGradebookService(grades, nil, time.Minute, logger)
	activity := service.NewActivityService(repository.NewActivityLogRepository(db), logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionGradingHandler(workflow, ledger, validate, logger),
		GradeHandler:      handler.NewGradeHandler(ledger, bulk, validate, logger),
		AppealHandler:     handler.NewAppealHandler(appeals, validate, logger),
		GradebookHandler:  handler.NewGradebookHandler(gradebook, logger),
		ActivityHandler:   handler.NewActivityHandler(activity, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if id, err := strconv.ParseUint(c.Get("X-Test-User"), 10, 64); err == nil {
				c.Locals("user_id", uint(id))
			}
			c.Locals("user_role", c.Get("X-Test-Role"))
			return c.Next()
		},
	})

	return &gradingApp{app: app, db: db}
}

func (g *gradingApp) do(t *testing.T, method, path string, userID uint, role string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", strconv.FormatUint(uint64(userID), 10))
	req.Header.Set("X-Test-Role", role)

	resp, err := g.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (g *gradingApp) seedQuiz(t *testing.T) (models.Assignment, models.Submission) {
	t.Helper()
	assignment := models.Assignment{Title: "Quiz 1", InstructorID: instructorID, DueDate: time.Now().Add(time.Hour), MaxScore: 10}
	require.NoError(t, g.db.Create(&assignment).Error)

	right := models.Question{AssignmentID: assignment.ID, Type: models.QuestionTypeMultipleChoice, AnswerKey: datatypes.JSON(`{"correct":"a"}`), MaxScore: 5}
	wrong := models.Question{AssignmentID: assignment.ID, Type: models.QuestionTypeMultipleChoice, AnswerKey: datatypes.JSON(`{"correct":"b"}`), MaxScore: 5}
	require.NoError(t, g.db.Create(&right).Error)
	require.NoError(t, g.db.Create(&wrong).Error)

	submission := models.Submission{AssignmentID: assignment.ID, UserID: studentID, State: models.SubmissionStateDraft}
	require.NoError(t, g.db.Create(&submission).Error)
	require.NoError(t, g.db.Create(&models.Answer{SubmissionID: submission.ID, QuestionID: right.ID, SelectedOptions: []string{"a"}}).Error)
	require.NoError(t, g.db.Create(&models.Answer{SubmissionID: submission.ID, QuestionID: wrong.ID, SelectedOptions: []string{"c"}}).Error)
	return assignment, submission
}

func TestGradingLifecycleOverHTTP(t *testing.T) {
	g := setupGradingApp(t)
	assignment, submission := g.seedQuiz(t)
	base := fmt.Sprintf("/api/v2/grading/submissions/%d", submission.ID)

	status, body := g.do(t, http.MethodPost, base+"/submit", studentID, "student", nil)
	require.Equal(t, http.StatusOK, status, body.Message)

	status, body = g.do(t, http.MethodPost, base+"/auto-grade", instructorID, "teacher", nil)
	require.Equal(t, http.StatusOK, status, body.Message)
	var graded struct {
		Score      float64 `json:"score"`
		Submission struct {
			State string `json:"state"`
		} `json:"submission"`
		Grade struct {
			ID uint `json:"id"`
		} `json:"grade"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &graded))
	require.Equal(t, 5.0, graded.Score)
	require.Equal(t, string(models.SubmissionStateGraded), graded.Submission.State)

	// unreleased grades cannot be appealed
	status, body = g.do(t, http.MethodPost, "/api/v2/grading/appeals", studentID, "student", map[string]any{
		"submission_id": submission.ID,
		"reason":        "question two accepts c",
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, string(service.KindConflict), body.Details["error_kind"])

	status, _ = g.do(t, http.MethodPost, fmt.Sprintf("/api/v2/grading/grades/%d/release", graded.Grade.ID), instructorID, "admin", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = g.do(t, http.MethodGet, fmt.Sprintf("/api/v2/grading/gradebook/students/%d/assignments/%d", studentID, assignment.ID), studentID, "student", nil)
	require.Equal(t, http.StatusOK, status)
	var summary struct {
		TotalScore float64 `json:"total_score"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &summary))
	require.Equal(t, 5.0, summary.TotalScore)

	status, body = g.do(t, http.MethodPost, "/api/v2/grading/appeals", studentID, "student", map[string]any{
		"submission_id": submission.ID,
		"reason":        "question two accepts c",
	})
	require.Equal(t, http.StatusCreated, status, body.Message)
	var appeal struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &appeal))

	status, body = g.do(t, http.MethodGet, "/api/v2/grading/appeals/pending", instructorID, "teacher", nil)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, fmt.Sprintf(`[%d]`, appeal.ID), idsOf(t, body.Data))

	status, body = g.do(t, http.MethodPost, fmt.Sprintf("/api/v2/grading/appeals/%d/approve", appeal.ID), instructorID, "teacher", map[string]any{
		"decision_reason": "both options are defensible",
		"new_score":       10,
	})
	require.Equal(t, http.StatusOK, status, body.Message)
	var decision struct {
		Grade struct {
			Score         float64  `json:"score"`
			OriginalScore *float64 `json:"original_score"`
		} `json:"grade"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &decision))
	require.Equal(t, 10.0, decision.Grade.Score)
	require.Equal(t, 5.0, *decision.Grade.OriginalScore)

	status, body = g.do(t, http.MethodGet, base+"/history", instructorID, "teacher", nil)
	require.Equal(t, http.StatusOK, status)
	var history []struct {
		ToState string `json:"to_state"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &history))
	require.Len(t, history, 4)
	require.Equal(t, string(models.SubmissionStateReleased), history[3].ToState)

	status, body = g.do(t, http.MethodGet, "/api/v2/grading/activity?action=appeal.approved", instructorID, "admin", nil)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, fmt.Sprintf(`[%d]`, appeal.ID), entityIDsOf(t, body.Data))
}

func idsOf(t *testing.T, data json.RawMessage) string {
	t.Helper()
	var items []struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &items))
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	encoded, err := json.Marshal(ids)
	require.NoError(t, err)
	return string(encoded)
}

func entityIDsOf(t *testing.T, data json.RawMessage) string {
	t.Helper()
	var items []struct {
		EntityID uint `json:"entity_id"`
	}
	require.NoError(t, json.Unmarshal(data, &items))
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.EntityID)
	}
	encoded, err := json.Marshal(ids)
	require.NoError(t, err)
	return string(encoded)
}

func TestGradingRoutesEnforceRoles(t *testing.T) {
	g := setupGradingApp(t)
	_, submission := g.seedQuiz(t)

	status, _ := g.do(t, http.MethodPost, fmt.Sprintf("/api/v2/grading/submissions/%d/auto-grade", submission.ID), studentID, "student", nil)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = g.do(t, http.MethodPost, fmt.Sprintf("/api/v2/grading/submissions/%d/submit", submission.ID), instructorID, "teacher", nil)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = g.do(t, http.MethodPost, "/api/v2/grading/grades/1/release", studentID, "student", nil)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = g.do(t, http.MethodGet, "/api/v2/grading/gradebook/students/11", studentID, "student", nil)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = g.do(t, http.MethodGet, fmt.Sprintf("/api/v2/grading/gradebook/students/%d", studentID), instructorID, "teacher", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = g.do(t, http.MethodGet, "/api/v2/grading/activity", studentID, "student", nil)
	require.Equal(t, http.StatusForbidden, status)
}

func TestGradingErrorsMapToStatusCodes(t *testing.T) {
	g := setupGradingApp(t)
	_, submission := g.seedQuiz(t)

	status, body := g.do(t, http.MethodPost, fmt.Sprintf("/api/v2/grading/submissions/%d/auto-grade", submission.ID), instructorID, "teacher", nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, string(service.KindInvalidTransition), body.Details["error_kind"])

	status, body = g.do(t, http.MethodPost, "/api/v2/grading/submissions/999/submit", studentID, "student", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, string(service.KindNotFound), body.Details["error_kind"])

	status, _ = g.do(t, http.MethodPost, "/api/v2/grading/submissions/abc/submit", studentID, "student", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, body = g.do(t, http.MethodPost, "/api/v2/grading/grades/1/override", instructorID, "teacher", map[string]any{"score": 5})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, string(service.KindValidation), body.Details["error_kind"])

	draft := models.Grade{SourceType: models.GradeSourceAssignment, SourceID: submission.AssignmentID, SubmissionID: &submission.ID, UserID: studentID, GradedBy: instructorID, IsDraft: true, Status: models.GradeStatusPending}
	require.NoError(t, g.db.Create(&draft).Error)
	status, body = g.do(t, http.MethodPost, fmt.Sprintf("/api/v2/grading/grades/%d/release", draft.ID), instructorID, "teacher", nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, string(service.KindInvalidState), body.Details["error_kind"])

	matching := models.Question{AssignmentID: submission.AssignmentID, Type: models.QuestionType("matching"), MaxScore: 1}
	require.NoError(t, g.db.Create(&matching).Error)
	status, _ = g.do(t, http.MethodPost, fmt.Sprintf("/api/v2/grading/submissions/%d/submit", submission.ID), studentID, "student", nil)
	require.Equal(t, http.StatusOK, status)
	status, body = g.do(t, http.MethodPost, fmt.Sprintf("/api/v2/grading/submissions/%d/auto-grade", submission.ID), instructorID, "teacher", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, string(service.KindConfiguration), body.Details["error_kind"])
	require.Equal(t, "failed to auto-grade submission", body.Message)
}

func TestBulkReleaseOverHTTP(t *testing.T) {
	g := setupGradingApp(t)
	_, submission := g.seedQuiz(t)
	base := fmt.Sprintf("/api/v2/grading/submissions/%d", submission.ID)

	status, _ := g.do(t, http.MethodPost, base+"/submit", studentID, "student", nil)
	require.Equal(t, http.StatusOK, status)
	status, body := g.do(t, http.MethodPost, base+"/auto-grade", instructorID, "teacher", nil)
	require.Equal(t, http.StatusOK, status)
	var graded struct {
		Grade struct {
			ID uint `json:"id"`
		} `json:"grade"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &graded))

	status, _ = g.do(t, http.MethodPost, "/api/v2/grading/grades/bulk/release", instructorID, "teacher", map[string]any{"grade_ids": []uint{}})
	require.Equal(t, http.StatusBadRequest, status)

	status, body = g.do(t, http.MethodPost, "/api/v2/grading/grades/bulk/release", instructorID, "teacher", map[string]any{"grade_ids": []uint{graded.Grade.ID, 404}})
	require.Equal(t, http.StatusOK, status)
	var report struct {
		Succeeded []uint `json:"succeeded"`
		Failed    []struct {
			ID        uint   `json:"id"`
			ErrorKind string `json:"error_kind"`
		} `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &report))
	require.Equal(t, []uint{graded.Grade.ID}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	require.Equal(t, uint(404), report.Failed[0].ID)
	require.Equal(t, string(service.KindNotFound), report.Failed[0].ErrorKind)
}
