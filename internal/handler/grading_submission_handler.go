package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading/internal/dto"
	"github.com/noah-isme/gema-grading/internal/service"
	"github.com/noah-isme/gema-grading/internal/utils"
)

// SubmissionGradingHandler exposes the submission lifecycle.
type SubmissionGradingHandler struct {
	workflow  service.SubmissionWorkflow
	ledger    service.GradeLedger
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSubmissionGradingHandler constructs the handler.
func NewSubmissionGradingHandler(workflow service.SubmissionWorkflow, ledger service.GradeLedger, validator *validator.Validate, logger zerolog.Logger) *SubmissionGradingHandler {
	return &SubmissionGradingHandler{
		workflow:  workflow,
		ledger:    ledger,
		validator: validator,
		logger:    logger.With().Str("component", "submission_grading_handler").Logger(),
	}
}

// Register attaches submission routes. Submitting is guarded by studentOnly, grading by instructorOnly.
func (h *SubmissionGradingHandler) Register(router fiber.Router, studentOnly, instructorOnly fiber.Handler) {
	router.Post("/:id/submit", studentOnly, h.submit)
	router.Post("/:id/auto-grade", instructorOnly, h.autoGrade)
	router.Post("/:id/finalize", instructorOnly, h.finalize)
	router.Post("/:id/confirm", instructorOnly, h.confirm)
	router.Post("/:id/return", instructorOnly, h.returnToQueue)
	router.Put("/:id/draft", instructorOnly, h.saveDraft)
	router.Get("/:id/history", instructorOnly, h.history)
}

func (h *SubmissionGradingHandler) submit(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.workflow.Submit(c.UserContext(), id, userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to submit")
	}

	return utils.SendSuccess(c, "submission submitted", dto.NewSubmissionStateResponse(submission))
}

func (h *SubmissionGradingHandler) autoGrade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.workflow.AutoGrade(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to auto-grade submission")
	}

	response := dto.AutoGradeResponse{
		Submission:      dto.NewSubmissionStateResponse(result.Submission),
		Score:           result.Outcome.Score,
		MaxScore:        result.Outcome.MaxScore,
		ManualQuestions: result.Outcome.ManualNeeded,
	}
	if response.ManualQuestions == nil {
		response.ManualQuestions = []uint{}
	}
	if result.Grade != nil {
		grade := dto.NewGradeResponse(*result.Grade)
		response.Grade = &grade
	}

	return utils.SendSuccess(c, "submission auto-graded", response)
}

func (h *SubmissionGradingHandler) finalize(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.FinalizeSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	input := service.GradeInput{Score: payload.Score, MaxScore: payload.MaxScore, Feedback: payload.Feedback}
	submission, grade, err := h.workflow.FinalizeManual(c.UserContext(), id, input, userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to finalize submission")
	}

	return utils.SendSuccess(c, "submission graded", dto.FinalizeResponse{
		Submission: dto.NewSubmissionStateResponse(submission),
		Grade:      dto.NewGradeResponse(grade),
	})
}

func (h *SubmissionGradingHandler) confirm(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	actorID := userIDFromContext(c)
	submission, err := h.workflow.FinalizeAuto(c.UserContext(), id, &actorID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to confirm auto grade")
	}

	return utils.SendSuccess(c, "submission graded", dto.NewSubmissionStateResponse(submission))
}

func (h *SubmissionGradingHandler) returnToQueue(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.workflow.ReturnToQueue(c.UserContext(), id, userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to return submission")
	}

	return utils.SendSuccess(c, "submission returned to queue", dto.NewSubmissionStateResponse(submission))
}

func (h *SubmissionGradingHandler) saveDraft(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.DraftGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	draft, err := h.ledger.SaveDraft(c.UserContext(), id, userIDFromContext(c), payload.PartialGrades, payload.Feedback)
	if err != nil {
		return respondError(c, h.logger, err, "failed to save draft")
	}

	return utils.SendSuccess(c, "draft saved", dto.NewGradeResponse(draft))
}

func (h *SubmissionGradingHandler) history(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	history, err := h.workflow.History(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to load submission history")
	}

	return utils.SendSuccess(c, "submission history", dto.NewStateEventResponses(history))
}
