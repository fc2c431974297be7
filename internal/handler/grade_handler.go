package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading/internal/dto"
	"github.com/noah-isme/gema-grading/internal/service"
	"github.com/noah-isme/gema-grading/internal/utils"
)

// GradeHandler exposes ledger operations on existing grades.
type GradeHandler struct {
	ledger    service.GradeLedger
	bulk      service.BulkGradingService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGradeHandler constructs the handler.
func NewGradeHandler(ledger service.GradeLedger, bulk service.BulkGradingService, validator *validator.Validate, logger zerolog.Logger) *GradeHandler {
	return &GradeHandler{
		ledger:    ledger,
		bulk:      bulk,
		validator: validator,
		logger:    logger.With().Str("component", "grade_handler").Logger(),
	}
}

// Register attaches grade routes. Bulk routes are registered first so they win over /:id.
func (h *GradeHandler) Register(router fiber.Router, bulkLimiter fiber.Handler) {
	if bulkLimiter == nil {
		bulkLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	router.Post("/bulk/release", bulkLimiter, h.bulkRelease)
	router.Post("/bulk/feedback", bulkLimiter, h.bulkFeedback)
	router.Post("/:id/override", h.override)
	router.Post("/:id/release", h.release)
	router.Put("/:id/feedback", h.feedback)
}

func (h *GradeHandler) override(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.OverrideGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	grade, err := h.ledger.Override(c.UserContext(), id, payload.Score, payload.Reason, userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to override grade")
	}

	return utils.SendSuccess(c, "grade overridden", dto.NewGradeResponse(grade))
}

func (h *GradeHandler) release(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	grade, err := h.ledger.Release(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to release grade")
	}

	return utils.SendSuccess(c, "grade released", dto.NewGradeResponse(grade))
}

func (h *GradeHandler) feedback(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GradeFeedbackRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	grade, err := h.ledger.ApplyFeedback(c.UserContext(), id, payload.Feedback)
	if err != nil {
		return respondError(c, h.logger, err, "failed to apply feedback")
	}

	return utils.SendSuccess(c, "feedback applied", dto.NewGradeResponse(grade))
}

func (h *GradeHandler) bulkRelease(c *fiber.Ctx) error {
	var payload dto.BulkReleaseRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	report := h.bulk.BulkRelease(c.UserContext(), payload.GradeIDs)
	return utils.SendSuccess(c, "bulk release processed", newBatchReportResponse(report))
}

func (h *GradeHandler) bulkFeedback(c *fiber.Ctx) error {
	var payload dto.BulkFeedbackRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	report := h.bulk.BulkApplyFeedback(c.UserContext(), payload.GradeIDs, payload.Feedback)
	return utils.SendSuccess(c, "bulk feedback processed", newBatchReportResponse(report))
}

func newBatchReportResponse(report service.BatchReport) dto.BatchReportResponse {
	response := dto.BatchReportResponse{
		Succeeded: report.Succeeded,
		Failed:    make([]dto.BatchFailureResponse, 0, len(report.Failed)),
	}
	if response.Succeeded == nil {
		response.Succeeded = []uint{}
	}
	for _, failure := range report.Failed {
		response.Failed = append(response.Failed, dto.BatchFailureResponse{
			ID:        failure.ID,
			ErrorKind: string(failure.ErrorKind),
			Message:   failure.Message,
		})
	}
	return response
}
