package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading/internal/dto"
	"github.com/noah-isme/gema-grading/internal/service"
	"github.com/noah-isme/gema-grading/internal/utils"
)

// AppealHandler exposes grade appeal endpoints.
type AppealHandler struct {
	service   service.AppealService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAppealHandler constructs the handler.
func NewAppealHandler(service service.AppealService, validator *validator.Validate, logger zerolog.Logger) *AppealHandler {
	return &AppealHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "appeal_handler").Logger(),
	}
}

// Register attaches appeal routes. Filing is guarded by studentOnly, decisions by instructorOnly.
func (h *AppealHandler) Register(router fiber.Router, studentOnly, instructorOnly fiber.Handler) {
	router.Post("", studentOnly, h.create)
	router.Get("/mine", studentOnly, h.mine)
	router.Get("/pending", instructorOnly, h.pending)
	router.Post("/:id/approve", instructorOnly, h.approve)
	router.Post("/:id/deny", instructorOnly, h.deny)
}

func (h *AppealHandler) create(c *fiber.Ctx) error {
	var payload dto.AppealCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	appeal, err := h.service.Submit(c.UserContext(), payload.SubmissionID, userIDFromContext(c), payload.Reason, payload.SupportingDocuments)
	if err != nil {
		return respondError(c, h.logger, err, "failed to submit appeal")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "appeal submitted", dto.NewAppealResponse(appeal))
}

func (h *AppealHandler) mine(c *fiber.Ctx) error {
	appeals, err := h.service.ListForStudent(c.UserContext(), userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to list appeals")
	}

	return utils.SendSuccess(c, "appeals retrieved", dto.NewAppealResponses(appeals))
}

func (h *AppealHandler) pending(c *fiber.Ctx) error {
	appeals, err := h.service.ListPendingForInstructor(c.UserContext(), userIDFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to list pending appeals")
	}

	return utils.SendSuccess(c, "pending appeals", dto.NewAppealResponses(appeals))
}

func (h *AppealHandler) approve(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AppealApproveRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	appeal, grade, err := h.service.Approve(c.UserContext(), id, userIDFromContext(c), payload.DecisionReason, payload.NewScore)
	if err != nil {
		return respondError(c, h.logger, err, "failed to approve appeal")
	}

	return utils.SendSuccess(c, "appeal approved", dto.AppealDecisionResponse{
		Appeal: dto.NewAppealResponse(appeal),
		Grade:  dto.NewGradeResponse(grade),
	})
}

func (h *AppealHandler) deny(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AppealDenyRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	appeal, err := h.service.Deny(c.UserContext(), id, userIDFromContext(c), payload.DecisionReason)
	if err != nil {
		return respondError(c, h.logger, err, "failed to deny appeal")
	}

	return utils.SendSuccess(c, "appeal denied", dto.NewAppealResponse(appeal))
}
