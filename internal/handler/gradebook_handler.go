package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading/internal/service"
	"github.com/noah-isme/gema-grading/internal/utils"
)

// GradebookHandler serves released grade rollups. Students only see their own.
type GradebookHandler struct {
	service service.GradebookService
	logger  zerolog.Logger
}

// NewGradebookHandler constructs the handler.
func NewGradebookHandler(service service.GradebookService, logger zerolog.Logger) *GradebookHandler {
	return &GradebookHandler{
		service: service,
		logger:  logger.With().Str("component", "gradebook_handler").Logger(),
	}
}

// Register attaches gradebook routes to the router group.
func (h *GradebookHandler) Register(router fiber.Router) {
	router.Get("/students/:id", h.overview)
	router.Get("/students/:id/assignments/:assignmentId", h.assignment)
}

func (h *GradebookHandler) authorizedStudent(c *fiber.Ctx) (uint, bool, error) {
	studentID, err := parseUintParam(c, "id")
	if err != nil {
		return 0, false, utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if !isInstructor(c) && userIDFromContext(c) != studentID {
		return 0, false, utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}
	return studentID, true, nil
}

func (h *GradebookHandler) overview(c *fiber.Ctx) error {
	studentID, ok, err := h.authorizedStudent(c)
	if !ok {
		return err
	}

	summary, err := h.service.StudentOverview(c.UserContext(), studentID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to load gradebook")
	}

	return utils.SendSuccess(c, "gradebook retrieved", summary)
}

func (h *GradebookHandler) assignment(c *fiber.Ctx) error {
	studentID, ok, err := h.authorizedStudent(c)
	if !ok {
		return err
	}

	assignmentID, err := parseUintParam(c, "assignmentId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	summary, err := h.service.StudentSummary(c.UserContext(), studentID, assignmentID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to load gradebook")
	}

	return utils.SendSuccess(c, "gradebook retrieved", summary)
}
