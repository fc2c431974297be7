package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading/internal/config"
	"github.com/noah-isme/gema-grading/internal/handler"
	"github.com/noah-isme/gema-grading/internal/middleware"
	"github.com/noah-isme/gema-grading/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler *handler.SubmissionGradingHandler
	GradeHandler      *handler.GradeHandler
	AppealHandler     *handler.AppealHandler
	GradebookHandler  *handler.GradebookHandler
	ActivityHandler   *handler.ActivityHandler
	HealthChecks      []handler.DependencyCheck
	JWTMiddleware     fiber.Handler
	BulkLimiter       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks...))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	grading := app.Group("/api/v2/grading", jwtMiddleware)
	student := middleware.RequireStudent()
	instructor := middleware.RequireInstructor()

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(grading.Group("/submissions"), student, instructor)
	}

	if deps.GradeHandler != nil {
		deps.GradeHandler.Register(grading.Group("/grades", instructor), deps.BulkLimiter)
	}

	if deps.AppealHandler != nil {
		deps.AppealHandler.Register(grading.Group("/appeals"), student, instructor)
	}

	if deps.GradebookHandler != nil {
		deps.GradebookHandler.Register(grading.Group("/gradebook", middleware.RequireAuthenticated()))
	}

	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(grading.Group("/activity", instructor))
	}
}
