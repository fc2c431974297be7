package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading/internal/config"
	"github.com/noah-isme/gema-grading/internal/database"
	"github.com/noah-isme/gema-grading/internal/events"
	"github.com/noah-isme/gema-grading/internal/handler"
	"github.com/noah-isme/gema-grading/internal/middleware"
	"github.com/noah-isme/gema-grading/internal/models"
	"github.com/noah-isme/gema-grading/internal/repository"
	"github.com/noah-isme/gema-grading/internal/router"
	"github.com/noah-isme/gema-grading/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Assignment{},
		&models.Question{},
		&models.Submission{},
		&models.Answer{},
		&models.SubmissionStateEvent{},
		&models.Grade{},
		&models.Appeal{},
		&models.ActivityLog{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	dispatcher := events.NewDispatcher(cfg.EventBuffer, logger)
	if redisClient != nil {
		dispatcher.Subscribe(events.NewRedisSink(redisClient, cfg.EventChannelBase))
	}
	if cfg.NATSURL != "" {
		conn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer conn.Drain()
		dispatcher.Subscribe(events.NewNATSSink(conn, cfg.EventChannelBase))
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	store := repository.NewStore(db)
	questionRepo := repository.NewQuestionRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	ledger := service.NewGradeLedger(store, dispatcher, logger)
	workflow := service.NewSubmissionWorkflow(store, questionRepo, assignmentRepo, ledger, dispatcher, service.WorkflowConfig{
		AutoFinalize:      cfg.AutoFinalize,
		AutoGradeOnSubmit: cfg.AutoGradeOnSubmit,
	}, logger)
	appealService := service.NewAppealService(store, ledger, assignmentRepo, dispatcher, logger)
	bulkService := service.NewBulkGradingService(store, ledger, dispatcher, cfg.BulkWorkers, logger)
	gradebookService := service.NewGradebookService(store.Grades(), redisClient, cfg.GradebookTTL, logger)
	activityService := service.NewActivityService(activityRepo, logger)

	dispatcher.Subscribe(gradebookService.Sink())

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatcher.Start(dispatchCtx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:       logger,
		AllowOrigins: cfg.CORSOrigins,
		AccessLog:    cfg.AccessLog,
	})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionGradingHandler(workflow, ledger, validate, logger),
		GradeHandler:      handler.NewGradeHandler(ledger, bulkService, validate, logger),
		AppealHandler:     handler.NewAppealHandler(appealService, validate, logger),
		GradebookHandler:  handler.NewGradebookHandler(gradebookService, logger),
		ActivityHandler:   handler.NewActivityHandler(activityService, logger),
		HealthChecks:      healthChecks(db, redisClient),
		JWTMiddleware: middleware.JWTProtected(middleware.JWTConfig{
			Secret: cfg.JWTSecret,
			Issuer: cfg.JWTIssuer,
			Leeway: cfg.JWTLeeway,
		}),
		BulkLimiter: middleware.RateLimit(middleware.RateLimitConfig{
			Name:   "grading-bulk",
			Max:    cfg.RateLimitMax,
			Window: cfg.RateLimitWindow,
		}),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)

	// drain queued events before the connections close
	dispatcher.Close()
	stopDispatch()
}

func healthChecks(db *gorm.DB, redisClient *redis.Client) []handler.DependencyCheck {
	checks := []handler.DependencyCheck{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if redisClient != nil {
		checks = append(checks, handler.DependencyCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	return checks
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
