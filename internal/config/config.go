package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	DatabaseURL       string
	DatabaseDriver    string
	RedisURL          string
	NATSURL           string
	JWTSecret         string
	JWTIssuer         string
	JWTLeeway         time.Duration
	CORSOrigins       string
	AccessLog         bool
	BulkWorkers       int
	EventBuffer       int
	GradebookTTL      time.Duration
	EventChannelBase  string
	AutoFinalize      bool
	AutoGradeOnSubmit bool
	RateLimitMax      int
	RateLimitWindow   time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADING")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grading")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("bulk_workers", 8)
	v.SetDefault("event_buffer", 256)
	v.SetDefault("gradebook.cache_ttl", "5m")
	v.SetDefault("events.channel", "gema")
	v.SetDefault("auto_finalize", false)
	v.SetDefault("auto_grade_on_submit", true)
	v.SetDefault("rate_limit.max", 60)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("jwt.leeway", "30s")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("http.access_log", false)

	ttl, err := parseDuration(v.GetString("gradebook.cache_ttl"), 5*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid gradebook cache ttl: %w", err)
	}

	window, err := parseDuration(v.GetString("rate_limit.window"), time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid rate limit window: %w", err)
	}

	leeway, err := parseDuration(v.GetString("jwt.leeway"), 30*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid jwt leeway: %w", err)
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		DatabaseDriver:    strings.ToLower(v.GetString("database.driver")),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		JWTSecret:         v.GetString("jwt.secret"),
		JWTIssuer:         v.GetString("jwt.issuer"),
		JWTLeeway:         leeway,
		CORSOrigins:       v.GetString("cors.allow_origins"),
		AccessLog:         v.GetBool("http.access_log"),
		BulkWorkers:       v.GetInt("bulk_workers"),
		EventBuffer:       v.GetInt("event_buffer"),
		GradebookTTL:      ttl,
		EventChannelBase:  v.GetString("events.channel"),
		AutoFinalize:      v.GetBool("auto_finalize"),
		AutoGradeOnSubmit: v.GetBool("auto_grade_on_submit"),
		RateLimitMax:      v.GetInt("rate_limit.max"),
		RateLimitWindow:   window,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.BulkWorkers <= 0 {
		cfg.BulkWorkers = 8
	}

	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	return cfg, nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
