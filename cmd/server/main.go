package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/busfleet/backend/internal/delivery/http"
	"github.com/busfleet/backend/internal/repository/postgres"
	"github.com/busfleet/backend/internal/service"
	"github.com/busfleet/backend/internal/sse"
	"github.com/busfleet/backend/pkg/logger"
)

func main() {
	// Load environment variables; without a .env file the system
	// environment is used as-is
	_ = godotenv.Load()

	cfg, err := loadConfig()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Console: true, FilePath: cfg.LogFile})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo service.Repository
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}
		defer pool.Close()
		log.Info().Msg("connected to PostgreSQL")
		repo = postgres.NewPostgresRepository(pool)
	} else {
		log.Warn().Msg("no DATABASE_URL, running with in-memory store")
		repo = postgres.NewMemoryRepository()
	}

	// Push fan-out registry: one per process, torn down at shutdown
	hub := sse.NewHub(log)

	// Dependency Injection: Services
	etaSvc := service.NewETAService(repo, repo, hub, log)
	deviceSvc := service.NewDeviceService(repo, etaSvc, log)
	messageSvc := service.NewMessageService(repo, hub, log)

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:     "BusFleet API v1.0",
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: SSE responses stay open indefinitely.
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Routes
	handler := http.NewHandler(deviceSvc, messageSvc, repo, hub, log)
	http.SetupRoutes(app, handler)

	// Graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	hub.Close()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

type Config struct {
	DatabaseURL string
	Port        string `validate:"required,numeric"`
	LogLevel    string
	LogFile     string
	Env         string
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		Env:         getEnv("GO_ENV", "development"),
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
