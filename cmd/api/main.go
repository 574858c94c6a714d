package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"listing-enricher/internal/app"
	"listing-enricher/internal/config"
	"listing-enricher/internal/handlers"
	"listing-enricher/internal/ratelimit"
	"listing-enricher/internal/scheduler"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	configPath := getEnv("CONFIG_PATH", "./config/enricher.yaml")
	appConfig, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", configPath, err)
	}

	application, err := app.New(ctx, appConfig, app.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			application.Logger.Error("failed to close resources", "error", err)
		}
	}()
	logger := application.Logger
	logger.Info("loaded configuration", "path", configPath)

	// Daily run
	if appConfig.Scheduler.DailyRunEnabled {
		appScheduler := scheduler.NewScheduler(application.Runner, appConfig.Scheduler, logger)
		if err := appScheduler.Start(); err != nil {
			logger.Warn("failed to start scheduler", "error", err)
		} else {
			defer appScheduler.Stop()
		}
	}

	// Manual triggers are limited separately from outbound lookups
	triggerLimiter := ratelimit.NewRateLimiter(appConfig.Server.TriggerRequestsPerMinute, 0, 0, true)

	// Setup Gin router
	r := gin.Default()

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     appConfig.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))

	deps := handlers.Deps{
		Runner:   application.Runner,
		Cache:    application.Cache,
		Criteria: application.Filter.Criteria(),
		Limiter:  triggerLimiter,
		Breaker:  application.Breaker,
		Context:  ctx,
		Logger:   logger,
	}
	if application.Search != nil {
		deps.Searcher = application.Search
	}
	handlers.NewHandler(deps).Register(r)

	srv := &http.Server{
		Addr:    ":" + appConfig.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("server starting", "port", appConfig.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
