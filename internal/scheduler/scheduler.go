package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"listing-enricher/internal/config"
	"listing-enricher/internal/pipeline"
)

// DefaultSpec is used when the configured run time cannot be parsed.
const DefaultSpec = "0 2 * * *"

// Runner is the job the scheduler triggers.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

// Scheduler handles scheduled enrichment runs
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	config    config.SchedulerConfig
	logger    *slog.Logger
	isRunning bool
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		config: cfg,
		logger: logger.With("component", "scheduler"),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	if !s.config.DailyRunEnabled {
		s.logger.Info("daily run is disabled in configuration")
		return nil
	}

	cronSpec := s.parseDailyRunTime(s.config.DailyRunTime)

	_, err := s.cron.AddFunc(cronSpec, func() {
		s.logger.Info("starting daily run")
		if err := s.RunNow(context.Background()); err != nil {
			s.logger.Error("daily run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule daily run: %w", err)
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.Info("scheduler started", "daily_run_time", s.config.DailyRunTime, "cron", cronSpec)

	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.isRunning {
		<-s.cron.Stop().Done()
		s.isRunning = false
		s.logger.Info("scheduler stopped")
	}
}

// RunNow immediately executes the enrichment run. A run already in
// progress is skipped without error.
func (s *Scheduler) RunNow(ctx context.Context) error {
	report, err := s.runner.Run(ctx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		s.logger.Warn("skipping run: previous run still in progress")
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("run completed",
		"run_id", report.RunID,
		"listings", report.Listings,
		"qualified", len(report.Qualified),
	)
	return nil
}

// parseDailyRunTime converts HH:MM format to cron specification
// Example: "02:00" -> "0 2 * * *" (run at 2:00 AM every day)
func (s *Scheduler) parseDailyRunTime(timeStr string) string {
	var hour, minute int
	n, _ := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute)
	if n == 2 && hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}

	s.logger.Warn("failed to parse daily run time, using default 02:00", "value", timeStr)
	return DefaultSpec
}
