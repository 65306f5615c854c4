package scheduler

import (
	"context"
	"log/slog"
	"time"

	"video_archiver/internal/domain"
)

// Runner performs one archive pass.
type Runner interface {
	Run(ctx context.Context) (*domain.RunReport, error)
}

type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(runner Runner, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// RunOnce performs a single pass bounded by the run timeout.
func (s *Scheduler) RunOnce(ctx context.Context) (*domain.RunReport, error) {
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}
	return s.runner.Run(ctx)
}

// Start runs a pass immediately and then on every tick until ctx is done.
// Failed passes are logged; the next tick starts a fresh pass. Without an
// interval it runs a single pass.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		_, err := s.RunOnce(ctx)
		return err
	}

	s.logger.Info("scheduler started", "interval", s.interval)

	s.runPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("run failed", "error", err)
		return
	}
	if report.Failed() {
		s.logger.Warn("run finished with failures",
			"run_id", report.RunID,
			"failures", len(report.Failures),
		)
	}
}
