package updater

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler interval bounds. The host OS trigger granularity for periodic
// work sits in this window; values outside it are clamped.
const (
	MinSchedulerInterval = 20 * time.Minute
	MaxSchedulerInterval = 24 * time.Hour

	// DefaultBackgroundBudget bounds one non-interactive sync cycle.
	// A cycle exceeding it is treated as a retryable failure, not a crash.
	DefaultBackgroundBudget = 9 * time.Minute

	// maxBackoffDoublings caps the exponential backoff applied after
	// consecutive failed cycles.
	maxBackoffDoublings = 4
)

// SchedulerConfig configures the background check loop.
type SchedulerConfig struct {
	Interval time.Duration
	Budget   time.Duration
}

func (c SchedulerConfig) normalized() SchedulerConfig {
	if c.Interval < MinSchedulerInterval {
		c.Interval = MinSchedulerInterval
	}
	if c.Interval > MaxSchedulerInterval {
		c.Interval = MaxSchedulerInterval
	}
	if c.Budget <= 0 {
		c.Budget = DefaultBackgroundBudget
	}
	return c
}

// backgroundChecker is the slice of the manager the scheduler drives.
type backgroundChecker interface {
	CheckForUpdatesToLocalContent(ctx context.Context) *Request
	CheckForBundle(ctx context.Context, buildTimestamp int64) *Request
}

// Scheduler periodically runs the delta-from-local-content flow. The
// pipeline itself performs no retries; failed cycles back off exponentially
// up to a bounded multiple of the base interval and reset on success.
type Scheduler struct {
	manager  backgroundChecker
	interval time.Duration
	budget   time.Duration
	log      *slog.Logger
}

// NewScheduler builds a scheduler over the given manager.
func NewScheduler(manager backgroundChecker, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	cfg = cfg.normalized()
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		manager:  manager,
		interval: cfg.Interval,
		budget:   cfg.Budget,
		log:      log,
	}
}

// Run blocks until ctx is cancelled, executing one check cycle per delay
// period. The first cycle runs after a full interval; interactive callers
// trigger immediate syncs through the Manager API instead.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("background update scheduler started",
		"component", "scheduler",
		"action", "scheduler_started",
		"interval", s.interval.String(),
		"budget", s.budget.String(),
	)

	var failures int
	delay := s.interval

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("background update scheduler stopped",
				"component", "scheduler",
				"action", "scheduler_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-timer.C:
		}

		if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
			failures++
			delay = s.backoff(failures)
			s.log.Warn("background sync cycle failed",
				"component", "scheduler",
				"action", "cycle_failed",
				"failures", failures,
				"next_attempt_in", delay.String(),
				"error", err,
			)
		} else {
			failures = 0
			delay = s.interval
		}

		timer.Reset(delay)
	}
}

// runOnce performs one budget-bounded check cycle. When no local content
// exists it falls back to a full bundle request.
func (s *Scheduler) runOnce(ctx context.Context) error {
	cycleCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	req := s.manager.CheckForUpdatesToLocalContent(cycleCtx)
	err := req.Wait(cycleCtx)
	if errors.Is(err, ErrNoLocalContent) {
		s.log.Info("no local content, falling back to full bundle",
			"component", "scheduler",
			"action", "full_bundle_fallback",
		)
		req = s.manager.CheckForBundle(cycleCtx, 0)
		err = req.Wait(cycleCtx)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New("background sync exceeded its budget")
	}
	return err
}

func (s *Scheduler) backoff(failures int) time.Duration {
	shift := failures
	if shift > maxBackoffDoublings {
		shift = maxBackoffDoublings
	}
	return s.interval << shift
}
