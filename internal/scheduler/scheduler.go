// Package scheduler runs the scrape cycle on a fixed interval, one cycle at a time.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/turmoilwatch/internal/metrics"
	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

// ErrBusy is returned by TriggerNow while a cycle is already running.
var ErrBusy = errors.New("scheduler: cycle already running")

// Task executes one cycle.
type Task func(ctx context.Context) watch.CycleResult

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart controls whether Run fires a cycle before the first tick.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// Scheduler fires Task on an interval. A tick or manual trigger that arrives
// while a cycle is running is skipped, never queued.
type Scheduler struct {
	interval   time.Duration
	task       Task
	runOnStart bool
	logger     *zap.Logger

	busy    atomic.Bool
	mu      sync.RWMutex
	last    watch.CycleResult
	hasLast bool
}

// New creates a Scheduler.
func New(interval time.Duration, task Task, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if task == nil {
		return nil, errors.New("task is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Scheduler{
		interval:   interval,
		task:       task,
		runOnStart: true,
		logger:     logger.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run blocks, executing cycles until the context finishes.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Bool("run_on_start", s.runOnStart),
	)
	if s.runOnStart {
		s.tick(ctx, "start")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, "interval")
			s.drain(ticker.C)
		}
	}
}

// TriggerNow runs a cycle immediately unless one is already running.
func (s *Scheduler) TriggerNow(ctx context.Context) (watch.CycleResult, error) {
	result, ran := s.tryRun(ctx)
	if !ran {
		metrics.ObserveSkippedCycle()
		return watch.CycleResult{Outcome: watch.OutcomeSkipped}, ErrBusy
	}
	return result, nil
}

// Last returns the most recent completed cycle.
func (s *Scheduler) Last() (watch.CycleResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

// Busy reports whether a cycle is in flight.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Interval returns the configured cadence.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) tick(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	if _, ran := s.tryRun(ctx); !ran {
		metrics.ObserveSkippedCycle()
		s.logger.Warn("cycle skipped, previous still running", zap.String("reason", reason))
	}
}

func (s *Scheduler) tryRun(ctx context.Context) (watch.CycleResult, bool) {
	if !s.busy.CompareAndSwap(false, true) {
		return watch.CycleResult{}, false
	}
	defer s.busy.Store(false)

	result := s.task(ctx)
	s.mu.Lock()
	s.last = result
	s.hasLast = true
	s.mu.Unlock()
	return result, true
}

// drain discards a tick that piled up while a long cycle ran.
func (s *Scheduler) drain(c <-chan time.Time) {
	select {
	case <-c:
		metrics.ObserveSkippedCycle()
		s.logger.Warn("cycle skipped, previous overran the interval")
	default:
	}
}
