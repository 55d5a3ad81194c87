package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the pause between two poll cycles.
const DefaultInterval = 15 * time.Second

// CycleRunner is what the Scheduler drives; *Poller implements it.
type CycleRunner interface {
	RunCycle(ctx context.Context)
}

// Scheduler runs cycles on one goroutine, sleeping the full interval after
// each cycle ends.
// It can be started once per process.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	logger   *slog.Logger

	started atomic.Bool
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a Scheduler. A non-positive interval uses DefaultInterval.
func NewScheduler(runner CycleRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Start launches the loop; the first cycle runs immediately. It returns false
// if the scheduler was already started. The loop ends when ctx is cancelled
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) bool {
	if !s.started.CompareAndSwap(false, true) {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.running.Store(true)
	go s.run(loopCtx, done)

	s.logger.Info("Poll scheduler started", "interval", s.interval)
	return true
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		s.runCycle(ctx)

		// The pause starts when the cycle ends, however long it took.
		timer.Reset(s.interval)
		select {
		case <-ctx.Done():
			s.logger.Info("Poll scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// runCycle guards the loop against a runner that panics.
func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic in poll scheduler", "panic", r)
		}
	}()
	s.runner.RunCycle(ctx)
}

// Stop cancels the loop and waits for the in-flight cycle to finish, or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the loop goroutine is alive.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}
