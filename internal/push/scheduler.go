package push

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DrainRunner runs one drain pass.
type DrainRunner interface {
	Drain(ctx context.Context) (Summary, error)
}

// Scheduler invokes the drain loop on a fixed interval from inside the process.
type Scheduler struct {
	interval time.Duration
	runner   DrainRunner

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new drain scheduler.
func NewScheduler(interval time.Duration, runner DrainRunner) *Scheduler {
	return &Scheduler{
		interval: interval,
		runner:   runner,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scheduler goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("starting drain scheduler", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("drain scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.runner.Drain(ctx); err != nil {
		slog.Error("scheduled drain failed", "error", err)
	}
}
