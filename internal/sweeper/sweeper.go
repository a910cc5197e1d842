// Package sweeper provides cron-based re-enqueueing of pending messages.
// It is the crash-recovery path run continuously: any message still
// pending that the pipeline is not tracking gets put back on its queue.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ResumeFunc re-enqueues untracked pending messages and returns how many
// were picked up.
type ResumeFunc func(ctx context.Context) (int, error)

// Status reports the sweeper's last run.
type Status struct {
	Running   bool      `json:"running"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Sweeper runs the resume callback on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	resume   ResumeFunc
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	running bool
	lastRun time.Time
	lastErr error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a Sweeper with the given cron expression and callback.
// Returns an error if the expression is invalid.
func New(schedule string, resume ResumeFunc) (*Sweeper, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		resume:   resume,
		schedule: schedule,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.mu.Lock()
		if s.stopped || s.running {
			s.mu.Unlock()
			return
		}
		s.running = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runSweep()
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	s.entryID = entryID
	return s, nil
}

// WithLogger sets the logger for the sweeper.
func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	s.logger = logger
	return s
}

// Start begins executing scheduled sweeps.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started", "schedule", s.schedule)
}

// Stop gracefully stops the sweeper and waits for a running sweep.
// Returns a context that is done when all work completes.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// TriggerNow manually runs a sweep outside the schedule.
// Returns an error if a sweep is already running or the sweeper stopped.
func (s *Sweeper) TriggerNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("sweeper is stopped")
	}
	if s.running {
		return fmt.Errorf("sweep already running")
	}

	s.running = true
	s.wg.Add(1)
	go s.runSweep()
	return nil
}

// Status returns the sweeper's current status.
func (s *Sweeper) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:  s.running,
		Schedule: s.schedule,
		LastRun:  s.lastRun,
		NextRun:  s.cron.Entry(s.entryID).Next,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// runSweep executes one sweep. The caller must already have set running
// and called wg.Add(1).
func (s *Sweeper) runSweep() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	count, err := s.resume(s.ctx)

	s.mu.Lock()
	if err != nil {
		s.lastErr = err
		s.logger.Error("sweep failed", "duration", time.Since(start), "error", err)
	} else {
		s.lastRun = time.Now()
		s.lastErr = nil
		if count > 0 {
			s.logger.Info("sweep completed", "resumed", count, "duration", time.Since(start))
		}
	}
	s.mu.Unlock()
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
