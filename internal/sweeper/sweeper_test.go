package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	_, err := New("not a cron expr", func(ctx context.Context) (int, error) { return 0, nil })
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestValidateCronExpr(t *testing.T) {
	valid := []string{"*/5 * * * *", "0 12 * * *", "* * * * *"}
	for _, expr := range valid {
		if err := ValidateCronExpr(expr); err != nil {
			t.Errorf("ValidateCronExpr(%q) = %v, want nil", expr, err)
		}
	}
	invalid := []string{"", "barely", "* * * *", "61 * * * *"}
	for _, expr := range invalid {
		if err := ValidateCronExpr(expr); err == nil {
			t.Errorf("ValidateCronExpr(%q) = nil, want error", expr)
		}
	}
}

func TestTriggerNow(t *testing.T) {
	done := make(chan struct{})
	var calls atomic.Int64

	s, err := New("*/5 * * * *", func(ctx context.Context) (int, error) {
		calls.Add(1)
		close(done)
		return 3, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.WithLogger(quietLogger())

	if err := s.TriggerNow(); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run")
	}

	<-s.Stop().Done()
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestTriggerNowWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	s, err := New("*/5 * * * *", func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.WithLogger(quietLogger())

	if err := s.TriggerNow(); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	<-started

	if err := s.TriggerNow(); err == nil {
		t.Error("expected error while a sweep is running")
	}
	if !s.Status().Running {
		t.Error("status should report running")
	}

	close(release)
	<-s.Stop().Done()
}

func TestStopWaitsForSweep(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	s, err := New("*/5 * * * *", func(ctx context.Context) (int, error) {
		close(started)
		<-release
		close(finished)
		return 0, nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.WithLogger(quietLogger())

	if err := s.TriggerNow(); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	<-started

	stopCtx := s.Stop()
	select {
	case <-stopCtx.Done():
		t.Fatal("Stop returned before the sweep finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not complete")
	}
	<-finished

	if err := s.TriggerNow(); err == nil {
		t.Error("expected error after Stop")
	}
}

func TestStatusRecordsLastError(t *testing.T) {
	done := make(chan struct{})
	s, err := New("*/5 * * * *", func(ctx context.Context) (int, error) {
		defer close(done)
		return 0, errors.New("database locked")
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.WithLogger(quietLogger())

	if err := s.TriggerNow(); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	<-done
	<-s.Stop().Done()

	st := s.Status()
	if st.LastError != "database locked" {
		t.Errorf("last_error = %q, want %q", st.LastError, "database locked")
	}
	if st.Schedule != "*/5 * * * *" {
		t.Errorf("schedule = %q", st.Schedule)
	}
}
