package outbox

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dkessler/jobtalk/internal/store"
)

// Transport attempts remote delivery of a pending message and returns the
// server-assigned identifier on success. Implementations classify
// failures by returning a *TerminalError for rejections that must not be
// retried; any other error is treated as transient. The pipeline never
// assumes a particular wire protocol.
type Transport interface {
	Deliver(ctx context.Context, msg *store.Message) (serverID string, err error)
}

// TerminalError marks a delivery failure that retrying cannot fix, e.g. a
// validation rejection from the remote side.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal delivery failure: %v", e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err as a TerminalError.
func Terminal(err error) error {
	return &TerminalError{Err: err}
}

// AlreadyFinalError reports a cancel against a message that has already
// reached a terminal state.
type AlreadyFinalError struct {
	LocalID string
	State   store.DeliveryState
}

func (e *AlreadyFinalError) Error() string {
	return fmt.Sprintf("message %s is already %s", e.LocalID, e.State)
}

// Loopback is a Transport that confirms every message locally with a
// generated server id. It stands in until a real backend transport is
// wired, and keeps the delivery pipeline exercisable end to end.
type Loopback struct {
	seq atomic.Uint64
}

// Deliver assigns a synthetic server id.
func (l *Loopback) Deliver(ctx context.Context, msg *store.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("srv-%06d-%s", l.seq.Add(1), uuid.NewString()[:8]), nil
}
