package store

import "fmt"

// ValidationError indicates a message that failed input validation.
// It is surfaced to the caller synchronously and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s", e.Reason)
}

// NotFoundError indicates an unknown local_id or conversation_id.
type NotFoundError struct {
	LocalID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message not found: %s", e.LocalID)
}

// DuplicateError indicates an append with a local_id that already exists
// but with different content. Identical retried appends are resolved
// silently by returning the stored row; only a conflicting duplicate is
// an error.
type DuplicateError struct {
	LocalID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("conflicting duplicate local_id: %s", e.LocalID)
}

// AlreadyReconciledError indicates a second reconcile with a different
// server_id. The first assignment wins; callers log and ignore.
type AlreadyReconciledError struct {
	LocalID  string
	ServerID string // the server_id already on record
}

func (e *AlreadyReconciledError) Error() string {
	return fmt.Sprintf("message %s already reconciled with server_id %s", e.LocalID, e.ServerID)
}

// StateError indicates a delivery-state transition that is not allowed,
// e.g. marking a confirmed message failed.
type StateError struct {
	LocalID string
	State   DeliveryState
	Op      string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s message %s in state %s", e.Op, e.LocalID, e.State)
}
