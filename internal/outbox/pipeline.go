// Package outbox implements the compose-to-confirmation pipeline: a
// composed message is appended to the store as pending, becomes visible
// immediately, and is delivered asynchronously with bounded retries.
// Delivery within one conversation is FIFO; conversations are independent.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkessler/jobtalk/internal/localid"
	"github.com/dkessler/jobtalk/internal/store"
)

// Config bounds the retry policy for transient delivery failures.
type Config struct {
	MaxAttempts int           // total attempts per message, including the first
	BaseDelay   time.Duration // backoff base for the first retry
	MaxDelay    time.Duration // backoff cap
}

// DefaultConfig returns the retry policy used when the config file leaves
// the outbox section empty.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// minWait is the floor for jittered backoff delays.
const minWait = 10 * time.Millisecond

// convQueue is an unbounded FIFO of local ids for one conversation.
type convQueue struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
}

func newConvQueue() *convQueue {
	return &convQueue{notify: make(chan struct{}, 1)}
}

func (q *convQueue) push(localID string) {
	q.mu.Lock()
	q.items = append(q.items, localID)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available or ctx is done.
func (q *convQueue) pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return id, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-q.notify:
		}
	}
}

// remove deletes localID from the queue if it has not been picked up yet.
func (q *convQueue) remove(localID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.items {
		if id == localID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Pipeline owns the outbox: one worker per conversation drains that
// conversation's queue in compose order.
type Pipeline struct {
	store     *store.Store
	transport Transport
	ids       *localid.Generator
	cfg       Config
	clock     Clock
	logger    *slog.Logger

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	queues       map[string]*convQueue
	tracked      map[string]bool // local ids queued or in flight
	cancelReq    map[string]bool // cancel requested for an in-flight id
	lastComposed time.Time
	closed       bool
}

// New creates a Pipeline. Call Resume to pick up messages left pending by
// a previous run, and Close to drain workers on shutdown.
func New(st *store.Store, transport Transport, ids *localid.Generator, cfg Config) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &Pipeline{
		store:     st,
		transport: transport,
		ids:       ids,
		cfg:       cfg.withDefaults(),
		clock:     realClock{},
		logger:    slog.Default(),
		group:     group,
		gctx:      gctx,
		cancel:    cancel,
		queues:    make(map[string]*convQueue),
		tracked:   make(map[string]bool),
		cancelReq: make(map[string]bool),
	}
}

// WithLogger sets the logger for the pipeline.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = logger
	return p
}

// WithClock sets the clock, for deterministic backoff in tests.
func (p *Pipeline) WithClock(clock Clock) *Pipeline {
	p.clock = clock
	return p
}

// Compose validates the body, appends a pending message to the store, and
// enqueues it for delivery. It returns the stored message immediately for
// optimistic display; no network work happens on this call.
func (p *Pipeline) Compose(ctx context.Context, conversationID, body string) (*store.Message, error) {
	if conversationID == "" {
		return nil, &store.ValidationError{Reason: "conversation_id is empty"}
	}
	if err := store.ValidateBody(body); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("outbox is closed")
	}
	// Compose timestamps must be non-decreasing per device even if the
	// wall clock steps backwards; the total order depends on it.
	now := p.clock.Now().UTC()
	if now.Before(p.lastComposed) {
		now = p.lastComposed
	}
	p.lastComposed = now
	localID := p.ids.Next()
	p.mu.Unlock()

	stored, err := p.store.Append(&store.Message{
		LocalID:        localID,
		ConversationID: conversationID,
		SenderRole:     store.SenderSelf,
		Body:           body,
		CreatedAt:      now,
		DeliveryState:  store.DeliveryPending,
	})
	if err != nil {
		return nil, err
	}

	p.enqueue(conversationID, localID)
	p.logger.Debug("composed message", "conversation", conversationID, "local_id", localID)
	return stored, nil
}

// Resume re-enqueues messages left pending by a previous run, in total
// order. Ids already queued or in flight are skipped, so calling Resume
// repeatedly (e.g. from the sweeper) never duplicates work.
func (p *Pipeline) Resume(ctx context.Context) (int, error) {
	pending, err := p.store.PendingMessages()
	if err != nil {
		return 0, fmt.Errorf("load pending messages: %w", err)
	}

	resumed := 0
	for i := range pending {
		if p.enqueue(pending[i].ConversationID, pending[i].LocalID) {
			resumed++
		}
	}
	if resumed > 0 {
		p.logger.Info("resumed pending messages", "count", resumed)
	}
	return resumed, nil
}

// Cancel withdraws a pending message from delivery and marks it failed.
// A message already confirmed or failed yields an *AlreadyFinalError. For
// an in-flight attempt the cancel takes effect after that attempt's
// outcome is applied, and only if the outcome was not confirmation.
func (p *Pipeline) Cancel(localID string) error {
	msg, err := p.store.GetMessage(localID)
	if err != nil {
		return err
	}
	if msg.DeliveryState != store.DeliveryPending {
		return &AlreadyFinalError{LocalID: localID, State: msg.DeliveryState}
	}

	p.mu.Lock()
	if q, ok := p.queues[msg.ConversationID]; ok && q.remove(localID) {
		delete(p.tracked, localID)
		p.mu.Unlock()
		p.failCancelled(localID)
		return nil
	}
	if p.tracked[localID] {
		// In flight: flag it, the worker honors the request before the
		// next retry attempt.
		p.cancelReq[localID] = true
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// Not tracked by this pipeline (e.g. pending row from a previous run
	// that has not been resumed). Fail it directly.
	p.failCancelled(localID)
	return nil
}

// Recompose creates a fresh message with the body of a failed one. The
// failed row keeps its localID and stays visible; retrying never reuses
// an id.
func (p *Pipeline) Recompose(ctx context.Context, localID string) (*store.Message, error) {
	msg, err := p.store.GetMessage(localID)
	if err != nil {
		return nil, err
	}
	if msg.SenderRole != store.SenderSelf {
		return nil, &store.ValidationError{Reason: "only own messages can be recomposed"}
	}
	if msg.DeliveryState != store.DeliveryFailed {
		return nil, &store.StateError{LocalID: localID, State: msg.DeliveryState, Op: "recompose"}
	}
	return p.Compose(ctx, msg.ConversationID, msg.Body)
}

// AwaitTerminal blocks until the message leaves the pending state or ctx
// is done. Useful for one-shot CLI commands; interactive consumers should
// poll the store instead.
func (p *Pipeline) AwaitTerminal(ctx context.Context, localID string) (*store.Message, error) {
	for {
		msg, err := p.store.GetMessage(localID)
		if err != nil {
			return nil, err
		}
		if msg.DeliveryState != store.DeliveryPending {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return msg, ctx.Err()
		case <-p.clock.After(25 * time.Millisecond):
		}
	}
}

// Close stops all workers and waits for in-flight attempts to resolve.
// Messages still pending remain in the store and are picked up by Resume
// on the next run.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	return p.group.Wait()
}

// enqueue adds localID to its conversation's queue, starting the worker
// on first use. Returns false if the id is already queued or in flight.
func (p *Pipeline) enqueue(conversationID, localID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.tracked[localID] {
		return false
	}
	p.tracked[localID] = true

	q, ok := p.queues[conversationID]
	if !ok {
		q = newConvQueue()
		p.queues[conversationID] = q
		p.group.Go(func() error {
			p.worker(conversationID, q)
			return nil
		})
	}
	q.push(localID)
	return true
}

// worker drains one conversation's queue in FIFO order. A later message
// is never attempted before an earlier one has a terminal outcome.
func (p *Pipeline) worker(conversationID string, q *convQueue) {
	for {
		localID, ok := q.pop(p.gctx)
		if !ok {
			return
		}
		p.deliver(localID)
	}
}

// deliver runs the attempt/backoff loop for one message.
func (p *Pipeline) deliver(localID string) {
	defer p.untrack(localID)

	msg, err := p.store.GetMessage(localID)
	if err != nil {
		p.logger.Error("outbox entry vanished", "local_id", localID, "error", err)
		return
	}
	if msg.DeliveryState != store.DeliveryPending {
		return
	}

	for attempt := 0; ; attempt++ {
		if p.cancelRequested(localID) {
			p.failCancelled(localID)
			return
		}
		if attempt > 0 {
			backoff := p.backoff(attempt)
			p.logger.Debug("retrying delivery", "local_id", localID, "attempt", attempt, "backoff", backoff)
			select {
			case <-p.gctx.Done():
				return
			case <-p.clock.After(backoff):
			}
			if p.cancelRequested(localID) {
				p.failCancelled(localID)
				return
			}
		}

		serverID, err := p.transport.Deliver(p.gctx, msg)
		if err == nil {
			p.confirm(localID, serverID)
			return
		}

		var terminal *TerminalError
		if errors.As(err, &terminal) {
			p.logger.Warn("delivery rejected", "local_id", localID, "error", err)
			p.markFailed(localID)
			return
		}
		if p.gctx.Err() != nil {
			// Shutting down: leave the message pending for Resume.
			return
		}

		p.logger.Debug("transient delivery failure", "local_id", localID, "attempt", attempt, "error", err)
		if attempt+1 >= p.cfg.MaxAttempts {
			p.logger.Warn("delivery attempts exhausted", "local_id", localID, "attempts", p.cfg.MaxAttempts)
			p.markFailed(localID)
			return
		}
	}
}

func (p *Pipeline) confirm(localID, serverID string) {
	if _, err := p.store.Reconcile(localID, serverID); err != nil {
		var already *store.AlreadyReconciledError
		if errors.As(err, &already) {
			// First assignment wins.
			p.logger.Warn("duplicate reconcile ignored",
				"local_id", localID,
				"kept_server_id", already.ServerID,
				"dropped_server_id", serverID)
		} else {
			p.logger.Error("reconcile failed", "local_id", localID, "error", err)
		}
		return
	}
	if p.clearCancelRequest(localID) {
		// The attempt confirmed before the cancel could be honored;
		// terminal success wins.
		p.logger.Debug("cancel arrived after confirmation", "local_id", localID)
	}
	p.logger.Debug("delivery confirmed", "local_id", localID, "server_id", serverID)
}

func (p *Pipeline) markFailed(localID string) {
	if _, err := p.store.MarkFailed(localID); err != nil {
		p.logger.Error("mark failed", "local_id", localID, "error", err)
	}
}

func (p *Pipeline) failCancelled(localID string) {
	p.clearCancelRequest(localID)
	if _, err := p.store.MarkFailed(localID); err != nil {
		p.logger.Error("cancel: mark failed", "local_id", localID, "error", err)
		return
	}
	p.logger.Info("message cancelled", "local_id", localID)
}

func (p *Pipeline) cancelRequested(localID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelReq[localID]
}

func (p *Pipeline) clearCancelRequest(localID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.cancelReq[localID]
	delete(p.cancelReq, localID)
	return was
}

func (p *Pipeline) untrack(localID string) {
	p.mu.Lock()
	delete(p.tracked, localID)
	delete(p.cancelReq, localID)
	p.mu.Unlock()
}

// backoff returns the delay before retry attempt n (n >= 1).
// Exponential with full jitter, capped at MaxDelay.
func (p *Pipeline) backoff(attempt int) time.Duration {
	base := float64(p.cfg.BaseDelay) * float64(uint(1)<<uint(attempt-1))
	if base > float64(p.cfg.MaxDelay) {
		base = float64(p.cfg.MaxDelay)
	}
	jittered := time.Duration(rand.Float64() * base)
	if jittered < minWait {
		jittered = minWait
	}
	return jittered
}
