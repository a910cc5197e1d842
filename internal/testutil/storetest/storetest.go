// Package storetest provides a Fixture and helpers for tests that
// exercise the Store layer through its public API.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkessler/jobtalk/internal/store"
	"github.com/dkessler/jobtalk/internal/testutil"
)

// Fixture holds common test state for store-level tests: an in-memory
// database and one default conversation.
type Fixture struct {
	T          *testing.T
	Store      *store.Store
	ConvID     string
	Base       time.Time
	msgCounter atomic.Int64
}

// New creates a Fixture with a fresh in-memory database and one default
// conversation ("conv-default") with participant metadata.
func New(t *testing.T) *Fixture {
	t.Helper()
	st, err := store.OpenMemory()
	testutil.MustNoErr(t, err, "setup: open store")
	t.Cleanup(func() { st.Close() })

	convID := "conv-default"
	err = st.EnsureConversation(convID, "Dana Peer", "avatars/dana.png", "job-123")
	testutil.MustNoErr(t, err, "setup: EnsureConversation")

	return &Fixture{
		T:      t,
		Store:  st,
		ConvID: convID,
		Base:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// NextLocalID returns a deterministic, order-preserving local id
// ("msg-0001", "msg-0002", ...).
func (f *Fixture) NextLocalID() string {
	return fmt.Sprintf("msg-%04d", f.msgCounter.Add(1))
}

// At returns the fixture's base time shifted by n seconds.
func (f *Fixture) At(n int) time.Time {
	return f.Base.Add(time.Duration(n) * time.Second)
}

// --- MessageBuilder ---

// MessageBuilder provides a fluent API for constructing store.Message values.
type MessageBuilder struct {
	f   *Fixture
	msg store.Message
}

// NewMessage creates a builder with sensible defaults: a self message,
// pending, in the fixture's default conversation, timestamped at the
// fixture base time plus the message counter.
func (f *Fixture) NewMessage() *MessageBuilder {
	n := f.msgCounter.Add(1)
	return &MessageBuilder{
		f: f,
		msg: store.Message{
			LocalID:        fmt.Sprintf("msg-%04d", n),
			ConversationID: f.ConvID,
			SenderRole:     store.SenderSelf,
			Body:           fmt.Sprintf("message %d", n),
			CreatedAt:      f.Base.Add(time.Duration(n) * time.Second),
			DeliveryState:  store.DeliveryPending,
		},
	}
}

func (b *MessageBuilder) WithLocalID(id string) *MessageBuilder {
	b.msg.LocalID = id
	return b
}

func (b *MessageBuilder) WithConversation(id string) *MessageBuilder {
	b.msg.ConversationID = id
	return b
}

func (b *MessageBuilder) WithBody(body string) *MessageBuilder {
	b.msg.Body = body
	return b
}

func (b *MessageBuilder) WithCreatedAt(t time.Time) *MessageBuilder {
	b.msg.CreatedAt = t
	return b
}

// FromPeer marks the message as inbound: peer-sent, confirmed, with a
// server id already attached (inbound messages never have a pending phase).
func (b *MessageBuilder) FromPeer(serverID string) *MessageBuilder {
	b.msg.SenderRole = store.SenderPeer
	b.msg.DeliveryState = store.DeliveryConfirmed
	b.msg.ServerID = serverID
	return b
}

// Confirmed marks a self message as already confirmed with serverID.
func (b *MessageBuilder) Confirmed(serverID string) *MessageBuilder {
	b.msg.DeliveryState = store.DeliveryConfirmed
	b.msg.ServerID = serverID
	return b
}

// Build returns the constructed Message.
func (b *MessageBuilder) Build() *store.Message {
	m := b.msg
	return &m
}

// Create appends the message to the store and returns the stored row.
func (b *MessageBuilder) Create() *store.Message {
	b.f.T.Helper()
	m := b.msg
	stored, err := b.f.Store.Append(&m)
	testutil.MustNoErr(b.f.T, err, "MessageBuilder.Create")
	return stored
}

// --- Assertion helpers ---

// AssertDeliveryState asserts a message's delivery state.
func (f *Fixture) AssertDeliveryState(localID string, want store.DeliveryState) {
	f.T.Helper()
	msg, err := f.Store.GetMessage(localID)
	testutil.MustNoErr(f.T, err, "AssertDeliveryState: GetMessage")
	if msg.DeliveryState != want {
		f.T.Errorf("message %s delivery_state = %s, want %s", localID, msg.DeliveryState, want)
	}
}

// AssertUnread asserts a conversation's unread count.
func (f *Fixture) AssertUnread(convID string, want int) {
	f.T.Helper()
	got, err := f.Store.CountUnread(convID)
	testutil.MustNoErr(f.T, err, "AssertUnread: CountUnread")
	if got != want {
		f.T.Errorf("conversation %s unread = %d, want %d", convID, got, want)
	}
}

// LocalIDs extracts the local ids of a message slice, in order.
func LocalIDs(messages []store.Message) []string {
	ids := make([]string, len(messages))
	for i := range messages {
		ids[i] = messages[i].LocalID
	}
	return ids
}
