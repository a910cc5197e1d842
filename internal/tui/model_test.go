package tui

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dkessler/jobtalk/internal/index"
	"github.com/dkessler/jobtalk/internal/localid"
	"github.com/dkessler/jobtalk/internal/outbox"
	"github.com/dkessler/jobtalk/internal/readstate"
	"github.com/dkessler/jobtalk/internal/store"
	"github.com/dkessler/jobtalk/internal/testutil"
)

func newTestModel(t *testing.T) (Model, *store.Store, *readstate.Tracker) {
	t.Helper()
	st, err := store.OpenMemory()
	testutil.MustNoErr(t, err, "open store")
	t.Cleanup(func() { st.Close() })

	pipeline := outbox.New(st, &outbox.Loopback{}, localid.NewGenerator("tui"), outbox.Config{}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { pipeline.Close() })

	tracker := readstate.New(st)
	ix := index.New(st, tracker)
	return New(st, pipeline, tracker, ix), st, tracker
}

func seedPeerThread(t *testing.T, st *store.Store, conversationID string, n int) {
	t.Helper()
	testutil.MustNoErr(t, st.EnsureConversation(conversationID, "Dana Peer", "", "job-123"), "EnsureConversation")
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := st.Append(&store.Message{
			LocalID:        fmt.Sprintf("peer-%04d", i+1),
			ServerID:       fmt.Sprintf("srv-%04d", i+1),
			ConversationID: conversationID,
			SenderRole:     store.SenderPeer,
			Body:           fmt.Sprintf("inbound %d", i+1),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			DeliveryState:  store.DeliveryConfirmed,
		})
		testutil.MustNoErr(t, err, "Append")
	}
}

// step delivers a message to the model and returns the updated Model.
func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	mm, ok := updated.(Model)
	if !ok {
		t.Fatalf("Update returned %T", updated)
	}
	return mm, cmd
}

func TestOpenThreadMarksRead(t *testing.T) {
	m, st, tracker := newTestModel(t)
	seedPeerThread(t, st, "conv-1", 3)

	m, _ = step(t, m, m.loadSummaries())
	if len(m.summaries) != 1 || m.summaries[0].UnreadCount != 3 {
		t.Fatalf("summaries = %+v", m.summaries)
	}

	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.view != viewThread || m.conversationID != "conv-1" {
		t.Fatalf("view = %d conversation = %q", m.view, m.conversationID)
	}

	// Run the load command the enter key scheduled.
	m, _ = step(t, m, m.openThread()())
	if len(m.messages) != 3 {
		t.Errorf("thread has %d messages, want 3", len(m.messages))
	}

	unread, err := tracker.UnreadCount("conv-1")
	testutil.MustNoErr(t, err, "UnreadCount")
	if unread != 0 {
		t.Errorf("unread after opening = %d, want 0", unread)
	}
}

func TestComposeFromThread(t *testing.T) {
	m, st, _ := newTestModel(t)
	seedPeerThread(t, st, "conv-1", 1)

	m, _ = step(t, m, m.loadSummaries())
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = step(t, m, m.openThread()())

	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("sounds")})
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeySpace})
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("good")})
	if m.input != "sounds good" {
		t.Fatalf("input = %q", m.input)
	}

	m, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.input != "" {
		t.Errorf("input not cleared after send: %q", m.input)
	}
	if cmd == nil {
		t.Fatal("enter did not schedule a compose command")
	}

	// The compose command reports the refreshed thread with the new
	// message visible immediately, before delivery resolves.
	m, _ = step(t, m, cmd())
	if len(m.messages) != 2 {
		t.Fatalf("thread has %d messages, want 2", len(m.messages))
	}
	last := m.messages[1]
	if last.Body != "sounds good" || last.SenderRole != store.SenderSelf {
		t.Errorf("last message = %+v", last)
	}
}

func TestListNavigation(t *testing.T) {
	m, st, _ := newTestModel(t)
	seedPeerThread(t, st, "conv-1", 1)
	seedPeerThread(t, st, "conv-2", 1)

	m, _ = step(t, m, m.loadSummaries())
	if len(m.summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(m.summaries))
	}

	if m.cursor != 0 {
		t.Fatalf("cursor = %d, want 0", m.cursor)
	}
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if m.cursor != 1 {
		t.Errorf("cursor after j = %d, want 1", m.cursor)
	}
	// Does not run past the end.
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if m.cursor != 1 {
		t.Errorf("cursor after second j = %d, want 1", m.cursor)
	}
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if m.cursor != 0 {
		t.Errorf("cursor after k = %d, want 0", m.cursor)
	}
}

func TestEscReturnsToList(t *testing.T) {
	m, st, _ := newTestModel(t)
	seedPeerThread(t, st, "conv-1", 1)

	m, _ = step(t, m, m.loadSummaries())
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.view != viewList || m.conversationID != "" {
		t.Errorf("view = %d conversation = %q after esc", m.view, m.conversationID)
	}
}
