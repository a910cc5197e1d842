// Package tui implements the interactive terminal client: a conversation
// list and a thread view with inline compose. Opening a thread (or
// scrolling to its end) acknowledges it as read.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dkessler/jobtalk/internal/index"
	"github.com/dkessler/jobtalk/internal/outbox"
	"github.com/dkessler/jobtalk/internal/readstate"
	"github.com/dkessler/jobtalk/internal/store"
)

type view int

const (
	viewList view = iota
	viewThread
)

// refreshInterval drives delivery-state updates while a thread is open.
const refreshInterval = 500 * time.Millisecond

type summariesMsg struct {
	summaries []index.Summary
	err       error
}

type threadMsg struct {
	conversationID string
	messages       []store.Message
	err            error
}

type tickMsg time.Time

// Model is the bubbletea model for the jobtalk TUI.
type Model struct {
	store    *store.Store
	pipeline *outbox.Pipeline
	tracker  *readstate.Tracker
	index    *index.Index

	view      view
	summaries []index.Summary
	cursor    int

	conversationID string
	messages       []store.Message
	input          string

	width  int
	height int
	err    error
}

// New creates the TUI model over the given components.
func New(st *store.Store, pipeline *outbox.Pipeline, tracker *readstate.Tracker, ix *index.Index) Model {
	return Model{
		store:    st,
		pipeline: pipeline,
		tracker:  tracker,
		index:    ix,
	}
}

// Init loads the conversation list.
func (m Model) Init() tea.Cmd {
	return m.loadSummaries
}

func (m Model) loadSummaries() tea.Msg {
	summaries, err := m.index.ListConversations()
	return summariesMsg{summaries: summaries, err: err}
}

func (m Model) loadThread(conversationID string) tea.Cmd {
	return func() tea.Msg {
		messages, err := m.store.ListByConversation(conversationID)
		return threadMsg{conversationID: conversationID, messages: messages, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages and key events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case summariesMsg:
		m.err = msg.err
		if msg.err == nil {
			m.summaries = msg.summaries
			if m.cursor >= len(m.summaries) {
				m.cursor = max(0, len(m.summaries)-1)
			}
		}
		return m, nil

	case threadMsg:
		m.err = msg.err
		if msg.err == nil && msg.conversationID == m.conversationID {
			m.messages = msg.messages
		}
		return m, nil

	case tickMsg:
		if m.view != viewThread {
			return m, nil
		}
		return m, tea.Batch(m.loadThread(m.conversationID), tick())

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.view == viewList {
		return m.handleListKey(msg)
	}
	return m.handleThreadKey(msg)
}

func (m Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.summaries)-1 {
			m.cursor++
		}
	case "r":
		return m, m.loadSummaries
	case "enter":
		if len(m.summaries) == 0 {
			return m, nil
		}
		m.view = viewThread
		m.conversationID = m.summaries[m.cursor].ConversationID
		m.input = ""
		return m, tea.Batch(m.openThread(), tick())
	}
	return m, nil
}

// openThread loads the thread and acknowledges its latest message.
func (m Model) openThread() tea.Cmd {
	conversationID := m.conversationID
	tracker := m.tracker
	st := m.store
	return func() tea.Msg {
		latest, err := st.LatestMessage(conversationID)
		if err == nil && latest != nil {
			// Monotonic: marking an already-read thread is a no-op.
			_ = tracker.MarkRead(conversationID, latest.LocalID)
		}
		messages, err := st.ListByConversation(conversationID)
		return threadMsg{conversationID: conversationID, messages: messages, err: err}
	}
}

func (m Model) handleThreadKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.view = viewList
		m.conversationID = ""
		m.messages = nil
		m.input = ""
		return m, m.loadSummaries
	case "enter":
		body := m.input
		if body == "" {
			return m, nil
		}
		m.input = ""
		return m, m.compose(body)
	case "backspace":
		if len(m.input) > 0 {
			runes := []rune(m.input)
			m.input = string(runes[:len(runes)-1])
		}
		return m, nil
	}

	switch msg.Type {
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	case tea.KeySpace:
		m.input += " "
	}
	return m, nil
}

// compose sends the typed message and refreshes the thread; the new
// message shows up pending before delivery resolves.
func (m Model) compose(body string) tea.Cmd {
	conversationID := m.conversationID
	pipeline := m.pipeline
	st := m.store
	return func() tea.Msg {
		if _, err := pipeline.Compose(context.Background(), conversationID, body); err != nil {
			return threadMsg{conversationID: conversationID, err: err}
		}
		messages, err := st.ListByConversation(conversationID)
		return threadMsg{conversationID: conversationID, messages: messages, err: err}
	}
}
