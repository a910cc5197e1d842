// Package readstate tracks, per conversation, the last message the local
// user has acknowledged, and derives unread counts from it.
package readstate

import (
	"fmt"
	"sync"

	"github.com/dkessler/jobtalk/internal/store"
)

// Tracker owns the read markers. It holds no copies of message data; the
// marker lives on the conversation row and everything else is derived
// from the store.
type Tracker struct {
	store *store.Store

	mu sync.Mutex // serializes the compare-and-advance in MarkRead
}

// New creates a Tracker over the given store.
func New(st *store.Store) *Tracker {
	return &Tracker{store: st}
}

// MarkRead advances the conversation's read marker to upToLocalID.
// The marker is monotonic: a call with an older or equal message in the
// total order is a silent no-op. The message must belong to the
// conversation, otherwise a *store.NotFoundError is returned.
func (t *Tracker) MarkRead(conversationID, upToLocalID string) error {
	target, err := t.store.GetMessage(upToLocalID)
	if err != nil {
		return err
	}
	if target.ConversationID != conversationID {
		return &store.NotFoundError{LocalID: upToLocalID}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	conv, err := t.store.GetConversation(conversationID)
	if err != nil {
		return err
	}

	if conv.LastReadLocalID != "" {
		current, err := t.store.GetMessage(conv.LastReadLocalID)
		if err != nil {
			return fmt.Errorf("read marker %s: %w", conv.LastReadLocalID, err)
		}
		if !after(target, current) {
			return nil
		}
	}

	return t.store.SetLastRead(conversationID, upToLocalID)
}

// UnreadCount returns the number of peer messages strictly after the
// conversation's read marker. A conversation with no marker counts every
// peer message as unread.
func (t *Tracker) UnreadCount(conversationID string) (int, error) {
	return t.store.CountUnread(conversationID)
}

// after reports whether a sorts strictly after b in the message total
// order (created_at, local_id).
func after(a, b *store.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.LocalID > b.LocalID
}
