// Package index derives conversation summaries (participant metadata,
// last message, unread count) from the store on every call. It keeps no
// mutable cache of its own.
package index

import (
	"fmt"

	"github.com/dkessler/jobtalk/internal/readstate"
	"github.com/dkessler/jobtalk/internal/store"
)

// Summary is the read-only projection of a conversation consumed by list
// views and badges.
type Summary struct {
	ConversationID    string
	ParticipantName   string
	ParticipantAvatar string
	JobRef            string
	LastMessage       store.Message
	UnreadCount       int
}

// Index computes conversation summaries.
type Index struct {
	store   *store.Store
	tracker *readstate.Tracker
}

// New creates an Index over the given store and read-state tracker.
func New(st *store.Store, tracker *readstate.Tracker) *Index {
	return &Index{store: st, tracker: tracker}
}

// Summarize recomputes the summary for one conversation. A conversation
// with no messages yields a *store.NotFoundError: it is not visible until
// its first message.
func (ix *Index) Summarize(conversationID string) (*Summary, error) {
	conv, err := ix.store.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}

	last, err := ix.store.LatestMessage(conversationID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, &store.NotFoundError{LocalID: conversationID}
	}

	unread, err := ix.tracker.UnreadCount(conversationID)
	if err != nil {
		return nil, err
	}

	return &Summary{
		ConversationID:    conv.ConversationID,
		ParticipantName:   conv.ParticipantName,
		ParticipantAvatar: conv.ParticipantAvatar,
		JobRef:            conv.JobRef,
		LastMessage:       *last,
		UnreadCount:       unread,
	}, nil
}

// ListConversations returns summaries of every conversation with at least
// one message, newest last-message first.
func (ix *Index) ListConversations() ([]Summary, error) {
	ids, err := ix.store.ActiveConversationIDs()
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s, err := ix.Summarize(id)
		if err != nil {
			return nil, fmt.Errorf("summarize %s: %w", id, err)
		}
		summaries = append(summaries, *s)
	}
	return summaries, nil
}
