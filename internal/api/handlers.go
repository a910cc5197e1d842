package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dkessler/jobtalk/internal/index"
	"github.com/dkessler/jobtalk/internal/outbox"
	"github.com/dkessler/jobtalk/internal/store"
)

const timeFormat = "2006-01-02T15:04:05.000Z"

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeStoreError maps store error types onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var notFound *store.NotFoundError
	var validation *store.ValidationError
	var state *store.StateError
	var final *outbox.AlreadyFinalError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.As(err, &state), errors.As(err, &final):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Request failed")
	}
}

// MessageView represents a message in API responses.
type MessageView struct {
	LocalID        string `json:"local_id"`
	ServerID       string `json:"server_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	SenderRole     string `json:"sender_role"`
	Body           string `json:"body"`
	CreatedAt      string `json:"created_at"`
	DeliveryState  string `json:"delivery_state"`
}

func messageView(m *store.Message) MessageView {
	return MessageView{
		LocalID:        m.LocalID,
		ServerID:       m.ServerID,
		ConversationID: m.ConversationID,
		SenderRole:     string(m.SenderRole),
		Body:           m.Body,
		CreatedAt:      m.CreatedAt.UTC().Format(timeFormat),
		DeliveryState:  string(m.DeliveryState),
	}
}

// ConversationView represents a conversation summary in API responses.
type ConversationView struct {
	ConversationID    string      `json:"conversation_id"`
	ParticipantName   string      `json:"participant_name"`
	ParticipantAvatar string      `json:"participant_avatar,omitempty"`
	JobRef            string      `json:"job_ref,omitempty"`
	LastMessage       MessageView `json:"last_message"`
	UnreadCount       int         `json:"unread_count"`
}

func conversationView(s *index.Summary) ConversationView {
	return ConversationView{
		ConversationID:    s.ConversationID,
		ParticipantName:   s.ParticipantName,
		ParticipantAvatar: s.ParticipantAvatar,
		JobRef:            s.JobRef,
		LastMessage:       messageView(&s.LastMessage),
		UnreadCount:       s.UnreadCount,
	}
}

// StatsResponse represents store statistics.
type StatsResponse struct {
	TotalMessages      int64 `json:"total_messages"`
	TotalConversations int64 `json:"total_conversations"`
	PendingMessages    int64 `json:"pending_messages"`
	FailedMessages     int64 `json:"failed_messages"`
	DatabaseSize       int64 `json:"database_size_bytes"`
}

// handleStats returns store statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		TotalMessages:      stats.MessageCount,
		TotalConversations: stats.ConversationCount,
		PendingMessages:    stats.PendingCount,
		FailedMessages:     stats.FailedCount,
		DatabaseSize:       stats.DatabaseSize,
	})
}

// handleListConversations returns all visible conversation summaries.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.index.ListConversations()
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list conversations")
		return
	}

	views := make([]ConversationView, len(summaries))
	for i := range summaries {
		views[i] = conversationView(&summaries[i])
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": views,
	})
}

// handleGetConversation returns one conversation summary.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := s.index.Summarize(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationView(summary))
}

// handleListMessages returns a conversation's messages in total order.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, err := s.store.ListByConversation(id)
	if err != nil {
		s.logger.Error("failed to list messages", "conversation", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve messages")
		return
	}

	views := make([]MessageView, len(messages))
	for i := range messages {
		views[i] = messageView(&messages[i])
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": id,
		"messages":        views,
	})
}

// ComposeRequest is the body of a compose call.
type ComposeRequest struct {
	Body string `json:"body"`
}

// handleCompose appends an outgoing message and queues it for delivery.
// The response carries the pending message for optimistic display.
func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ComposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be JSON with a 'body' field")
		return
	}

	msg, err := s.pipeline.Compose(r.Context(), id, req.Body)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, messageView(msg))
}

// MarkReadRequest is the body of a read acknowledgement.
type MarkReadRequest struct {
	UpToLocalID string `json:"up_to_local_id"`
}

// handleMarkRead advances the conversation's read marker.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UpToLocalID == "" {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be JSON with an 'up_to_local_id' field")
		return
	}

	if err := s.tracker.MarkRead(id, req.UpToLocalID); err != nil {
		s.writeStoreError(w, err)
		return
	}

	unread, err := s.tracker.UnreadCount(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": id,
		"unread_count":    unread,
	})
}

// handleOutboxStatus lists messages awaiting delivery.
func (s *Server) handleOutboxStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.PendingMessages()
	if err != nil {
		s.logger.Error("failed to list outbox", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list outbox")
		return
	}

	views := make([]MessageView, len(pending))
	for i := range pending {
		views[i] = messageView(&pending[i])
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": views,
	})
}

// handleCancel withdraws a pending message from delivery.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	localID := chi.URLParam(r, "localID")
	if err := s.pipeline.Cancel(localID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"local_id": localID,
		"status":   "cancelled",
	})
}

// handleRetry composes a fresh message from a failed one.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	localID := chi.URLParam(r, "localID")
	msg, err := s.pipeline.Recompose(r.Context(), localID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageView(msg))
}
