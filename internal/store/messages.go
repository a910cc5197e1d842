package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// SenderRole identifies which party authored a message. It is decided at
// append time and never inferred downstream.
type SenderRole string

const (
	SenderSelf SenderRole = "self"
	SenderPeer SenderRole = "peer"
)

// DeliveryState is the delivery lifecycle of a message.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

// MaxBodyLen is the maximum body length in runes.
const MaxBodyLen = 500

// Message represents a message in the database. Only DeliveryState and
// ServerID are mutable after insert; every other field is write-once.
type Message struct {
	LocalID        string
	ServerID       string // empty until confirmed
	ConversationID string
	SenderRole     SenderRole
	Body           string
	CreatedAt      time.Time
	DeliveryState  DeliveryState
}

// Conversation represents conversation metadata. Message content lives in
// the messages table; LastReadLocalID drives unread accounting.
type Conversation struct {
	ConversationID    string
	ParticipantName   string
	ParticipantAvatar string
	JobRef            string
	LastReadLocalID   string // empty when nothing has been read
}

// ValidateBody checks the body length constraints shared by Append and
// the compose path. Returns a *ValidationError on failure.
func ValidateBody(body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return &ValidationError{Reason: "body is empty"}
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return &ValidationError{Reason: fmt.Sprintf("body exceeds %d characters", MaxBodyLen)}
	}
	return nil
}

const messageColumns = `local_id, COALESCE(server_id, ''), conversation_id, sender_role, body, created_at, delivery_state`

func scanMessage(row interface{ Scan(...interface{}) error }) (*Message, error) {
	var m Message
	var createdMillis int64
	err := row.Scan(&m.LocalID, &m.ServerID, &m.ConversationID,
		(*string)(&m.SenderRole), &m.Body, &createdMillis, (*string)(&m.DeliveryState))
	if err != nil {
		return nil, err
	}
	m.CreatedAt = time.UnixMilli(createdMillis).UTC()
	return &m, nil
}

// Append inserts a new message. The owning conversation row is created on
// first contact. Appending the same local_id with identical content is
// idempotent and returns the stored row; the same local_id with different
// content returns a *DuplicateError.
func (s *Store) Append(msg *Message) (*Message, error) {
	if err := ValidateBody(msg.Body); err != nil {
		return nil, err
	}
	if msg.LocalID == "" {
		return nil, &ValidationError{Reason: "local_id is empty"}
	}
	if msg.ConversationID == "" {
		return nil, &ValidationError{Reason: "conversation_id is empty"}
	}
	if msg.SenderRole != SenderSelf && msg.SenderRole != SenderPeer {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown sender_role %q", msg.SenderRole)}
	}
	switch msg.DeliveryState {
	case DeliveryPending, DeliveryConfirmed, DeliveryFailed:
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown delivery_state %q", msg.DeliveryState)}
	}

	var stored *Message
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO conversations (conversation_id) VALUES (?)
			ON CONFLICT(conversation_id) DO NOTHING
		`, msg.ConversationID); err != nil {
			return fmt.Errorf("ensure conversation: %w", err)
		}

		var serverID interface{}
		if msg.ServerID != "" {
			serverID = msg.ServerID
		}
		_, err := tx.Exec(`
			INSERT INTO messages (local_id, server_id, conversation_id, sender_role, body, created_at, delivery_state)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO NOTHING
		`, msg.LocalID, serverID, msg.ConversationID, string(msg.SenderRole),
			msg.Body, msg.CreatedAt.UnixMilli(), string(msg.DeliveryState))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		row := tx.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE local_id = ?`, msg.LocalID)
		existing, err := scanMessage(row)
		if err != nil {
			return fmt.Errorf("read back message: %w", err)
		}

		if existing.ConversationID != msg.ConversationID ||
			existing.Body != msg.Body ||
			existing.SenderRole != msg.SenderRole {
			return &DuplicateError{LocalID: msg.LocalID}
		}

		if _, err := tx.Exec(`
			UPDATE conversations SET updated_at = datetime('now') WHERE conversation_id = ?
		`, msg.ConversationID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}

		stored = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Reconcile transitions a message pending→confirmed and attaches the
// server-assigned id. Reconciling an already-confirmed message with the
// same server_id is a no-op success; with a different server_id it
// returns a *AlreadyReconciledError (first assignment wins).
func (s *Store) Reconcile(localID, serverID string) (*Message, error) {
	if serverID == "" {
		return nil, &ValidationError{Reason: "server_id is empty"}
	}

	var stored *Message
	err := s.withTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE local_id = ?`, localID)
		msg, err := scanMessage(row)
		if err == sql.ErrNoRows {
			return &NotFoundError{LocalID: localID}
		}
		if err != nil {
			return fmt.Errorf("get message: %w", err)
		}

		switch msg.DeliveryState {
		case DeliveryConfirmed:
			if msg.ServerID == serverID {
				stored = msg
				return nil
			}
			return &AlreadyReconciledError{LocalID: localID, ServerID: msg.ServerID}
		case DeliveryFailed:
			return &StateError{LocalID: localID, State: msg.DeliveryState, Op: "reconcile"}
		}

		if _, err := tx.Exec(`
			UPDATE messages SET delivery_state = 'confirmed', server_id = ?
			WHERE local_id = ? AND delivery_state = 'pending'
		`, serverID, localID); err != nil {
			return fmt.Errorf("reconcile message: %w", err)
		}

		msg.DeliveryState = DeliveryConfirmed
		msg.ServerID = serverID
		stored = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// MarkFailed transitions a message pending→failed. Failed messages stay
// visible in the thread so the user can retry or discard. Marking an
// already-failed message is a no-op; a confirmed message cannot fail.
func (s *Store) MarkFailed(localID string) (*Message, error) {
	var stored *Message
	err := s.withTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE local_id = ?`, localID)
		msg, err := scanMessage(row)
		if err == sql.ErrNoRows {
			return &NotFoundError{LocalID: localID}
		}
		if err != nil {
			return fmt.Errorf("get message: %w", err)
		}

		switch msg.DeliveryState {
		case DeliveryFailed:
			stored = msg
			return nil
		case DeliveryConfirmed:
			return &StateError{LocalID: localID, State: msg.DeliveryState, Op: "fail"}
		}

		if _, err := tx.Exec(`
			UPDATE messages SET delivery_state = 'failed'
			WHERE local_id = ? AND delivery_state = 'pending'
		`, localID); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}

		msg.DeliveryState = DeliveryFailed
		stored = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetMessage returns a message by local_id, or a *NotFoundError.
func (s *Store) GetMessage(localID string) (*Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE local_id = ?`, localID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{LocalID: localID}
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListByConversation returns a conversation's messages in total order
// (created_at, local_id). An unknown conversation yields an empty slice,
// not an error: new conversations start empty.
func (s *Store) ListByConversation(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at, local_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// PendingMessages returns all pending self messages in total order.
// Used to resume the outbox after a restart: messages left pending at
// crash time re-enter the retry queue, never silently lost.
func (s *Store) PendingMessages() ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT ` + messageColumns + ` FROM messages
		WHERE delivery_state = 'pending' AND sender_role = 'self'
		ORDER BY created_at, local_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// LatestMessage returns the max message of a conversation by total order,
// or nil if the conversation has no messages.
func (s *Store) LatestMessage(conversationID string) (*Message, error) {
	row := s.db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, local_id DESC
		LIMIT 1
	`, conversationID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return msg, nil
}

// EnsureConversation upserts conversation metadata. Empty fields leave the
// existing values untouched so partial updates from collaborators don't
// erase what another supplied.
func (s *Store) EnsureConversation(conversationID, participantName, participantAvatar, jobRef string) error {
	if conversationID == "" {
		return &ValidationError{Reason: "conversation_id is empty"}
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (conversation_id, participant_name, participant_avatar, job_ref)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			participant_name = CASE WHEN excluded.participant_name != '' THEN excluded.participant_name ELSE participant_name END,
			participant_avatar = CASE WHEN excluded.participant_avatar != '' THEN excluded.participant_avatar ELSE participant_avatar END,
			job_ref = CASE WHEN excluded.job_ref != '' THEN excluded.job_ref ELSE job_ref END,
			updated_at = datetime('now')
	`, conversationID, participantName, participantAvatar, jobRef)
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	return nil
}

// GetConversation returns conversation metadata, or a *NotFoundError.
func (s *Store) GetConversation(conversationID string) (*Conversation, error) {
	var c Conversation
	var lastRead sql.NullString
	err := s.db.QueryRow(`
		SELECT conversation_id, participant_name, participant_avatar, job_ref, last_read_local_id
		FROM conversations WHERE conversation_id = ?
	`, conversationID).Scan(&c.ConversationID, &c.ParticipantName, &c.ParticipantAvatar, &c.JobRef, &lastRead)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{LocalID: conversationID}
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if lastRead.Valid {
		c.LastReadLocalID = lastRead.String
	}
	return &c, nil
}

// ActiveConversationIDs returns ids of conversations that have at least
// one message, ordered by their latest message (newest first). Empty
// conversations are not listed; a conversation becomes visible with its
// first message.
func (s *Store) ActiveConversationIDs() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT conversation_id FROM messages
		GROUP BY conversation_id
		ORDER BY MAX(created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetLastRead stores the read marker for a conversation. Monotonicity is
// enforced by the caller (readstate.Tracker); this is the raw write.
func (s *Store) SetLastRead(conversationID, localID string) error {
	res, err := s.db.Exec(`
		UPDATE conversations SET last_read_local_id = ?, updated_at = datetime('now')
		WHERE conversation_id = ?
	`, localID, conversationID)
	if err != nil {
		return fmt.Errorf("set last read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{LocalID: conversationID}
	}
	return nil
}

// CountUnread returns the number of peer messages strictly after the
// conversation's read marker in the total order. With no marker, every
// peer message is unread.
func (s *Store) CountUnread(conversationID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.conversation_id = m.conversation_id
		WHERE m.conversation_id = ?
		  AND m.sender_role = 'peer'
		  AND (
			c.last_read_local_id IS NULL
			OR EXISTS (
				SELECT 1 FROM messages r
				WHERE r.local_id = c.last_read_local_id
				  AND (m.created_at > r.created_at
					OR (m.created_at = r.created_at AND m.local_id > r.local_id))
			)
		  )
	`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
