package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"chesscoach/internal/logging"
	"chesscoach/internal/types"
)

// AddMessage appends a message to a conversation and bumps the conversation's
// updated_at. The sequence number is assigned inside the same transaction so
// concurrent appends cannot collide. Ownership is assumed to have been
// checked by the caller; a dangling conversation id still fails on the
// foreign key.
func (s *LocalStore) AddMessage(conversationID, role, content string, metadata map[string]any) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !types.ValidRole(role) {
		return nil, types.ValidationError("invalid message role %q", role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, types.ValidationError("message content is required")
	}

	meta, err := marshalJSON(metadata)
	if err != nil {
		return nil, types.PersistenceError("encode message metadata", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, types.PersistenceError("begin transaction", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&seq)
	if err != nil {
		return nil, types.PersistenceError("assign message seq", err)
	}

	now := time.Now().UTC()
	msg := &types.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Seq:            seq,
		Metadata:       metadata,
		CreatedAt:      now,
	}

	_, err = tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, seq, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Seq, meta, msg.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, types.NotFoundError("conversation")
		}
		return nil, types.PersistenceError("insert message", err)
	}

	// Any append counts as conversation activity.
	_, err = tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now, conversationID)
	if err != nil {
		return nil, types.PersistenceError("touch conversation", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, types.PersistenceError("commit message", err)
	}

	logging.StoreDebug("Added %s message seq=%d to conversation %s", role, seq, conversationID)
	return msg, nil
}

// Messages returns a conversation's messages ordered by seq ascending.
// limit <= 0 means all; offset skips from the start of the conversation.
func (s *LocalStore) Messages(conversationID string, limit, offset int) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesLocked(conversationID, limit, offset)
}

func (s *LocalStore) messagesLocked(conversationID string, limit, offset int) ([]types.Message, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, seq, metadata, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
		LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, types.PersistenceError("query messages", err)
	}
	defer rows.Close()

	messages := []types.Message{}
	for rows.Next() {
		var (
			m    types.Message
			meta sql.NullString
		)
		err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.Seq, &meta, &m.CreatedAt)
		if err != nil {
			return nil, types.PersistenceError("scan message", err)
		}
		m.Metadata = unmarshalJSON(meta)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PersistenceError("iterate messages", err)
	}
	return messages, nil
}

// LastMessage returns the most recent message of a conversation, or nil when
// the conversation is empty.
func (s *LocalStore) LastMessage(conversationID string) (*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		m    types.Message
		meta sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, conversation_id, role, content, seq, metadata, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq DESC
		LIMIT 1`,
		conversationID).Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
		&m.Seq, &meta, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.PersistenceError("query last message", err)
	}
	m.Metadata = unmarshalJSON(meta)
	return &m, nil
}

// isForeignKeyViolation reports whether err is a sqlite FK constraint error.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
