package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"chesscoach/internal/logging"
	"chesscoach/internal/types"
)

// CreateConversation creates a new conversation for a user. An empty title
// falls back to the sentinel default.
func (s *LocalStore) CreateConversation(userID, title string, metadata map[string]any) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(userID) == "" {
		return nil, types.ValidationError("user id is required")
	}
	if title == "" {
		title = types.DefaultTitle
	}

	meta, err := marshalJSON(metadata)
	if err != nil {
		return nil, types.PersistenceError("encode metadata", err)
	}

	now := time.Now().UTC()
	conv := &types.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.Exec(`
		INSERT INTO conversations (id, user_id, title, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, meta, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, types.PersistenceError("create conversation", err)
	}

	logging.Store("Created conversation %s for user %s", conv.ID, userID)
	return conv, nil
}

// GetConversation loads a conversation with its full ordered message history.
// Returns not-found for a missing id and for an ownership miss alike.
func (s *LocalStore) GetConversation(conversationID, userID string) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, err := s.getConversationLocked(conversationID, userID)
	if err != nil {
		return nil, err
	}

	messages, err := s.messagesLocked(conversationID, 0, 0)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages

	return conv, nil
}

// getConversationLocked loads conversation metadata only. Caller holds s.mu.
func (s *LocalStore) getConversationLocked(conversationID, userID string) (*types.Conversation, error) {
	var (
		conv         types.Conversation
		meta         sql.NullString
		coachingMeta sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, user_id, title, metadata, coaching_metadata, created_at, updated_at
		FROM conversations
		WHERE id = ? AND user_id = ?`,
		conversationID, userID).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &meta, &coachingMeta,
		&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, notFound("conversation", err)
	}

	conv.Metadata = unmarshalJSON(meta)
	conv.CoachingMetadata = unmarshalJSON(coachingMeta)
	return &conv, nil
}

// UpdateTitle replaces a conversation's title.
func (s *LocalStore) UpdateTitle(conversationID, userID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(title) == "" {
		return types.ValidationError("title is required")
	}

	result, err := s.db.Exec(`
		UPDATE conversations SET title = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		title, time.Now().UTC(), conversationID, userID)
	if err != nil {
		return types.PersistenceError("update title", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return types.NotFoundError("conversation")
	}

	logging.StoreDebug("Updated title of conversation %s", conversationID)
	return nil
}

// UpdateCoachingMetadata merges the given keys into a conversation's coaching
// metadata. Existing keys not named in updates are preserved.
func (s *LocalStore) UpdateCoachingMetadata(conversationID, userID string, updates map[string]any) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getConversationLocked(conversationID, userID)
	if err != nil {
		return nil, err
	}

	merged := conv.CoachingMetadata
	if merged == nil {
		merged = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		merged[k] = v
	}

	raw, err := marshalJSON(merged)
	if err != nil {
		return nil, types.PersistenceError("encode coaching metadata", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		UPDATE conversations SET coaching_metadata = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		raw, now, conversationID, userID)
	if err != nil {
		return nil, types.PersistenceError("update coaching metadata", err)
	}

	conv.CoachingMetadata = merged
	conv.UpdatedAt = now
	return conv, nil
}

// DeleteConversation removes a conversation; messages and insights cascade.
func (s *LocalStore) DeleteConversation(conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		DELETE FROM conversations WHERE id = ? AND user_id = ?`,
		conversationID, userID)
	if err != nil {
		return types.PersistenceError("delete conversation", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return types.NotFoundError("conversation")
	}

	logging.Store("Deleted conversation %s", conversationID)
	return nil
}

// ListConversations returns a user's conversations newest-activity-first,
// each annotated with a preview of its latest message. limit <= 0 means no
// limit.
func (s *LocalStore) ListConversations(userID string, limit, offset int) ([]types.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
		SELECT c.id, c.title, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			lm.role, lm.content, lm.created_at
		FROM conversations c
		LEFT JOIN messages lm ON lm.conversation_id = c.id
			AND lm.seq = (SELECT MAX(seq) FROM messages WHERE conversation_id = c.id)
		WHERE c.user_id = ?
		ORDER BY c.updated_at DESC
		LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, types.PersistenceError("list conversations", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// SearchConversations finds a user's conversations whose title or any message
// content contains the query, case-insensitively. Results carry the same
// preview annotations as ListConversations.
func (s *LocalStore) SearchConversations(userID, query string, limit int) ([]types.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.TrimSpace(query) == "" {
		return nil, types.ValidationError("search query is required")
	}
	if limit <= 0 {
		limit = -1
	}
	pattern := "%" + strings.ToLower(query) + "%"

	rows, err := s.db.Query(`
		SELECT c.id, c.title, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			lm.role, lm.content, lm.created_at
		FROM conversations c
		LEFT JOIN messages lm ON lm.conversation_id = c.id
			AND lm.seq = (SELECT MAX(seq) FROM messages WHERE conversation_id = c.id)
		WHERE c.user_id = ?
			AND (lower(c.title) LIKE ?
				OR EXISTS (SELECT 1 FROM messages m2
					WHERE m2.conversation_id = c.id AND lower(m2.content) LIKE ?))
		ORDER BY c.updated_at DESC
		LIMIT ?`,
		userID, pattern, pattern, limit)
	if err != nil {
		return nil, types.PersistenceError("search conversations", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]types.ConversationSummary, error) {
	summaries := []types.ConversationSummary{}
	for rows.Next() {
		var (
			s        types.ConversationSummary
			lastRole sql.NullString
			lastText sql.NullString
			lastAt   sql.NullTime
		)
		err := rows.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt,
			&s.MessageCount, &lastRole, &lastText, &lastAt)
		if err != nil {
			return nil, types.PersistenceError("scan conversation summary", err)
		}
		if lastRole.Valid {
			s.LastRole = lastRole.String
			s.LastContent = lastText.String
			s.LastAt = lastAt.Time
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PersistenceError("iterate conversation summaries", err)
	}
	return summaries, nil
}
