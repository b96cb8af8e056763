package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"chesscoach/internal/logging"
	"chesscoach/internal/types"
)

// AddInsight persists a single extracted insight. Category and confidence
// validation lives in the aggregator; the store only enforces referential
// integrity.
func (s *LocalStore) AddInsight(in *types.Insight) (*types.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keywords, err := marshalStrings(in.Keywords)
	if err != nil {
		return nil, types.PersistenceError("encode keywords", err)
	}
	tags, err := marshalStrings(in.RelevanceTags)
	if err != nil {
		return nil, types.PersistenceError("encode relevance tags", err)
	}
	ctxData, err := marshalJSON(in.ContextData)
	if err != nil {
		return nil, types.PersistenceError("encode context data", err)
	}

	stored := *in
	stored.ID = uuid.New().String()
	stored.Active = true
	stored.CreatedAt = time.Now().UTC()

	var expires any
	if stored.ExpiresAt != nil {
		expires = stored.ExpiresAt.UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO conversation_insights
			(id, user_id, conversation_id, insight_type, topic, summary,
			 confidence_score, keywords, relevance_tags, context_data,
			 is_active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.UserID, stored.ConversationID, stored.Type,
		stored.Topic, stored.Summary, stored.Confidence,
		keywords, tags, ctxData, stored.Active, expires, stored.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, types.NotFoundError("conversation")
		}
		return nil, types.PersistenceError("insert insight", err)
	}

	logging.Insight("Stored %s insight %s for user %s", stored.Type, stored.ID, stored.UserID)
	return &stored, nil
}

// ActiveInsights returns a user's active, unexpired insights, newest first.
// An optional type filter narrows to one category. limit <= 0 means all.
func (s *LocalStore) ActiveInsights(userID, insightType string, limit int) ([]types.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, user_id, conversation_id, insight_type, topic, summary,
			confidence_score, keywords, relevance_tags, context_data,
			is_active, expires_at, created_at
		FROM conversation_insights
		WHERE user_id = ? AND is_active = TRUE
			AND (expires_at IS NULL OR expires_at > ?)`
	args := []any{userID, time.Now().UTC()}

	if insightType != "" {
		query += " AND insight_type = ?"
		args = append(args, insightType)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, types.PersistenceError("query insights", err)
	}
	defer rows.Close()

	insights := []types.Insight{}
	for rows.Next() {
		var (
			in       types.Insight
			keywords sql.NullString
			tags     sql.NullString
			ctxData  sql.NullString
			expires  sql.NullTime
		)
		err := rows.Scan(&in.ID, &in.UserID, &in.ConversationID, &in.Type,
			&in.Topic, &in.Summary, &in.Confidence,
			&keywords, &tags, &ctxData, &in.Active, &expires, &in.CreatedAt)
		if err != nil {
			return nil, types.PersistenceError("scan insight", err)
		}
		in.Keywords = unmarshalStrings(keywords)
		in.RelevanceTags = unmarshalStrings(tags)
		in.ContextData = unmarshalJSON(ctxData)
		if expires.Valid {
			t := expires.Time
			in.ExpiresAt = &t
		}
		insights = append(insights, in)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PersistenceError("iterate insights", err)
	}
	return insights, nil
}

// ConversationInsights returns the active, unexpired insights attached to
// one conversation, oldest first, so reconstructed context reads in the
// order the insights were learned.
func (s *LocalStore) ConversationInsights(conversationID, userID string) ([]types.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, conversation_id, insight_type, topic, summary,
			confidence_score, keywords, relevance_tags, context_data,
			is_active, expires_at, created_at
		FROM conversation_insights
		WHERE conversation_id = ? AND user_id = ? AND is_active = TRUE
			AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at ASC`,
		conversationID, userID, time.Now().UTC())
	if err != nil {
		return nil, types.PersistenceError("query conversation insights", err)
	}
	defer rows.Close()

	insights := []types.Insight{}
	for rows.Next() {
		var (
			in       types.Insight
			keywords sql.NullString
			tags     sql.NullString
			ctxData  sql.NullString
			expires  sql.NullTime
		)
		err := rows.Scan(&in.ID, &in.UserID, &in.ConversationID, &in.Type,
			&in.Topic, &in.Summary, &in.Confidence,
			&keywords, &tags, &ctxData, &in.Active, &expires, &in.CreatedAt)
		if err != nil {
			return nil, types.PersistenceError("scan insight", err)
		}
		in.Keywords = unmarshalStrings(keywords)
		in.RelevanceTags = unmarshalStrings(tags)
		in.ContextData = unmarshalJSON(ctxData)
		if expires.Valid {
			t := expires.Time
			in.ExpiresAt = &t
		}
		insights = append(insights, in)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PersistenceError("iterate insights", err)
	}
	return insights, nil
}

// DeactivateInsight marks an insight inactive without deleting it.
func (s *LocalStore) DeactivateInsight(insightID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE conversation_insights SET is_active = FALSE
		WHERE id = ? AND user_id = ?`,
		insightID, userID)
	if err != nil {
		return types.PersistenceError("deactivate insight", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return types.NotFoundError("insight")
	}
	return nil
}
