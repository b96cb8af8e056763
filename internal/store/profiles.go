package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"chesscoach/internal/logging"
	"chesscoach/internal/types"
)

// GetOrCreateProfile returns the coaching profile for a user, creating a
// default one if none exists yet.
func (s *LocalStore) GetOrCreateProfile(userID string) (*types.CoachingProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == "" {
		return nil, types.ValidationError("user id is required")
	}

	profile, err := s.profileLocked(userID)
	if err == nil {
		return profile, nil
	}
	if !types.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	profile = &types.CoachingProfile{
		ID:            uuid.New().String(),
		UserID:        userID,
		SkillLevel:    "beginner",
		LearningStyle: "mixed",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.db.Exec(`
		INSERT INTO coaching_profiles (id, user_id, skill_level, learning_style, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		profile.ID, profile.UserID, profile.SkillLevel, profile.LearningStyle,
		profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		return nil, types.PersistenceError("create coaching profile", err)
	}

	logging.Store("Created coaching profile for user %s", userID)
	return profile, nil
}

func (s *LocalStore) profileLocked(userID string) (*types.CoachingProfile, error) {
	var (
		p       types.CoachingProfile
		rating  sql.NullInt64
		metrics sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, user_id, skill_level, estimated_rating, learning_style,
			progress_metrics, created_at, updated_at
		FROM coaching_profiles
		WHERE user_id = ?`,
		userID).Scan(&p.ID, &p.UserID, &p.SkillLevel, &rating,
		&p.LearningStyle, &metrics, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound("coaching profile", err)
	}
	if rating.Valid {
		p.EstimatedRating = int(rating.Int64)
	}
	p.ProgressMetrics = unmarshalJSON(metrics)
	return &p, nil
}

// UpdateProfile applies non-zero fields from updates to a user's profile and
// merges progress metrics key-wise.
func (s *LocalStore) UpdateProfile(userID string, updates *types.CoachingProfile) (*types.CoachingProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.profileLocked(userID)
	if err != nil {
		return nil, err
	}

	if updates.SkillLevel != "" {
		current.SkillLevel = updates.SkillLevel
	}
	if updates.EstimatedRating != 0 {
		current.EstimatedRating = updates.EstimatedRating
	}
	if updates.LearningStyle != "" {
		current.LearningStyle = updates.LearningStyle
	}
	if updates.ProgressMetrics != nil {
		if current.ProgressMetrics == nil {
			current.ProgressMetrics = make(map[string]any, len(updates.ProgressMetrics))
		}
		for k, v := range updates.ProgressMetrics {
			current.ProgressMetrics[k] = v
		}
	}

	metrics, err := marshalJSON(current.ProgressMetrics)
	if err != nil {
		return nil, types.PersistenceError("encode progress metrics", err)
	}

	var rating any
	if current.EstimatedRating != 0 {
		rating = current.EstimatedRating
	}

	current.UpdatedAt = time.Now().UTC()
	_, err = s.db.Exec(`
		UPDATE coaching_profiles
		SET skill_level = ?, estimated_rating = ?, learning_style = ?,
			progress_metrics = ?, updated_at = ?
		WHERE user_id = ?`,
		current.SkillLevel, rating, current.LearningStyle,
		metrics, current.UpdatedAt, userID)
	if err != nil {
		return nil, types.PersistenceError("update coaching profile", err)
	}

	return current, nil
}
