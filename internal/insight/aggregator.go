// Package insight validates and persists learner insights produced by the
// external analysis collaborator. Insights are append-only here; expiry and
// deactivation are driven from outside.
package insight

import (
	"strings"

	"chesscoach/internal/logging"
	"chesscoach/internal/store"
	"chesscoach/internal/types"
)

// Aggregator is the write path for insights and coaching metadata.
type Aggregator struct {
	store *store.LocalStore
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(s *store.LocalStore) *Aggregator {
	return &Aggregator{store: s}
}

// AddInsights validates and persists a batch of insights against one
// conversation. The whole batch is validated before anything is written so a
// bad entry never leaves a partial batch behind. Ownership of the
// conversation is checked first under the same not-found rule as every other
// read.
func (a *Aggregator) AddInsights(conversationID, userID string, insights []types.Insight) ([]types.Insight, error) {
	if len(insights) == 0 {
		return nil, types.ValidationError("at least one insight is required")
	}

	if _, err := a.store.GetConversation(conversationID, userID); err != nil {
		return nil, err
	}

	for i := range insights {
		if err := validate(&insights[i]); err != nil {
			return nil, err
		}
	}

	stored := make([]types.Insight, 0, len(insights))
	for i := range insights {
		in := insights[i]
		in.UserID = userID
		in.ConversationID = conversationID

		persisted, err := a.store.AddInsight(&in)
		if err != nil {
			return nil, err
		}
		stored = append(stored, *persisted)
	}

	logging.Insight("Aggregated %d insights for conversation %s", len(stored), conversationID)
	return stored, nil
}

// UpdateCoachingMetadata merges a patch into a conversation's coaching
// metadata and returns the merged map.
func (a *Aggregator) UpdateCoachingMetadata(conversationID, userID string, patch map[string]any) (map[string]any, error) {
	if len(patch) == 0 {
		return nil, types.ValidationError("metadata patch is required")
	}

	conv, err := a.store.UpdateCoachingMetadata(conversationID, userID, patch)
	if err != nil {
		return nil, err
	}
	return conv.CoachingMetadata, nil
}

// ActiveInsights reads back a user's active insights, optionally narrowed to
// one category.
func (a *Aggregator) ActiveInsights(userID, insightType string, limit int) ([]types.Insight, error) {
	if insightType != "" && !types.ValidInsightType(insightType) {
		return nil, types.ValidationError("unknown insight type %q", insightType)
	}
	return a.store.ActiveInsights(userID, insightType, limit)
}

// validate checks one insight against the closed category set and the
// confidence range.
func validate(in *types.Insight) error {
	if !types.ValidInsightType(in.Type) {
		return types.ValidationError("unknown insight type %q", in.Type)
	}
	if strings.TrimSpace(in.Topic) == "" {
		return types.ValidationError("insight topic is required")
	}
	if strings.TrimSpace(in.Summary) == "" {
		return types.ValidationError("insight summary is required")
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return types.ValidationError("confidence score %v outside [0,1]", in.Confidence)
	}
	return nil
}
