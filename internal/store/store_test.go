package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chesscoach/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateConversation(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "Opening prep", map[string]any{"source": "web"})
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "user-1", conv.UserID)
	assert.Equal(t, "Opening prep", conv.Title)
	assert.Equal(t, "web", conv.Metadata["source"])
}

func TestCreateConversationDefaultTitle(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultTitle, conv.Title)
}

func TestCreateConversationRequiresUser(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateConversation("", "title", nil)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestGetConversationWithMessages(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)

	_, err = s.AddMessage(conv.ID, types.RoleUser, "What is a fork?", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, types.RoleAssistant, "A fork attacks two pieces at once.", nil)
	require.NoError(t, err)

	got, err := s.GetConversation(conv.ID, "user-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, types.RoleUser, got.Messages[0].Role)
	assert.Equal(t, types.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, int64(1), got.Messages[0].Seq)
	assert.Equal(t, int64(2), got.Messages[1].Seq)
}

func TestGetConversationOwnership(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)

	// Wrong owner and missing id must be indistinguishable.
	_, err = s.GetConversation(conv.ID, "user-2")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))

	_, err = s.GetConversation("no-such-id", "user-1")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestUpdateTitle(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateTitle(conv.ID, "user-1", "Knight endgames"))

	got, err := s.GetConversation(conv.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Knight endgames", got.Title)

	err = s.UpdateTitle(conv.ID, "user-2", "hijack")
	assert.True(t, types.IsNotFound(err))

	err = s.UpdateTitle(conv.ID, "user-1", "   ")
	assert.True(t, types.IsValidation(err))
}

func TestDeleteConversationCascades(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, types.RoleUser, "hello", nil)
	require.NoError(t, err)
	_, err = s.AddInsight(&types.Insight{
		UserID:         "user-1",
		ConversationID: conv.ID,
		Type:           types.InsightTopicInterest,
		Topic:          "openings",
		Summary:        "interested in the Italian",
		Confidence:     0.8,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(conv.ID, "user-1"))

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats["messages"])
	assert.Equal(t, int64(0), stats["conversation_insights"])

	err = s.DeleteConversation(conv.ID, "user-1")
	assert.True(t, types.IsNotFound(err))
}

func TestAddMessageValidation(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)

	_, err = s.AddMessage(conv.ID, "system", "nope", nil)
	assert.True(t, types.IsValidation(err))

	_, err = s.AddMessage(conv.ID, types.RoleUser, "  ", nil)
	assert.True(t, types.IsValidation(err))

	_, err = s.AddMessage("no-such-conversation", types.RoleUser, "hello", nil)
	assert.True(t, types.IsNotFound(err))
}

func TestAddMessageBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = s.AddMessage(conv.ID, types.RoleUser, "hello", nil)
	require.NoError(t, err)

	got, err := s.GetConversation(conv.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(conv.UpdatedAt))
}

func TestListConversations(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateConversation("user-1", "First", nil)
	require.NoError(t, err)
	second, err := s.CreateConversation("user-1", "Second", nil)
	require.NoError(t, err)
	_, err = s.CreateConversation("user-2", "Other user", nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = s.AddMessage(first.ID, types.RoleUser, "recent activity", nil)
	require.NoError(t, err)

	list, err := s.ListConversations("user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Most recent activity first.
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, 1, list[0].MessageCount)
	assert.Equal(t, "recent activity", list[0].LastContent)
	assert.Equal(t, types.RoleUser, list[0].LastRole)
	assert.Equal(t, 0, list[1].MessageCount)
	assert.Empty(t, list[1].LastContent)
}

func TestListConversationsPagination(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.CreateConversation("user-1", "", nil)
		require.NoError(t, err)
	}

	page, err := s.ListConversations("user-1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestSearchConversations(t *testing.T) {
	s := newTestStore(t)

	byTitle, err := s.CreateConversation("user-1", "Sicilian Defense basics", nil)
	require.NoError(t, err)
	byContent, err := s.CreateConversation("user-1", "Untitled", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(byContent.ID, types.RoleUser, "Explain the SICILIAN dragon", nil)
	require.NoError(t, err)
	_, err = s.CreateConversation("user-1", "Endgame drills", nil)
	require.NoError(t, err)

	results, err := s.SearchConversations("user-1", "sicilian", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := []string{results[0].ID, results[1].ID}
	assert.Contains(t, ids, byTitle.ID)
	assert.Contains(t, ids, byContent.ID)

	_, err = s.SearchConversations("user-1", "  ", 0)
	assert.True(t, types.IsValidation(err))
}

func TestInsightLifecycle(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)

	in, err := s.AddInsight(&types.Insight{
		UserID:         "user-1",
		ConversationID: conv.ID,
		Type:           types.InsightMistakePattern,
		Topic:          "hanging pieces",
		Summary:        "frequently leaves knights undefended",
		Confidence:     0.7,
		Keywords:       []string{"knight", "blunder"},
	})
	require.NoError(t, err)
	assert.True(t, in.Active)

	active, err := s.ActiveInsights("user-1", "", 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"knight", "blunder"}, active[0].Keywords)

	// Type filter
	none, err := s.ActiveInsights("user-1", types.InsightEmotionalState, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.DeactivateInsight(in.ID, "user-1"))
	active, err = s.ActiveInsights("user-1", "", 0)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestActiveInsightsSkipsExpired(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	_, err = s.AddInsight(&types.Insight{
		UserID:         "user-1",
		ConversationID: conv.ID,
		Type:           types.InsightSkillAssessment,
		Topic:          "tactics",
		Summary:        "stale",
		Confidence:     0.5,
		ExpiresAt:      &past,
	})
	require.NoError(t, err)

	active, err := s.ActiveInsights("user-1", "", 0)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCoachingMetadataMerge(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)

	_, err = s.UpdateCoachingMetadata(conv.ID, "user-1", map[string]any{
		"lesson_id": "l-1", "step": float64(2),
	})
	require.NoError(t, err)

	updated, err := s.UpdateCoachingMetadata(conv.ID, "user-1", map[string]any{
		"step": float64(3),
	})
	require.NoError(t, err)

	// Merge preserves untouched keys.
	assert.Equal(t, "l-1", updated.CoachingMetadata["lesson_id"])
	assert.Equal(t, float64(3), updated.CoachingMetadata["step"])

	_, err = s.UpdateCoachingMetadata(conv.ID, "user-2", map[string]any{"x": 1})
	assert.True(t, types.IsNotFound(err))
}

func TestCoachingProfile(t *testing.T) {
	s := newTestStore(t)

	p, err := s.GetOrCreateProfile("user-1")
	require.NoError(t, err)
	assert.Equal(t, "beginner", p.SkillLevel)
	assert.Equal(t, "mixed", p.LearningStyle)

	again, err := s.GetOrCreateProfile("user-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	updated, err := s.UpdateProfile("user-1", &types.CoachingProfile{
		SkillLevel:      "intermediate",
		EstimatedRating: 1450,
		ProgressMetrics: map[string]any{"lessons_done": float64(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, "intermediate", updated.SkillLevel)
	assert.Equal(t, 1450, updated.EstimatedRating)
	assert.Equal(t, "mixed", updated.LearningStyle)

	updated, err = s.UpdateProfile("user-1", &types.CoachingProfile{
		ProgressMetrics: map[string]any{"puzzles_solved": float64(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(3), updated.ProgressMetrics["lessons_done"])
	assert.Equal(t, float64(10), updated.ProgressMetrics["puzzles_solved"])
}

func TestLastMessage(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", "", nil)
	require.NoError(t, err)

	last, err := s.LastMessage(conv.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = s.AddMessage(conv.ID, types.RoleUser, "first", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, types.RoleAssistant, "second", nil)
	require.NoError(t, err)

	last, err = s.LastMessage(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "second", last.Content)
}
