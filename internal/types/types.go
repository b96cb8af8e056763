// Package types defines the shared data model for the coaching conversation
// engine: conversations, messages, insights, directives, and the error
// taxonomy used across the store, orchestrator, and HTTP layers.
package types

import "time"

// Message roles. Only these two roles are ever persisted; the persona and
// insight turns exist solely inside reconstructed context.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role is one of the persisted message roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// DefaultTitle is the sentinel title assigned to conversations created
// without one. It is replaced by the auto-generated title once the first
// user message arrives.
const DefaultTitle = "New Conversation"

// Conversation is a persisted multi-turn coaching conversation.
type Conversation struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Title            string         `json:"title"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CoachingMetadata map[string]any `json:"coaching_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	// Messages is populated on full reads, ordered by Seq ascending.
	Messages []Message `json:"messages,omitempty"`
}

// Message is one persisted turn half. Seq imposes a total order within a
// conversation: it is unique per conversation and assigned monotonically.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Seq            int64          `json:"seq"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AnswersKey is the message-metadata key on assistant messages holding the
// id of the user message they answer. Reconstruction prefers this explicit
// link over positional pairing.
const AnswersKey = "answers"

// ConversationSummary is a listing entry: conversation metadata annotated
// with its single most recent message for preview purposes.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	LastRole     string    `json:"last_role,omitempty"`
	LastContent  string    `json:"last_content,omitempty"`
	LastAt       time.Time `json:"last_at,omitempty"`
}

// Insight categories. Closed set; anything else is a ValidationError.
const (
	InsightSkillAssessment    = "skill_assessment"
	InsightMistakePattern     = "mistake_pattern"
	InsightLearningPreference = "learning_preference"
	InsightTopicInterest      = "topic_interest"
	InsightDifficultyLevel    = "difficulty_level"
	InsightQuestionPattern    = "question_pattern"
	InsightProgressIndicator  = "progress_indicator"
	InsightEmotionalState     = "emotional_state"
	InsightConfusionPoint     = "confusion_point"
	InsightBreakthroughMoment = "breakthrough_moment"
)

var insightTypes = map[string]bool{
	InsightSkillAssessment:    true,
	InsightMistakePattern:     true,
	InsightLearningPreference: true,
	InsightTopicInterest:      true,
	InsightDifficultyLevel:    true,
	InsightQuestionPattern:    true,
	InsightProgressIndicator:  true,
	InsightEmotionalState:     true,
	InsightConfusionPoint:     true,
	InsightBreakthroughMoment: true,
}

// ValidInsightType reports whether t belongs to the closed category set.
func ValidInsightType(t string) bool {
	return insightTypes[t]
}

// Insight is a durable, categorized fact about a learner extracted from
// conversation history. Insights are append-only from this subsystem's
// perspective; invalidation happens through Active=false or ExpiresAt.
type Insight struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	Type           string         `json:"insight_type"`
	Topic          string         `json:"topic"`
	Summary        string         `json:"summary"`
	Confidence     float64        `json:"confidence_score"`
	Keywords       []string       `json:"keywords,omitempty"`
	RelevanceTags  []string       `json:"relevance_tags,omitempty"`
	ContextData    map[string]any `json:"context_data,omitempty"`
	Active         bool           `json:"is_active"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CoachingProfile is the per-user coaching record.
type CoachingProfile struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	SkillLevel      string         `json:"skill_level"`
	EstimatedRating int            `json:"estimated_rating,omitempty"`
	LearningStyle   string         `json:"learning_style"`
	ProgressMetrics map[string]any `json:"progress_metrics,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Turn is one entry in a reconstructed model context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BoardUpdate instructs the client to change the displayed position.
type BoardUpdate struct {
	FEN              string   `json:"fen"`
	HighlightSquares []string `json:"highlightSquares,omitempty"`
}

// ProgressUpdate reports lesson progress extracted from a reply.
type ProgressUpdate struct {
	Completed bool    `json:"completed"`
	Score     float64 `json:"score"`
}

// Lesson actions the model may request.
const (
	LessonNext     = "next"
	LessonPrevious = "previous"
	LessonHint     = "hint"
	LessonReset    = "reset"
)

// LessonAction is a lesson navigation request extracted from a reply.
type LessonAction struct {
	Action string `json:"action"`
}

// ValidLessonAction reports whether a is a recognized lesson action.
func ValidLessonAction(a string) bool {
	switch a {
	case LessonNext, LessonPrevious, LessonHint, LessonReset:
		return true
	}
	return false
}
