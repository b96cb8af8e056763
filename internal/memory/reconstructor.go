// Package memory rebuilds model context from durable conversation state.
//
// The external model is invoked statelessly per request, so every usable
// piece of history is reconstructed deterministically on each call: a fixed
// persona turn, an optional insight turn, then the conversation's replayed
// user/assistant pairs in chronological order.
package memory

import (
	"strings"

	"chesscoach/internal/logging"
	"chesscoach/internal/types"
)

// PersonaInstruction is the fixed system-level framing for every model call.
// It is always the first turn in reconstructed context.
const PersonaInstruction = `You are an experienced chess coach. You explain ideas in plain language, ` +
	`adapt to the student's level, and prefer guiding questions over giving away answers. ` +
	`When discussing a position, reference concrete squares and pieces. ` +
	`You may embed at most one of each directive in a reply, each on its own with a one-line JSON object: ` +
	`BOARD_UPDATE: {"fen": "...", "highlightSquares": ["e4"]} to change the displayed position, ` +
	`PROGRESS_UPDATE: {"completed": true, "score": 0.8} to report lesson progress, ` +
	`LESSON_ACTION: {"action": "next"} to navigate the lesson (next, previous, hint, reset).`

// personaAck is the canned acknowledgement paired with the persona turn.
const personaAck = "Understood. I'm ready to coach."

// insightAck is the canned acknowledgement paired with the insight turn.
const insightAck = "Noted. I'll keep that in mind."

// insightPrefix introduces the aggregated insight summaries.
const insightPrefix = "What you know about this student so far: "

// insightSeparator joins individual insight summaries into one turn.
const insightSeparator = "; "

// InsightStore is the slice of the store the reconstructor reads from.
type InsightStore interface {
	GetConversation(conversationID, userID string) (*types.Conversation, error)
	ConversationInsights(conversationID, userID string) ([]types.Insight, error)
}

// Reconstructor builds bounded, ordered context sequences.
type Reconstructor struct {
	store InsightStore

	// maxPairs bounds how many replayed pairs enter context (0 = unlimited).
	// When the bound trips, the oldest pairs are dropped.
	maxPairs int
}

// NewReconstructor creates a reconstructor over the given store.
func NewReconstructor(store InsightStore, maxPairs int) *Reconstructor {
	return &Reconstructor{store: store, maxPairs: maxPairs}
}

// Reconstruct builds the full context sequence for one model invocation.
// The caller appends the current user message as the final turn itself.
func (r *Reconstructor) Reconstruct(conversationID, userID string) ([]types.Turn, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Reconstruct")
	defer timer.Stop()

	conv, err := r.store.GetConversation(conversationID, userID)
	if err != nil {
		return nil, err
	}

	insights, err := r.store.ConversationInsights(conversationID, userID)
	if err != nil {
		return nil, err
	}

	turns := make([]types.Turn, 0, 4+2*len(conv.Messages))
	turns = append(turns,
		types.Turn{Role: types.RoleUser, Content: PersonaInstruction},
		types.Turn{Role: types.RoleAssistant, Content: personaAck},
	)

	// Zero insights means no insight turn at all, never an empty one.
	if len(insights) > 0 {
		summaries := make([]string, 0, len(insights))
		for _, in := range insights {
			summaries = append(summaries, in.Summary)
		}
		turns = append(turns,
			types.Turn{Role: types.RoleUser, Content: insightPrefix + strings.Join(summaries, insightSeparator)},
			types.Turn{Role: types.RoleAssistant, Content: insightAck},
		)
		logging.MemoryDebug("Included %d insights for conversation %s", len(insights), conversationID)
	}

	pairs := PairMessages(conv.Messages)
	if r.maxPairs > 0 && len(pairs) > r.maxPairs {
		pairs = pairs[len(pairs)-r.maxPairs:]
	}
	for _, p := range pairs {
		turns = append(turns,
			types.Turn{Role: types.RoleUser, Content: p.User.Content},
			types.Turn{Role: types.RoleAssistant, Content: p.Assistant.Content},
		)
	}

	logging.Memory("Reconstructed %d turns (%d pairs, %d insights) for conversation %s",
		len(turns), len(pairs), len(insights), conversationID)
	return turns, nil
}

// Pair is one replayed exchange.
type Pair struct {
	User      types.Message
	Assistant types.Message
}

// PairMessages reconstructs user/assistant exchanges from an ordered message
// history. An assistant message carrying an explicit answer link (the
// "answers" metadata key holding a user message id) is paired with exactly
// that user message; unlinked assistant messages fall back to answering the
// chronologically nearest preceding unanswered user message. User messages
// with no answer are excluded from replay: they belong to the current turn,
// not to history.
func PairMessages(messages []types.Message) []Pair {
	// linkTarget maps an assistant message id to the user message id it
	// explicitly answers.
	linkTarget := make(map[string]string)
	answered := make(map[string]types.Message, len(messages)/2)

	for _, m := range messages {
		if m.Role != types.RoleAssistant {
			continue
		}
		if id, ok := m.Metadata[types.AnswersKey].(string); ok && id != "" {
			linkTarget[m.ID] = id
			if _, dup := answered[id]; !dup {
				answered[id] = m
			}
		}
	}

	// Fallback pass: an unlinked assistant message answers the nearest
	// preceding unanswered user message.
	pendingUser := ""
	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			if _, ok := answered[m.ID]; !ok {
				pendingUser = m.ID
			}
		case types.RoleAssistant:
			if target, ok := linkTarget[m.ID]; ok {
				if target == pendingUser {
					pendingUser = ""
				}
				continue
			}
			if pendingUser != "" {
				answered[pendingUser] = m
				pendingUser = ""
			}
		}
	}

	pairs := make([]Pair, 0, len(answered))
	for _, m := range messages {
		if m.Role != types.RoleUser {
			continue
		}
		if a, ok := answered[m.ID]; ok {
			pairs = append(pairs, Pair{User: m, Assistant: a})
		}
	}
	return pairs
}
