// Package coach is the request-level orchestrator: it resolves or creates
// the conversation, persists the inbound message, reconstructs model
// context, invokes the model, parses directives out of the reply, persists
// the assistant message, and returns a structured result.
package coach

import (
	"context"
	"errors"
	"strings"

	"chesscoach/internal/directive"
	"chesscoach/internal/llm"
	"chesscoach/internal/logging"
	"chesscoach/internal/memory"
	"chesscoach/internal/store"
	"chesscoach/internal/types"
)

// Orchestrator coordinates one chat request end to end.
type Orchestrator struct {
	store  *store.LocalStore
	memory *memory.Reconstructor
	client llm.Client
	locks  *conversationLocks
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(s *store.LocalStore, r *memory.Reconstructor, c llm.Client) *Orchestrator {
	return &Orchestrator{
		store:  s,
		memory: r,
		client: c,
		locks:  newConversationLocks(),
	}
}

// ChatRequest is one inbound user message.
type ChatRequest struct {
	UserID string `json:"user_id"`
	// ConversationID is optional: empty or unknown ids create a fresh
	// conversation rather than failing, so a client can always just send.
	ConversationID string         `json:"conversation_id,omitempty"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ChatResult is the structured outcome of one chat request.
type ChatResult struct {
	ConversationID   string                `json:"conversation_id"`
	Title            string                `json:"title"`
	UserMessage      *types.Message        `json:"user_message"`
	AssistantMessage *types.Message        `json:"assistant_message"`
	Reply            string                `json:"reply"`
	Board            *types.BoardUpdate    `json:"board_update,omitempty"`
	Progress         *types.ProgressUpdate `json:"progress_update,omitempty"`
	Lesson           *types.LessonAction   `json:"lesson_action,omitempty"`
}

// Chat runs the full orchestration for one user message. The conversation
// lock is held from before the user message is persisted until after the
// assistant message is persisted, so concurrent requests against the same
// conversation serialize into one consistent history.
//
// If the model call fails, the persisted user message remains as the durable
// record of intent and no assistant message is written; a retry with the
// same text reuses that message instead of duplicating it.
func (o *Orchestrator) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	timer := logging.StartTimer(logging.CategoryCoach, "Chat")
	defer timer.Stop()

	if strings.TrimSpace(req.UserID) == "" {
		return nil, types.ValidationError("user id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, types.ValidationError("message is required")
	}

	conv, err := o.getOrCreateConversation(req)
	if err != nil {
		return nil, err
	}

	if err := o.locks.acquire(ctx, conv.ID); err != nil {
		return nil, types.UpstreamError(err)
	}
	defer o.locks.release(conv.ID)

	// Re-read under the lock: a concurrent request may have changed the
	// conversation (in particular set the title) after the snapshot above.
	conv, err = o.store.GetConversation(conv.ID, req.UserID)
	if err != nil {
		return nil, err
	}

	userMsg, err := o.persistUserMessage(conv.ID, req)
	if err != nil {
		return nil, err
	}

	// First real message replaces the sentinel title.
	title := conv.Title
	if title == types.DefaultTitle {
		title = GenerateTitle(req.Message)
		if err := o.store.UpdateTitle(conv.ID, req.UserID, title); err != nil {
			return nil, err
		}
	}

	turns, err := o.memory.Reconstruct(conv.ID, req.UserID)
	if err != nil {
		return nil, err
	}
	turns = append(turns, types.Turn{Role: types.RoleUser, Content: req.Message})

	logging.Coach("Invoking model for conversation %s (%d context turns)", conv.ID, len(turns))
	reply, err := o.client.Generate(ctx, turns)
	if err != nil {
		// The user message stays persisted; no assistant message for this
		// attempt.
		logging.Coach("Model call failed for conversation %s: %v", conv.ID, err)
		return nil, err
	}

	parsed := directive.Parse(reply, conv.ID)

	// A directive-only reply has no narrative text left after extraction.
	// Persist the raw reply so the assistant turn is never empty and the
	// extracted directives survive; the caller still gets the clean (empty)
	// display text.
	content := parsed.DisplayText
	if content == "" {
		content = strings.TrimSpace(reply)
	}
	if content == "" {
		return nil, types.UpstreamError(errors.New("empty model reply"))
	}

	assistantMeta := map[string]any{types.AnswersKey: userMsg.ID}
	if parsed.HasDirectives() {
		// Audit copy of the extracted directives.
		if parsed.Board != nil {
			assistantMeta["board_update"] = parsed.Board
		}
		if parsed.Progress != nil {
			assistantMeta["progress_update"] = parsed.Progress
		}
		if parsed.Lesson != nil {
			assistantMeta["lesson_action"] = parsed.Lesson
		}
	}

	assistantMsg, err := o.store.AddMessage(conv.ID, types.RoleAssistant, content, assistantMeta)
	if err != nil {
		return nil, err
	}

	return &ChatResult{
		ConversationID:   conv.ID,
		Title:            title,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Reply:            parsed.DisplayText,
		Board:            parsed.Board,
		Progress:         parsed.Progress,
		Lesson:           parsed.Lesson,
	}, nil
}

// getOrCreateConversation resolves the target conversation. A missing or
// foreign conversation id falls back to creating a new conversation instead
// of failing, so stale client state never blocks a chat.
func (o *Orchestrator) getOrCreateConversation(req *ChatRequest) (*types.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := o.store.GetConversation(req.ConversationID, req.UserID)
		if err == nil {
			return conv, nil
		}
		if !types.IsNotFound(err) {
			return nil, err
		}
		logging.CoachDebug("Conversation %s not found for user %s, creating new", req.ConversationID, req.UserID)
	}
	return o.store.CreateConversation(req.UserID, "", req.Metadata)
}

// persistUserMessage appends the inbound message, unless the conversation
// already ends with an identical unanswered user message - the signature of
// a retried request whose earlier model call failed. That message is reused
// so retries never duplicate the user turn.
func (o *Orchestrator) persistUserMessage(conversationID string, req *ChatRequest) (*types.Message, error) {
	last, err := o.store.LastMessage(conversationID)
	if err != nil {
		return nil, err
	}
	if last != nil && last.Role == types.RoleUser && last.Content == req.Message {
		logging.Coach("Reusing unanswered user message %s in conversation %s", last.ID, conversationID)
		return last, nil
	}
	return o.store.AddMessage(conversationID, types.RoleUser, req.Message, req.Metadata)
}
