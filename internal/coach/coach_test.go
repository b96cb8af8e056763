package coach

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chesscoach/internal/memory"
	"chesscoach/internal/store"
	"chesscoach/internal/types"
)

// mockClient returns scripted replies and records every context it was
// handed.
type mockClient struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	calls   int
	turnLog [][]types.Turn
}

func (m *mockClient) Generate(ctx context.Context, turns []types.Turn) (string, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return "", types.UpstreamError(ctx.Err())
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	copied := make([]types.Turn, len(turns))
	copy(copied, turns)
	m.turnLog = append(m.turnLog, copied)
	if m.err != nil {
		return "", m.err
	}
	if m.reply != "" {
		return m.reply, nil
	}
	return fmt.Sprintf("coached reply %d", m.calls), nil
}

func (m *mockClient) Model() string { return "mock" }

func newTestOrchestrator(t *testing.T, client *mockClient) (*Orchestrator, *store.LocalStore) {
	t.Helper()
	s, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return NewOrchestrator(s, memory.NewReconstructor(s, 0), client), s
}

func TestChatCreatesConversationAndTitle(t *testing.T) {
	client := &mockClient{reply: "Pawns move forward."}
	o, s := newTestOrchestrator(t, client)

	result, err := o.Chat(context.Background(), &ChatRequest{
		UserID:  "user-1",
		Message: "How do pawns move?",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ConversationID)
	assert.Equal(t, "How do pawns move?", result.Title)
	assert.Equal(t, "Pawns move forward.", result.Reply)

	conv, err := s.GetConversation(result.ConversationID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "How do pawns move?", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, types.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, types.RoleAssistant, conv.Messages[1].Role)

	// The assistant message links back to the user message it answers.
	assert.Equal(t, conv.Messages[0].ID, conv.Messages[1].Metadata[types.AnswersKey])
}

func TestChatValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockClient{})

	_, err := o.Chat(context.Background(), &ChatRequest{UserID: "", Message: "hi"})
	assert.True(t, types.IsValidation(err))

	_, err = o.Chat(context.Background(), &ChatRequest{UserID: "u", Message: "  "})
	assert.True(t, types.IsValidation(err))
}

func TestChatContinuesExistingConversation(t *testing.T) {
	client := &mockClient{}
	o, _ := newTestOrchestrator(t, client)

	first, err := o.Chat(context.Background(), &ChatRequest{UserID: "u1", Message: "What is a pin?"})
	require.NoError(t, err)

	second, err := o.Chat(context.Background(), &ChatRequest{
		UserID:         "u1",
		ConversationID: first.ConversationID,
		Message:        "And a skewer?",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	// The title from the first message sticks.
	assert.Equal(t, "What is a pin?", second.Title)

	// The second call's context replays the first exchange.
	lastTurns := client.turnLog[len(client.turnLog)-1]
	require.GreaterOrEqual(t, len(lastTurns), 5)
	assert.Equal(t, "What is a pin?", lastTurns[len(lastTurns)-3].Content)
	assert.Equal(t, "And a skewer?", lastTurns[len(lastTurns)-1].Content)
}

func TestChatUnknownConversationFallsBackToCreate(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockClient{})

	result, err := o.Chat(context.Background(), &ChatRequest{
		UserID:         "u1",
		ConversationID: "stale-id",
		Message:        "hello",
	})
	require.NoError(t, err)
	assert.NotEqual(t, "stale-id", result.ConversationID)
}

func TestChatModelFailureKeepsUserMessage(t *testing.T) {
	client := &mockClient{err: types.UpstreamError(errors.New("quota exceeded"))}
	o, s := newTestOrchestrator(t, client)

	conv, err := s.CreateConversation("u1", "", nil)
	require.NoError(t, err)

	_, err = o.Chat(context.Background(), &ChatRequest{
		UserID:         "u1",
		ConversationID: conv.ID,
		Message:        "explain castling",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUpstream))

	// The user message is the durable record; no assistant message exists.
	got, err := s.GetConversation(conv.ID, "u1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, types.RoleUser, got.Messages[0].Role)
}

func TestChatRetryReusesUnansweredUserMessage(t *testing.T) {
	client := &mockClient{err: types.UpstreamError(errors.New("timeout"))}
	o, s := newTestOrchestrator(t, client)

	conv, err := s.CreateConversation("u1", "", nil)
	require.NoError(t, err)

	req := &ChatRequest{UserID: "u1", ConversationID: conv.ID, Message: "explain castling"}
	_, err = o.Chat(context.Background(), req)
	require.Error(t, err)

	// Retry succeeds; the earlier user message is reused, not duplicated.
	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()

	result, err := o.Chat(context.Background(), req)
	require.NoError(t, err)

	got, err := s.GetConversation(conv.ID, "u1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, got.Messages[0].ID, result.UserMessage.ID)
}

func TestChatExtractsDirectives(t *testing.T) {
	client := &mockClient{reply: `Nice! BOARD_UPDATE: {"fen":"8/8/8/8/8/8/8/8"} LESSON_ACTION: {"action":"next"}`}
	o, s := newTestOrchestrator(t, client)

	result, err := o.Chat(context.Background(), &ChatRequest{UserID: "u1", Message: "I played e4"})
	require.NoError(t, err)

	assert.Equal(t, "Nice!", result.Reply)
	require.NotNil(t, result.Board)
	assert.Equal(t, "8/8/8/8/8/8/8/8", result.Board.FEN)
	require.NotNil(t, result.Lesson)
	assert.Equal(t, "next", result.Lesson.Action)

	// The persisted assistant message stores clean text plus an audit copy.
	conv, err := s.GetConversation(result.ConversationID, "u1")
	require.NoError(t, err)
	assistant := conv.Messages[1]
	assert.Equal(t, "Nice!", assistant.Content)
	assert.Contains(t, assistant.Metadata, "board_update")
	assert.Contains(t, assistant.Metadata, "lesson_action")
}

func TestChatDirectiveOnlyReply(t *testing.T) {
	// A reply that is nothing but a directive must still succeed: the
	// side channel never aborts an otherwise-successful model call.
	client := &mockClient{reply: `BOARD_UPDATE: {"fen":"8/8/8/8/8/8/8/8"}`}
	o, s := newTestOrchestrator(t, client)

	result, err := o.Chat(context.Background(), &ChatRequest{UserID: "u1", Message: "show me an empty board"})
	require.NoError(t, err)

	require.NotNil(t, result.Board)
	assert.Equal(t, "8/8/8/8/8/8/8/8", result.Board.FEN)
	assert.Empty(t, result.Reply)

	// The persisted assistant turn carries the raw reply, never empty
	// content.
	conv, err := s.GetConversation(result.ConversationID, "u1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, `BOARD_UPDATE: {"fen":"8/8/8/8/8/8/8/8"}`, conv.Messages[1].Content)
}

func TestChatEmptyReplyIsUpstreamError(t *testing.T) {
	client := &mockClient{reply: "   "}
	o, _ := newTestOrchestrator(t, client)

	_, err := o.Chat(context.Background(), &ChatRequest{UserID: "u1", Message: "hello"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUpstream))
}

func TestChatConcurrentFirstMessagesTitle(t *testing.T) {
	// Two concurrent first messages both snapshot the sentinel title before
	// either holds the lock; the title must come from whichever user
	// message lands first, not from whichever request finishes last.
	client := &mockClient{delay: 20 * time.Millisecond}
	o, s := newTestOrchestrator(t, client)

	conv, err := s.CreateConversation("u1", "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = o.Chat(context.Background(), &ChatRequest{
				UserID:         "u1",
				ConversationID: conv.ID,
				Message:        fmt.Sprintf("first message variant %d", i),
			})
		}(i)
	}
	wg.Wait()

	got, err := s.GetConversation(conv.ID, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, got.Messages)
	assert.Equal(t, GenerateTitle(got.Messages[0].Content), got.Title)
}

func TestConversationLocksPruned(t *testing.T) {
	locks := newConversationLocks()

	require.NoError(t, locks.acquire(context.Background(), "c1"))
	require.NoError(t, locks.acquire(context.Background(), "c2"))
	assert.Equal(t, 2, locks.size())

	locks.release("c1")
	assert.Equal(t, 1, locks.size())
	locks.release("c2")
	assert.Equal(t, 0, locks.size())

	// A waiter abandoning the queue must not leave an entry behind either.
	require.NoError(t, locks.acquire(context.Background(), "c3"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, locks.acquire(ctx, "c3"))
	assert.Equal(t, 1, locks.size())
	locks.release("c3")
	assert.Equal(t, 0, locks.size())
}

func TestChatLocksDoNotAccumulate(t *testing.T) {
	o, _ := newTestOrchestrator(t, &mockClient{})

	for i := 0; i < 5; i++ {
		_, err := o.Chat(context.Background(), &ChatRequest{
			UserID:  "u1",
			Message: fmt.Sprintf("question %d", i),
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, o.locks.size())
}

func TestChatConcurrentRequestsSerialize(t *testing.T) {
	// The sql.DB opener goroutine lives until the store closes in cleanup.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	client := &mockClient{delay: 20 * time.Millisecond}
	o, s := newTestOrchestrator(t, client)

	conv, err := s.CreateConversation("u1", "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Chat(context.Background(), &ChatRequest{
				UserID:         "u1",
				ConversationID: conv.ID,
				Message:        fmt.Sprintf("question %d", i),
			})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Both exchanges are present in one consistent total order: every
	// assistant message immediately follows the user message it answers.
	got, err := s.GetConversation(conv.ID, "u1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 4)
	for i := 0; i < 4; i += 2 {
		assert.Equal(t, types.RoleUser, got.Messages[i].Role)
		assert.Equal(t, types.RoleAssistant, got.Messages[i+1].Role)
		assert.Equal(t, got.Messages[i].ID, got.Messages[i+1].Metadata[types.AnswersKey])
	}

	// Neither reconstructed context may contain a half-finished exchange
	// from the other request.
	client.mu.Lock()
	defer client.mu.Unlock()
	for _, turns := range client.turnLog {
		users := 0
		for _, turn := range turns[:len(turns)-1] {
			if turn.Role == types.RoleUser {
				users++
			}
		}
		replayedAssistants := 0
		for _, turn := range turns[:len(turns)-1] {
			if turn.Role == types.RoleAssistant {
				replayedAssistants++
			}
		}
		assert.Equal(t, users, replayedAssistants)
	}
}

func TestChatLockReleasedAfterFailure(t *testing.T) {
	client := &mockClient{err: types.UpstreamError(errors.New("boom"))}
	o, s := newTestOrchestrator(t, client)

	conv, err := s.CreateConversation("u1", "", nil)
	require.NoError(t, err)

	req := &ChatRequest{UserID: "u1", ConversationID: conv.ID, Message: "hi"}
	_, err = o.Chat(context.Background(), req)
	require.Error(t, err)

	// A failed request must not leave the conversation locked.
	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = o.Chat(ctx, req)
	require.NoError(t, err)
}
