package coach

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// convLock is one conversation's serialization point. refs counts holders
// plus waiters so the entry can be pruned once nobody references it.
type convLock struct {
	sem  *semaphore.Weighted
	refs int
}

// conversationLocks serializes orchestration per conversation id. The lock
// is held for the whole persist-reconstruct-generate-persist span, so two
// concurrent requests against one conversation execute strictly one after
// the other while unrelated conversations proceed in parallel. Entries are
// reference counted and removed when the last holder releases, so the map
// does not grow with every conversation a long-running server ever touched.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*convLock
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*convLock)}
}

// acquire blocks until the conversation's lock is free or ctx is done.
// Semaphores are used instead of plain mutexes so a caller abandoning the
// wait (client disconnect) does not leak a goroutine blocked on Lock.
func (l *conversationLocks) acquire(ctx context.Context, conversationID string) error {
	l.mu.Lock()
	entry, ok := l.locks[conversationID]
	if !ok {
		entry = &convLock{sem: semaphore.NewWeighted(1)}
		l.locks[conversationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.unref(conversationID, entry)
		return err
	}
	return nil
}

// release frees the conversation's lock and drops the holder's reference.
func (l *conversationLocks) release(conversationID string) {
	l.mu.Lock()
	entry := l.locks[conversationID]
	l.mu.Unlock()
	if entry == nil {
		return
	}

	entry.sem.Release(1)
	l.unref(conversationID, entry)
}

// unref drops one reference and prunes the entry when it hits zero.
func (l *conversationLocks) unref(conversationID string, entry *convLock) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, conversationID)
	}
	l.mu.Unlock()
}

// size reports the number of live entries.
func (l *conversationLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
