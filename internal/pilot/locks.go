package pilot

import (
	"errors"
	"sync"
)

// =============================================================================
// CONVERSATION LOCKS
// =============================================================================

// ErrTurnActive means a turn is already running for the conversation.
var ErrTurnActive = errors.New("a turn is already in progress for this conversation")

// lockTable serializes turns per conversation. Acquire never blocks: a
// second message while a turn is in flight fails immediately.
type lockTable struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{active: make(map[string]struct{})}
}

func (l *lockTable) Acquire(conversationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[conversationID]; busy {
		return ErrTurnActive
	}
	l.active[conversationID] = struct{}{}
	return nil
}

func (l *lockTable) Release(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, conversationID)
}
