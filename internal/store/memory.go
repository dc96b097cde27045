// ABOUTME: In-memory Store implementation
// ABOUTME: Used when no database path is configured and throughout unit tests

package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation.
// State lives only as long as the process.
type MemoryStore struct {
	mu            sync.RWMutex
	signin        map[string]*SignInState // keyed by conversation key
	notifications []*NotificationRecord   // in insertion order
	closed        bool
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signin: make(map[string]*SignInState),
	}
}

var errClosed = errors.New("store closed")

// GetSignInState retrieves the sign-in state of a conversation.
func (m *MemoryStore) GetSignInState(ctx context.Context, conversationKey string) (*SignInState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.signin[conversationKey]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to avoid external modification
	s := *state
	return &s, nil
}

// SaveSignInState inserts or replaces the sign-in state of a conversation.
func (m *MemoryStore) SaveSignInState(ctx context.Context, state *SignInState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}

	s := *state
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	m.signin[s.ConversationKey] = &s
	return nil
}

// RecordNotification appends a record to the ledger.
func (m *MemoryStore) RecordNotification(ctx context.Context, rec *NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}

	r := *rec
	m.notifications = append(m.notifications, &r)
	return nil
}

// ListNotifications returns the most recent records first.
func (m *MemoryStore) ListNotifications(ctx context.Context, limit int) ([]*NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = clampLimit(limit)
	result := make([]*NotificationRecord, 0, min(limit, len(m.notifications)))
	for i := len(m.notifications) - 1; i >= 0 && len(result) < limit; i-- {
		r := *m.notifications[i]
		result = append(result, &r)
	}
	return result, nil
}

// Ping reports whether the store is still open.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed; later writes fail.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
