package store

import (
	"context"
	"sync"
	"time"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
)

// MemoryStore is an in-process Repository. Values are copied on the way in
// and out so callers never share memory with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]domain.User
	states map[string]*domain.ConversationState
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]domain.User),
		states: make(map[string]*domain.ConversationState),
	}
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.users[user.UserID]; ok {
		existing.Username = user.Username
		existing.LastSeenAt = user.LastSeenAt
		existing.UpdatedAt = user.UpdatedAt
		m.users[user.UserID] = existing
		return nil
	}
	m.users[user.UserID] = *user
	return nil
}

func (m *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.LastSeenAt = lastSeen
	u.UpdatedAt = time.Now()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) GetOrCreateState(_ context.Context, userID string) (*domain.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[userID]
	if !ok {
		state = domain.NewConversationState()
		m.states[userID] = state
	}
	return state.Clone(), nil
}

func (m *MemoryStore) SaveState(_ context.Context, userID string, state *domain.ConversationState) error {
	if _, err := encodeState(state); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[userID] = state.Clone()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
