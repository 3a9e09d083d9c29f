// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
)

// Repository defines the interface for persisting users and their
// conversation state.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when
	// the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetOrCreateState returns the user's conversation state, creating and
	// persisting a default state on first access.
	GetOrCreateState(ctx context.Context, userID string) (*domain.ConversationState, error)

	// SaveState replaces the stored conversation state for a user.
	SaveState(ctx context.Context, userID string, state *domain.ConversationState) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

func encodeState(state *domain.ConversationState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("nil conversation state")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode conversation state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*domain.ConversationState, error) {
	state := domain.NewConversationState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}
	state.Normalize()
	return state, nil
}

var (
	_ Repository = (*SQLiteStore)(nil)
	_ Repository = (*MemoryStore)(nil)
	_ Repository = (*FirestoreStore)(nil)
)
