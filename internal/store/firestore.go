package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
)

// FirestoreStore implements Repository on Cloud Firestore. Each user's
// conversation state is a single document holding the same JSON encoding
// the SQLite backend uses.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestore creates a Firestore-backed repository for projectID.
func NewFirestore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) userDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection("users").Doc(userID)
}

func (s *FirestoreStore) stateDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection("conversation_states").Doc(userID)
}

type userDoc struct {
	Username   string    `firestore:"username"`
	LastSeenAt time.Time `firestore:"last_seen_at"`
	CreatedAt  time.Time `firestore:"created_at"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

type stateDoc struct {
	StateJSON string    `firestore:"state_json"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *FirestoreStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	snap, err := s.userDoc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore GetUser: %w", err)
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetUser decode: %w", err)
	}

	return &domain.User{
		UserID:     userID,
		Username:   doc.Username,
		LastSeenAt: doc.LastSeenAt,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

func (s *FirestoreStore) UpsertUser(ctx context.Context, user *domain.User) error {
	// created_at is only written by the first upsert.
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.userDoc(user.UserID)
		_, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return tx.Create(ref, userDoc{
				Username:   user.Username,
				LastSeenAt: user.LastSeenAt,
				CreatedAt:  user.CreatedAt,
				UpdatedAt:  user.UpdatedAt,
			})
		}
		if err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "username", Value: user.Username},
			{Path: "last_seen_at", Value: user.LastSeenAt},
			{Path: "updated_at", Value: user.UpdatedAt},
		})
	})
	if err != nil {
		return fmt.Errorf("firestore UpsertUser: %w", err)
	}
	return nil
}

func (s *FirestoreStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.userDoc(userID).Update(ctx, []firestore.Update{
		{Path: "last_seen_at", Value: lastSeen},
		{Path: "updated_at", Value: time.Now()},
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore UpdateLastSeen: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetOrCreateState(ctx context.Context, userID string) (*domain.ConversationState, error) {
	var raw string
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.stateDoc(userID)
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			data, encErr := encodeState(domain.NewConversationState())
			if encErr != nil {
				return encErr
			}
			now := time.Now()
			raw = string(data)
			return tx.Create(ref, stateDoc{StateJSON: raw, CreatedAt: now, UpdatedAt: now})
		}
		if err != nil {
			return err
		}

		var doc stateDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		raw = doc.StateJSON
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("firestore GetOrCreateState: %w", err)
	}

	return decodeState([]byte(raw))
}

func (s *FirestoreStore) SaveState(ctx context.Context, userID string, state *domain.ConversationState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	_, err = s.stateDoc(userID).Set(ctx, map[string]interface{}{
		"state_json": string(data),
		"updated_at": time.Now(),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("firestore SaveState: %w", err)
	}
	return nil
}

// Ping reads a sentinel document; a missing document still proves the
// backend is reachable.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.client.Collection("_health").Doc("ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
