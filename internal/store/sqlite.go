package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxWriteAttempts = 3
	writeBaseDelay   = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_states (
		user_id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_states_updated ON conversation_states(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "upsert user", user.UserID, func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// GetOrCreateState returns the stored state, inserting a default document
// the first time a user is seen.
func (s *SQLiteStore) GetOrCreateState(ctx context.Context, userID string) (*domain.ConversationState, error) {
	defaultDoc, err := encodeState(domain.NewConversationState())
	if err != nil {
		return nil, err
	}

	var raw string
	err = s.withRetry(ctx, "get or create state", userID, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().Unix()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_states (user_id, state_json, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			userID, string(defaultDoc), now, now,
		); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT state_json FROM conversation_states WHERE user_id = ?`, userID,
		).Scan(&raw); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return decodeState([]byte(raw))
}

// SaveState replaces the conversation state for a user in a single upsert.
func (s *SQLiteStore) SaveState(ctx context.Context, userID string, state *domain.ConversationState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO conversation_states (user_id, state_json, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		state_json = excluded.state_json,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "save state", userID, func() error {
		now := time.Now().Unix()
		_, err := s.db.ExecContext(ctx, query, userID, string(data), now, now)
		return err
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry retries fn with exponential backoff while SQLite reports a
// busy or locked database.
func (s *SQLiteStore) withRetry(ctx context.Context, op, userID string, fn func() error) error {
	var err error
	for i := 0; i < maxWriteAttempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxWriteAttempts-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i)
		slog.Debug("sqlite write conflict, retrying",
			"op", op,
			"user_id", userID,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
