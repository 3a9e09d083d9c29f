// Package domain contains core domain types for the Chipi tutor.
package domain

import (
	"time"
)

// User represents a resolved principal that owns a conversation.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsAnonymous returns true if the user was issued a device cookie instead of a token.
func (u *User) IsAnonymous() bool {
	return len(u.UserID) > 5 && u.UserID[:5] == "anon_"
}
