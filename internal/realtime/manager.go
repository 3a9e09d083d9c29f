// Package realtime serves chat turns over WebSocket.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// closer is the part of *websocket.Conn the manager needs.
type closer interface {
	Close(code websocket.StatusCode, reason string) error
}

// SessionManager tracks one live connection per user tab.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]closer
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]closer),
	}
}

// Register adds a connection for a user/session, closing any connection it
// replaces.
func (m *SessionManager) Register(userID, sessionID string, conn closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]closer)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][sessionID] = conn
	slog.Info("Chat session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the current one for the session.
func (m *SessionManager) Unregister(userID, sessionID string, conn closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Chat session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Count returns the number of live connections for userID.
func (m *SessionManager) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// CloseAll closes every connection, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}
