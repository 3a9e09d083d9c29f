package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/api"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/identity"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/transcript"
)

const (
	readLimit          = 1 << 16
	defaultTurnTimeout = 5 * time.Minute
)

// inbound is a client frame.
type inbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// outbound is a server frame.
type outbound struct {
	Type            string   `json:"type"`
	Reply           string   `json:"reply,omitempty"`
	InteractionType string   `json:"interaction_type,omitempty"`
	TurnID          string   `json:"turn_id,omitempty"`
	Path            []string `json:"path,omitempty"`
	Error           string   `json:"error,omitempty"`
	Status          int      `json:"status,omitempty"`
}

// Options configures a Handler.
type Options struct {
	Limiter       *api.RateLimiter
	AllowedOrigin string
	IsDev         bool
	// TurnTimeout bounds one turn; it should cover every oracle call and
	// retry a turn can make.
	TurnTimeout time.Duration
}

// Handler upgrades requests to WebSocket and runs one turn per chat frame.
type Handler struct {
	svc  api.Tutor
	sm   *SessionManager
	opts Options
}

// NewHandler creates a WebSocket chat handler.
func NewHandler(svc api.Tutor, sm *SessionManager, opts Options) *Handler {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}
	return &Handler{
		svc:  svc,
		sm:   sm,
		opts: opts,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	ctx := transcript.WithChannel(r.Context(), transcript.ChannelWS)
	h.readLoop(ctx, ws, userID)
	slog.Info("Chat session ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var resp outbound
		switch msg.Type {
		case "ping":
			resp = outbound{Type: "pong"}
		case "", "chat":
			resp = h.turn(ctx, userID, msg.Message)
		default:
			resp = outbound{Type: "error", Error: "unknown message type", Status: http.StatusBadRequest}
		}

		if err := wsjson.Write(ctx, ws, resp); err != nil {
			slog.Debug("Failed to write WebSocket frame", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *Handler) turn(ctx context.Context, userID, message string) outbound {
	if h.opts.Limiter != nil && !h.opts.Limiter.Allow(userID) {
		return outbound{Type: "error", Error: "rate limit exceeded", Status: http.StatusTooManyRequests}
	}

	turnCtx, cancel := context.WithTimeout(ctx, h.opts.TurnTimeout)
	defer cancel()

	out, err := h.svc.HandleTurn(turnCtx, userID, message)
	if err != nil {
		status, msg := api.StatusFor(err)
		return outbound{Type: "error", Error: msg, Status: status}
	}

	cr := api.NewChatResponse(out)
	return outbound{
		Type:            "reply",
		Reply:           cr.Reply,
		InteractionType: cr.InteractionType,
		TurnID:          cr.TurnID,
		Path:            cr.Path,
	}
}
