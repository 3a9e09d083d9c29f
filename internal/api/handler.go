// Package api provides HTTP handlers for the Chipi tutor API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/identity"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/oracle"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/tutor"
)

const defaultMaxRequestBodySize = 1 << 16

// Tutor is the turn service consumed by the handlers. Implemented by
// *tutor.Service.
type Tutor interface {
	HandleTurn(ctx context.Context, userID, message string) (*tutor.TurnOutput, error)
	State(ctx context.Context, userID string) (*domain.ConversationState, error)
	Flow() tutor.Flow
}

// Options configures a Handler.
type Options struct {
	OracleProvider string
	ExerciseFlow   string
	MaxBodyBytes   int64
	Limiter        *RateLimiter
}

// Handler serves the chat API.
type Handler struct {
	svc     Tutor
	limiter *RateLimiter
	opts    Options
}

// NewHandler creates a new Handler.
func NewHandler(svc Tutor, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxRequestBodySize
	}
	if opts.ExerciseFlow == "" {
		opts.ExerciseFlow = string(svc.Flow())
	}
	return &Handler{
		svc:     svc,
		limiter: opts.Limiter,
		opts:    opts,
	}
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is returned by POST /api/chat.
type ChatResponse struct {
	Reply           string   `json:"reply"`
	InteractionType string   `json:"interaction_type"`
	TurnID          string   `json:"turn_id"`
	Path            []string `json:"path,omitempty"`
	Evaluation      string   `json:"evaluation,omitempty"`
}

// NewChatResponse converts a turn result for the wire.
func NewChatResponse(out *tutor.TurnOutput) ChatResponse {
	path := make([]string, len(out.Path))
	for i, n := range out.Path {
		path[i] = n.String()
	}
	return ChatResponse{
		Reply:           out.Reply,
		InteractionType: string(out.LastInteractionType),
		TurnID:          out.TurnID,
		Path:            path,
		Evaluation:      string(out.Evaluation),
	}
}

// RegisterRoutes registers the API routes. Identity middleware must already
// be applied to r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/state", h.HandleState)
		r.Get("/config", h.HandleConfig)
	})
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Limit by user only, not user and session, so rotating tabs does not
	// bypass throttling.
	if h.limiter != nil && !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	slog.Info("Chat request",
		"user_id", userID,
		"username", identity.UsernameFromContext(r.Context()),
		"session_id", identity.SessionIDFromContext(r.Context()),
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"remote_ip", identity.IPFromRequest(r),
		"message_length", len(req.Message),
	)

	out, err := h.svc.HandleTurn(r.Context(), userID, req.Message)
	if err != nil {
		status, msg := StatusFor(err)
		Error(w, status, msg)
		return
	}

	JSON(w, http.StatusOK, NewChatResponse(out))
}

// HandleState handles GET /api/state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.State(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		status, msg := StatusFor(err)
		Error(w, status, msg)
		return
	}
	JSON(w, http.StatusOK, state)
}

// HandleConfig handles GET /api/config.
func (h *Handler) HandleConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"oracle_provider": h.opts.OracleProvider,
		"exercise_flow":   h.opts.ExerciseFlow,
	})
}

// StatusFor maps a turn error to an HTTP status and a client-safe message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, tutor.ErrValidation):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, tutor.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, oracle.ErrUnavailable):
		return http.StatusServiceUnavailable, "tutor is temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
