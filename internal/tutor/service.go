package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/identity"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/store"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/transcript"
)

// TurnOutput is what a caller gets back from a successful turn.
type TurnOutput struct {
	TurnID              string                 `json:"turn_id"`
	Reply               string                 `json:"reply"`
	LastInteractionType domain.InteractionType `json:"interaction_type"`
	Path                []Node                 `json:"path"`
	Evaluation          Evaluation             `json:"evaluation,omitempty"`
	ErrorPatterns       []string               `json:"error_patterns"`
}

// Service handles chat turns for authenticated users.
type Service struct {
	repo       store.Repository
	orch       *Orchestrator
	transcript transcript.Logger
	locks      *userLocks
	logger     *slog.Logger
}

// NewService creates a turn service. A nil transcript logger discards events.
func NewService(repo store.Repository, orch *Orchestrator, tl transcript.Logger, logger *slog.Logger) *Service {
	if tl == nil {
		tl = transcript.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		orch:       orch,
		transcript: tl,
		locks:      newUserLocks(),
		logger:     logger,
	}
}

// Flow returns the exercise flow the orchestrator runs with.
func (s *Service) Flow() Flow {
	return s.orch.Flow()
}

// HandleTurn runs one chat turn. The stored state changes only when the whole
// turn succeeds.
func (s *Service) HandleTurn(ctx context.Context, userID, message string) (*TurnOutput, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrValidation
	}

	unlock, err := s.locks.acquire(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("wait for turn lock: %w", err)
	}
	defer unlock()

	turnID := uuid.NewString()
	start := time.Now()
	s.record(ctx, turnID, userID, transcript.DirectionInbound, transcript.EventUserMessage, message, nil)

	out, err := s.runTurn(ctx, userID, message)
	if err != nil {
		s.logger.Error("turn failed",
			"user_id", userID,
			"turn_id", turnID,
			"error", err)
		s.record(ctx, turnID, userID, transcript.DirectionOutbound, transcript.EventTurnFailed, "", map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}
	out.TurnID = turnID

	s.logger.Info("turn completed",
		"user_id", userID,
		"turn_id", turnID,
		"interaction_type", string(out.LastInteractionType),
		"path", pathNames(out.Path),
		"elapsed_ms", time.Since(start).Milliseconds())
	s.record(ctx, turnID, userID, transcript.DirectionOutbound, transcript.EventBotReply, out.Reply, map[string]any{
		"interaction_type": string(out.LastInteractionType),
		"path":             pathNames(out.Path),
		"evaluation":       string(out.Evaluation),
	})

	return out, nil
}

func (s *Service) runTurn(ctx context.Context, userID, message string) (*TurnOutput, error) {
	stored, err := s.repo.GetOrCreateState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	state := stored.Clone()
	state.PendingUserMessage = message
	state.AppendTurn(domain.SpeakerUser, message)

	res, err := s.orch.Run(ctx, state)
	if err != nil {
		return nil, err
	}
	state.AppendTurn(domain.SpeakerBot, res.Reply)

	if err := s.repo.SaveState(ctx, userID, state); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	return &TurnOutput{
		Reply:               res.Reply,
		LastInteractionType: state.LastInteractionType,
		Path:                res.Path,
		Evaluation:          res.Evaluation,
		ErrorPatterns:       append([]string(nil), state.ErrorPatterns...),
	}, nil
}

// State returns the stored conversation state for userID.
func (s *Service) State(ctx context.Context, userID string) (*domain.ConversationState, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthorized
	}
	state, err := s.repo.GetOrCreateState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return state, nil
}

func (s *Service) record(ctx context.Context, turnID, userID, direction, eventType, content string, meta map[string]any) {
	s.transcript.Log(transcript.Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		TurnID:     turnID,
		UserID:     userID,
		SessionID:  identity.SessionIDFromContext(ctx),
		Channel:    transcript.ChannelFromContext(ctx),
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       withRequestID(ctx, meta),
	})
}

func withRequestID(ctx context.Context, meta map[string]any) map[string]any {
	reqID := chiMiddleware.GetReqID(ctx)
	if reqID == "" {
		return meta
	}
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta["request_id"] = reqID
	return meta
}

func pathNames(path []Node) []string {
	names := make([]string, len(path))
	for i, n := range path {
		names[i] = n.String()
	}
	return names
}
