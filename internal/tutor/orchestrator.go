// Package tutor runs a learner's chat turn through the tutoring state machine
// and persists the resulting conversation state.
package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/oracle"
)

// Node is a step of the tutoring state machine.
type Node int

const (
	NodeEnd Node = iota
	NodeAnalyzeInput
	NodeGenerateCorrectionAndExplanation
	NodeGenerateExercise
	NodeEvaluateExerciseAnswer
	NodePositiveReinforcement
	NodeReExplain
	NodeContinueNaturalConversation
)

var nodeNames = map[Node]string{
	NodeEnd:                              "end",
	NodeAnalyzeInput:                     "analyze_input",
	NodeGenerateCorrectionAndExplanation: "generate_correction_and_explanation",
	NodeGenerateExercise:                 "generate_exercise",
	NodeEvaluateExerciseAnswer:           "evaluate_exercise_answer",
	NodePositiveReinforcement:            "positive_reinforcement",
	NodeReExplain:                        "re_explain",
	NodeContinueNaturalConversation:      "continue_natural_conversation",
}

func (n Node) String() string {
	if s, ok := nodeNames[n]; ok {
		return s
	}
	return fmt.Sprintf("node(%d)", int(n))
}

// MarshalText encodes the node by name.
func (n Node) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// Flow decides whether an exercise is evaluated in the turn that produced it
// or in the learner's next turn.
type Flow string

const (
	FlowInline   Flow = "inline"
	FlowDeferred Flow = "deferred"
)

// ParseFlow validates a flow name; "" means inline.
func ParseFlow(s string) (Flow, error) {
	switch Flow(strings.ToLower(strings.TrimSpace(s))) {
	case "", FlowInline:
		return FlowInline, nil
	case FlowDeferred:
		return FlowDeferred, nil
	}
	return "", fmt.Errorf("unknown exercise flow %q", s)
}

// Evaluation is the verdict on an exercise answer, if one was given this turn.
type Evaluation string

const (
	EvaluationNone      Evaluation = ""
	EvaluationCorrect   Evaluation = "correct"
	EvaluationIncorrect Evaluation = "incorrect"
)

// Entry returns the first node of a turn.
func Entry(state *domain.ConversationState, flow Flow) Node {
	if flow == FlowDeferred && state.LastInteractionType == domain.InteractionExerciseGiven {
		return NodeEvaluateExerciseAnswer
	}
	return NodeAnalyzeInput
}

// Transition returns the node that follows n given the interaction type n
// produced.
func Transition(n Node, outcome domain.InteractionType, flow Flow) Node {
	switch n {
	case NodeAnalyzeInput:
		if outcome == domain.InteractionCorrectionDetected {
			return NodeGenerateCorrectionAndExplanation
		}
		return NodeContinueNaturalConversation
	case NodeGenerateCorrectionAndExplanation:
		return NodeGenerateExercise
	case NodeGenerateExercise:
		if flow == FlowDeferred {
			return NodeEnd
		}
		return NodeEvaluateExerciseAnswer
	case NodeEvaluateExerciseAnswer:
		if outcome == domain.InteractionExerciseCorrect {
			return NodePositiveReinforcement
		}
		return NodeReExplain
	default:
		return NodeEnd
	}
}

// FallbackReply is sent when the nodes produced no text.
const FallbackReply = "Lo siento, no he podido responder ahora. ¿Puedes repetirlo?"

const defaultMaxSteps = 8

// TurnResult describes one orchestrator run.
type TurnResult struct {
	Reply      string
	Path       []Node
	Evaluation Evaluation
}

// Orchestrator executes the tutoring state machine over a conversation state.
type Orchestrator struct {
	oracle   oracle.Oracle
	prompts  *Catalog
	flow     Flow
	maxSteps int
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(o oracle.Oracle, prompts *Catalog, flow Flow, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if flow == "" {
		flow = FlowInline
	}
	return &Orchestrator{
		oracle:   o,
		prompts:  prompts,
		flow:     flow,
		maxSteps: defaultMaxSteps,
		logger:   logger,
	}
}

// Flow returns the configured exercise flow.
func (o *Orchestrator) Flow() Flow {
	return o.flow
}

// Run executes one turn. state must already hold the pending user message
// and the user's history record; Run mutates it in place. On error the state
// is partially updated and must be discarded.
func (o *Orchestrator) Run(ctx context.Context, state *domain.ConversationState) (TurnResult, error) {
	state.PendingBotReply = ""

	var res TurnResult
	node := Entry(state, o.flow)
	for node != NodeEnd {
		if len(res.Path) >= o.maxSteps {
			return res, fmt.Errorf("%w: path %v", ErrStepLimit, res.Path)
		}
		res.Path = append(res.Path, node)

		start := time.Now()
		eval, err := o.step(ctx, node, state)
		if err != nil {
			o.logger.Error("node failed", "node", node.String(), "error", err)
			return res, fmt.Errorf("node %s: %w", node, err)
		}
		if eval != EvaluationNone {
			res.Evaluation = eval
		}
		o.logger.Debug("node done",
			"node", node.String(),
			"interaction_type", string(state.LastInteractionType),
			"elapsed_ms", time.Since(start).Milliseconds())

		node = Transition(node, state.LastInteractionType, o.flow)
	}

	if strings.TrimSpace(state.PendingBotReply) == "" {
		state.PendingBotReply = FallbackReply
	}
	res.Reply = state.PendingBotReply
	return res, nil
}

func (o *Orchestrator) step(ctx context.Context, node Node, state *domain.ConversationState) (Evaluation, error) {
	switch node {
	case NodeAnalyzeInput:
		return EvaluationNone, o.analyzeInput(ctx, state)
	case NodeGenerateCorrectionAndExplanation:
		return EvaluationNone, o.explainCorrection(ctx, state)
	case NodeGenerateExercise:
		return EvaluationNone, o.generateExercise(ctx, state)
	case NodeEvaluateExerciseAnswer:
		return o.evaluateAnswer(ctx, state)
	case NodePositiveReinforcement:
		return EvaluationNone, o.closingReply(ctx, state, oracle.PromptReinforcement)
	case NodeReExplain:
		return EvaluationNone, o.closingReply(ctx, state, oracle.PromptReExplain)
	case NodeContinueNaturalConversation:
		return EvaluationNone, o.converse(ctx, state)
	}
	return EvaluationNone, fmt.Errorf("unknown node %s", node)
}
