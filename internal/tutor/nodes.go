package tutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/oracle"
)

func promptData(state *domain.ConversationState) PromptData {
	d := PromptData{
		Message:    state.PendingUserMessage,
		Correction: state.PendingBotReply,
		History:    state.HistoryText(),
		Patterns:   state.ErrorPatterns,
	}
	if state.EstimatedLevel != nil {
		d.Level = *state.EstimatedLevel
	}
	return d
}

func (o *Orchestrator) complete(ctx context.Context, name string, state *domain.ConversationState) (string, error) {
	p, err := o.prompts.Render(name, promptData(state))
	if err != nil {
		return "", err
	}
	return o.oracle.Complete(ctx, p)
}

func (o *Orchestrator) analyzeInput(ctx context.Context, state *domain.ConversationState) error {
	analysis, err := o.oracle.ExtractError(ctx, state.PendingUserMessage)
	if err != nil {
		return err
	}

	if !analysis.HasError {
		state.LastInteractionType = domain.InteractionChat
		state.PendingBotReply = ""
		return nil
	}

	fix := state.PendingUserMessage
	if analysis.SuggestedCorrection != nil {
		fix = *analysis.SuggestedCorrection
	}
	state.PendingBotReply = fmt.Sprintf("Corrección: '%s'", fix)
	if analysis.ErrorType != nil {
		state.AddErrorPattern(*analysis.ErrorType)
	}
	state.LastInteractionType = domain.InteractionCorrectionDetected
	return nil
}

func (o *Orchestrator) explainCorrection(ctx context.Context, state *domain.ConversationState) error {
	text, err := o.complete(ctx, oracle.PromptExplanation, state)
	if err != nil {
		return err
	}
	state.PendingBotReply = state.PendingBotReply + "\n\n**Regla:** " + text
	state.LastInteractionType = domain.InteractionExplanationGiven
	return nil
}

func (o *Orchestrator) generateExercise(ctx context.Context, state *domain.ConversationState) error {
	text, err := o.complete(ctx, oracle.PromptExercise, state)
	if err != nil {
		return err
	}
	state.PendingBotReply += "\n\n**Práctica:** " + text
	state.LastInteractionType = domain.InteractionExerciseGiven
	return nil
}

// isCorrectVerdict reads the evaluator's free text; any mention of "true"
// counts as correct.
func isCorrectVerdict(text string) bool {
	return strings.Contains(strings.ToLower(text), "true")
}

func (o *Orchestrator) evaluateAnswer(ctx context.Context, state *domain.ConversationState) (Evaluation, error) {
	text, err := o.complete(ctx, oracle.PromptEvaluation, state)
	if err != nil {
		return EvaluationNone, err
	}
	if isCorrectVerdict(text) {
		state.LastInteractionType = domain.InteractionExerciseCorrect
		return EvaluationCorrect, nil
	}
	state.LastInteractionType = domain.InteractionExerciseIncorrect
	return EvaluationIncorrect, nil
}

// closingReply appends after anything already said this turn so the
// correction, rule and exercise stay in the reply.
func (o *Orchestrator) closingReply(ctx context.Context, state *domain.ConversationState, name string) error {
	text, err := o.complete(ctx, name, state)
	if err != nil {
		return err
	}
	if strings.TrimSpace(state.PendingBotReply) != "" {
		state.PendingBotReply += "\n\n" + text
	} else {
		state.PendingBotReply = text
	}
	state.LastInteractionType = domain.InteractionChat
	return nil
}

func (o *Orchestrator) converse(ctx context.Context, state *domain.ConversationState) error {
	text, err := o.complete(ctx, oracle.PromptConversation, state)
	if err != nil {
		return err
	}
	state.PendingBotReply = text
	state.LastInteractionType = domain.InteractionChat
	return nil
}
