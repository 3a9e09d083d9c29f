package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Speaker identifies who produced a turn record.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

// InteractionType describes what the last orchestration node produced.
// The zero value means no interaction has happened yet and serializes as null.
type InteractionType string

const (
	InteractionCorrectionDetected InteractionType = "correction_detected"
	InteractionChat               InteractionType = "chat"
	InteractionExplanationGiven   InteractionType = "explanation_given"
	InteractionExerciseGiven      InteractionType = "exercise_given"
	InteractionExerciseCorrect    InteractionType = "exercise_correct"
	InteractionExerciseIncorrect  InteractionType = "exercise_incorrect"
)

// Valid reports whether t is unset or one of the known interaction types.
func (t InteractionType) Valid() bool {
	switch t {
	case "", InteractionCorrectionDetected, InteractionChat, InteractionExplanationGiven,
		InteractionExerciseGiven, InteractionExerciseCorrect, InteractionExerciseIncorrect:
		return true
	}
	return false
}

// MarshalJSON encodes the unset value as null.
func (t InteractionType) MarshalJSON() ([]byte, error) {
	if t == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

// UnmarshalJSON accepts null or a known interaction type.
func (t *InteractionType) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode interaction type: %w", err)
	}
	v := InteractionType(s)
	if !v.Valid() {
		return fmt.Errorf("unknown interaction type %q", s)
	}
	*t = v
	return nil
}

// TurnRecord is one entry of the conversation history.
type TurnRecord struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// ConversationState is the per-user tutoring memory carried between turns.
type ConversationState struct {
	History             []TurnRecord    `json:"history"`
	EstimatedLevel      *string         `json:"estimated_level"`
	ErrorPatterns       []string        `json:"error_patterns"`
	CurrentTopic        *string         `json:"current_topic"`
	LastInteractionType InteractionType `json:"last_interaction_type"`
	PendingUserMessage  string          `json:"pending_user_message"`
	PendingBotReply     string          `json:"pending_bot_reply"`
}

// NewConversationState returns the default state for a user with no history.
func NewConversationState() *ConversationState {
	return &ConversationState{
		History:       []TurnRecord{},
		ErrorPatterns: []string{},
	}
}

// AppendTurn adds a record to the end of the history.
func (s *ConversationState) AppendTurn(speaker Speaker, text string) {
	s.History = append(s.History, TurnRecord{Speaker: speaker, Text: text})
}

// AddErrorPattern records label unless it is blank or already present.
// It returns true when the label was added.
func (s *ConversationState) AddErrorPattern(label string) bool {
	label = strings.TrimSpace(label)
	if label == "" {
		return false
	}
	for _, existing := range s.ErrorPatterns {
		if existing == label {
			return false
		}
	}
	s.ErrorPatterns = append(s.ErrorPatterns, label)
	return true
}

// HistoryText renders the history one line per record, as used in prompts.
func (s *ConversationState) HistoryText() string {
	var b strings.Builder
	for i, rec := range s.History {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch rec.Speaker {
		case SpeakerBot:
			b.WriteString("Bot: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(rec.Text)
	}
	return b.String()
}

// Clone returns a deep copy of the state.
func (s *ConversationState) Clone() *ConversationState {
	out := *s
	out.History = append(make([]TurnRecord, 0, len(s.History)), s.History...)
	out.ErrorPatterns = append(make([]string, 0, len(s.ErrorPatterns)), s.ErrorPatterns...)
	if s.EstimatedLevel != nil {
		v := *s.EstimatedLevel
		out.EstimatedLevel = &v
	}
	if s.CurrentTopic != nil {
		v := *s.CurrentTopic
		out.CurrentTopic = &v
	}
	return &out
}

// Normalize repairs nil collections left by older or hand-written documents.
func (s *ConversationState) Normalize() {
	if s.History == nil {
		s.History = []TurnRecord{}
	}
	if s.ErrorPatterns == nil {
		s.ErrorPatterns = []string{}
	}
}
