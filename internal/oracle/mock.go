package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode"
	"unicode/utf8"
)

type mockRule struct {
	wrong     string
	right     string
	errorType string
}

// Common learner mistakes recognized by the mock backend.
var mockRules = []mockRule{
	{"yo tiene", "yo tengo", "concordancia sujeto-verbo"},
	{"yo es", "yo soy", "concordancia sujeto-verbo"},
	{"yo va", "yo voy", "concordancia sujeto-verbo"},
	{"yo quiere", "yo quiero", "concordancia sujeto-verbo"},
	{"tú tiene", "tú tienes", "concordancia sujeto-verbo"},
	{"nosotros tiene", "nosotros tenemos", "concordancia sujeto-verbo"},
	{"la problema", "el problema", "concordancia de género"},
	{"el mano", "la mano", "concordancia de género"},
	{"la día", "el día", "concordancia de género"},
	{"soy cansado", "estoy cansado", "ser/estar"},
	{"soy en", "estoy en", "ser/estar"},
}

// MockBackend is a deterministic rule-based backend for local development.
type MockBackend struct{}

// NewMockBackend returns a MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Generate implements Backend.
func (MockBackend) Generate(_ context.Context, p Prompt, format Format) (string, error) {
	if format == FormatJSON {
		return mockAnalysis(p.User)
	}

	switch p.Name {
	case PromptExplanation:
		return "El verbo debe concordar con el sujeto en persona y número.", nil
	case PromptExercise:
		return "Completa la frase: Nosotros ___ (tener) dos perros.", nil
	case PromptEvaluation:
		return "True", nil
	case PromptReinforcement:
		return "¡Muy bien! Lo has hecho perfecto.", nil
	case PromptReExplain:
		return "Casi. Recuerda que cada persona tiene su propia forma del verbo.", nil
	default:
		return "¡Qué interesante! Cuéntame más.", nil
	}
}

func mockAnalysis(sentence string) (string, error) {
	out := map[string]interface{}{
		"has_error":            false,
		"suggested_correction": nil,
		"error_type":           nil,
	}
	for _, r := range mockRules {
		start, end := indexPhrase(sentence, r.wrong)
		if start < 0 {
			continue
		}
		out["has_error"] = true
		out["suggested_correction"] = restoreCase(sentence[:start]+r.right+sentence[end:], sentence)
		out["error_type"] = r.errorType
		break
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("mock analysis: %w", err)
	}
	return string(data), nil
}

// indexPhrase finds phrase in s, ignoring case, only where it is bounded by
// non-letters. It returns the byte span in s, or -1, -1.
func indexPhrase(s, phrase string) (int, int) {
	for start := 0; start < len(s); {
		if end, ok := matchFoldAt(s, start, phrase); ok {
			before, _ := utf8.DecodeLastRuneInString(s[:start])
			after, _ := utf8.DecodeRuneInString(s[end:])
			if (start == 0 || !unicode.IsLetter(before)) && (end == len(s) || !unicode.IsLetter(after)) {
				return start, end
			}
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		start += size
	}
	return -1, -1
}

// matchFoldAt reports whether phrase matches s at byte offset i under
// simple case folding, and where the match ends in s.
func matchFoldAt(s string, i int, phrase string) (int, bool) {
	for _, want := range phrase {
		if i >= len(s) {
			return 0, false
		}
		got, size := utf8.DecodeRuneInString(s[i:])
		if !equalFoldRune(got, want) {
			return 0, false
		}
		i += size
	}
	return i, true
}

func equalFoldRune(a, b rune) bool {
	if a == b {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}

// restoreCase capitalizes the first letter of fixed when orig started with one.
func restoreCase(fixed, orig string) string {
	first, _ := utf8.DecodeRuneInString(orig)
	if orig == "" || fixed == "" || !unicode.IsUpper(first) {
		return fixed
	}
	head, size := utf8.DecodeRuneInString(fixed)
	return string(unicode.ToUpper(head)) + fixed[size:]
}
