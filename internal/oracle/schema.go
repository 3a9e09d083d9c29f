package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
)

// Prompt names used by the tutor and understood by the mock backend.
const (
	PromptExtraction    = "extraction"
	PromptExplanation   = "explanation"
	PromptExercise      = "exercise"
	PromptEvaluation    = "evaluation"
	PromptReinforcement = "reinforcement"
	PromptReExplain     = "reexplain"
	PromptConversation  = "conversation"
)

const defaultExtractionInstructions = `Eres un corrector de gramática española para estudiantes.
Analiza la frase del estudiante. Si contiene un error gramatical, indica la frase corregida y una etiqueta corta del tipo de error.
Si la frase es correcta, has_error es false y los demás campos son null.`

// ExtractionSchema returns the JSON schema the extraction answer must match.
func ExtractionSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	return r.Reflect(&ErrorAnalysis{})
}

func extractionSystemPrompt(instructions string) string {
	schema, err := json.MarshalIndent(ExtractionSchema(), "", "  ")
	if err != nil {
		// Reflecting a fixed struct cannot fail at runtime.
		panic(fmt.Sprintf("marshal extraction schema: %v", err))
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(instructions))
	b.WriteString("\n\nResponde solo con un objeto JSON que cumpla este esquema:\n")
	b.Write(schema)
	return b.String()
}

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// parseAnalysis decodes and normalizes an extraction answer.
func parseAnalysis(text string) (ErrorAnalysis, error) {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var raw struct {
		HasError            *bool   `json:"has_error"`
		SuggestedCorrection *string `json:"suggested_correction"`
		ErrorType           *string `json:"error_type"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return ErrorAnalysis{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if raw.HasError == nil {
		return ErrorAnalysis{}, fmt.Errorf("%w: missing has_error", ErrMalformedOutput)
	}

	out := ErrorAnalysis{HasError: *raw.HasError}
	if out.HasError {
		out.SuggestedCorrection = nonBlank(raw.SuggestedCorrection)
		out.ErrorType = nonBlank(raw.ErrorType)
	}
	return out, nil
}

func nonBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
