package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockBackendDetectsAgreementError(t *testing.T) {
	o := New(NewMockBackend(), Options{})

	got, err := o.ExtractError(context.Background(), "Yo tiene hambre")
	require.NoError(t, err)
	assert.True(t, got.HasError)
	require.NotNil(t, got.SuggestedCorrection)
	assert.Equal(t, "Yo tengo hambre", *got.SuggestedCorrection)
	require.NotNil(t, got.ErrorType)
	assert.Equal(t, "concordancia sujeto-verbo", *got.ErrorType)
}

func TestMockBackendIgnoresPartialWords(t *testing.T) {
	o := New(NewMockBackend(), Options{})

	got, err := o.ExtractError(context.Background(), "Yo estoy bien")
	require.NoError(t, err)
	assert.False(t, got.HasError)
}

func TestMockBackendEvaluationIsTrue(t *testing.T) {
	o := New(NewMockBackend(), Options{})

	got, err := o.Complete(context.Background(), Prompt{Name: PromptEvaluation, User: "tenemos"})
	require.NoError(t, err)
	assert.Equal(t, "True", got)
}

func TestMockBackendNonASCIIPrefix(t *testing.T) {
	o := New(NewMockBackend(), Options{})

	cases := map[string]string{
		"ȺȺȺȺȺȺȺȺȺ yo tiene hambre": "ȺȺȺȺȺȺȺȺȺ yo tengo hambre",
		"İİİİ yo tiene hambre":      "İİİİ yo tengo hambre",
		"¿Ñoño, YO TIENE frío?":     "¿Ñoño, yo tengo frío?",
		"Mañana la día es largo":    "Mañana el día es largo",
	}
	for in, want := range cases {
		got, err := o.ExtractError(context.Background(), in)
		require.NoError(t, err, in)
		require.True(t, got.HasError, in)
		require.NotNil(t, got.SuggestedCorrection, in)
		assert.Equal(t, want, *got.SuggestedCorrection, in)
	}
}

func TestIndexPhraseSpans(t *testing.T) {
	start, end := indexPhrase("Él dijo: YO ES", "yo es")
	assert.Equal(t, len("Él dijo: "), start)
	assert.Equal(t, len("Él dijo: YO ES"), end)

	start, end = indexPhrase("yo estoy", "yo es")
	assert.Equal(t, -1, start)
	assert.Equal(t, -1, end)

	start, _ = indexPhrase("añoyo es", "yo es")
	assert.Equal(t, -1, start, "a letter before the phrase blocks the match")
}
