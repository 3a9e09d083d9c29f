package oracle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReply struct {
	text string
	err  error
}

// scriptedBackend returns queued replies in order and records prompts.
type scriptedBackend struct {
	mu      sync.Mutex
	replies []scriptedReply
	prompts []Prompt
	formats []Format
}

func (b *scriptedBackend) Generate(_ context.Context, p Prompt, format Format) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, p)
	b.formats = append(b.formats, format)
	if len(b.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := b.replies[0]
	b.replies = b.replies[1:]
	return r.text, r.err
}

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

func fastOptions() Options {
	return Options{Timeout: time.Second, MaxRetries: 2, BaseDelay: time.Millisecond}
}

func TestExtractErrorParsesAnswer(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{text: `{"has_error": true, "suggested_correction": "Yo tengo hambre", "error_type": "concordancia"}`},
	}}
	o := New(backend, fastOptions())

	got, err := o.ExtractError(context.Background(), "Yo tiene hambre")
	require.NoError(t, err)
	assert.True(t, got.HasError)
	require.NotNil(t, got.SuggestedCorrection)
	assert.Equal(t, "Yo tengo hambre", *got.SuggestedCorrection)
	require.NotNil(t, got.ErrorType)
	assert.Equal(t, "concordancia", *got.ErrorType)

	require.Len(t, backend.prompts, 1)
	assert.Equal(t, FormatJSON, backend.formats[0])
	assert.Equal(t, "Yo tiene hambre", backend.prompts[0].User)
	assert.Contains(t, backend.prompts[0].System, `"has_error"`)
}

func TestExtractErrorStripsCodeFence(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{text: "```json\n{\"has_error\": false}\n```"},
	}}
	o := New(backend, fastOptions())

	got, err := o.ExtractError(context.Background(), "Hola")
	require.NoError(t, err)
	assert.False(t, got.HasError)
	assert.Nil(t, got.SuggestedCorrection)
	assert.Nil(t, got.ErrorType)
}

func TestExtractErrorNormalizesNoError(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{text: `{"has_error": false, "suggested_correction": "x", "error_type": "y"}`},
	}}
	o := New(backend, fastOptions())

	got, err := o.ExtractError(context.Background(), "Hola")
	require.NoError(t, err)
	assert.Nil(t, got.SuggestedCorrection)
	assert.Nil(t, got.ErrorType)
}

func TestExtractErrorBlankOptionalsBecomeNil(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{text: `{"has_error": true, "suggested_correction": "  ", "error_type": ""}`},
	}}
	o := New(backend, fastOptions())

	got, err := o.ExtractError(context.Background(), "Yo tiene")
	require.NoError(t, err)
	assert.True(t, got.HasError)
	assert.Nil(t, got.SuggestedCorrection)
	assert.Nil(t, got.ErrorType)
}

func TestExtractErrorRetriesMalformedOutput(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{text: "not json"},
		{text: `{"suggested_correction": null}`},
		{text: `{"has_error": false}`},
	}}
	o := New(backend, fastOptions())

	got, err := o.ExtractError(context.Background(), "Hola")
	require.NoError(t, err)
	assert.False(t, got.HasError)
	assert.Equal(t, 3, backend.calls())
}

func TestExtractErrorExhaustedRetriesIsUnavailable(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{text: "nope"}, {text: "nope"}, {text: "nope"}, {text: `{"has_error": false}`},
	}}
	o := New(backend, fastOptions())

	_, err := o.ExtractError(context.Background(), "Hola")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.Equal(t, 3, backend.calls())
}

func TestCompleteRetriesEmptyText(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{text: "   "},
		{err: errors.New("connection reset")},
		{text: "  Hola  "},
	}}
	o := New(backend, fastOptions())

	got, err := o.Complete(context.Background(), Prompt{Name: PromptConversation, User: "hola"})
	require.NoError(t, err)
	assert.Equal(t, "Hola", got)
	assert.Equal(t, FormatText, backend.formats[0])
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{err: Permanent(errors.New("invalid api key"))},
		{text: "never reached"},
	}}
	o := New(backend, fastOptions())

	_, err := o.Complete(context.Background(), Prompt{Name: PromptConversation})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, backend.calls())
}

func TestCancelledContextIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &scriptedBackend{replies: []scriptedReply{
		{err: errors.New("boom")},
		{text: "never reached"},
	}}
	cancel()
	o := New(backend, fastOptions())

	_, err := o.Complete(ctx, Prompt{Name: PromptConversation})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, backend.calls())
}

type slowBackend struct{}

func (slowBackend) Generate(ctx context.Context, _ Prompt, _ Format) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestPerCallTimeoutBecomesUnavailable(t *testing.T) {
	o := New(slowBackend{}, Options{Timeout: 5 * time.Millisecond, MaxRetries: 1, BaseDelay: time.Millisecond})

	_, err := o.ExtractError(context.Background(), "Hola")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCustomInstructionsKeepSchema(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{{text: `{"has_error": false}`}}}
	o := New(backend, Options{Instructions: "Revisa la frase.", Timeout: time.Second})

	_, err := o.ExtractError(context.Background(), "Hola")
	require.NoError(t, err)
	system := backend.prompts[0].System
	assert.True(t, strings.HasPrefix(system, "Revisa la frase."))
	assert.Contains(t, system, "suggested_correction")
}

func TestExtractionSchemaRequiresHasError(t *testing.T) {
	schema := ExtractionSchema()
	assert.Contains(t, schema.Required, "has_error")
	_, ok := schema.Properties.Get("suggested_correction")
	assert.True(t, ok)
}

func TestCallerDeadlineBecomesUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	o := New(slowBackend{}, Options{Timeout: time.Second, MaxRetries: 2, BaseDelay: time.Millisecond})

	_, err := o.Complete(ctx, Prompt{Name: PromptConversation})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallerDeadlineDuringBackoffBecomesUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	backend := &scriptedBackend{replies: []scriptedReply{
		{err: errors.New("boom")},
		{text: "never reached"},
	}}
	o := New(backend, Options{Timeout: time.Second, MaxRetries: 1, BaseDelay: time.Second})

	_, err := o.Complete(ctx, Prompt{Name: PromptConversation})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, backend.calls())
}
