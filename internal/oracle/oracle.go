// Package oracle wraps a language-model backend behind the two capabilities
// the tutor needs: structured grammar-error extraction and free-form
// completion.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrUnavailable is returned when the backend could not produce a usable
	// answer within the retry budget.
	ErrUnavailable = errors.New("oracle unavailable")

	// ErrMalformedOutput marks structured output that failed to parse. It is
	// retried and surfaces wrapped in ErrUnavailable once retries run out.
	ErrMalformedOutput = errors.New("oracle returned malformed output")

	errEmptyText = errors.New("oracle returned empty text")
)

// Format selects the shape of a backend answer.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// Prompt is a single system+user exchange. Name identifies the task for logs
// and for backends that route on it.
type Prompt struct {
	Name   string
	System string
	User   string
}

// ErrorAnalysis is the structured result of grammar-error extraction.
type ErrorAnalysis struct {
	HasError            bool    `json:"has_error" jsonschema:"required,description=True when the sentence contains a grammatical error"`
	SuggestedCorrection *string `json:"suggested_correction" jsonschema:"description=The corrected sentence or null"`
	ErrorType           *string `json:"error_type" jsonschema:"description=Short label for the kind of error or null"`
}

// Oracle is the capability consumed by the tutor.
type Oracle interface {
	ExtractError(ctx context.Context, sentence string) (ErrorAnalysis, error)
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Backend is implemented by model adapters. It performs exactly one call.
type Backend interface {
	Generate(ctx context.Context, p Prompt, format Format) (string, error)
}

// Options configures the retrying client returned by New.
type Options struct {
	// Timeout bounds each backend call.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// BaseDelay is the first backoff delay; it doubles per retry.
	BaseDelay time.Duration
	// Instructions replaces the default extraction system prompt.
	Instructions string
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	if strings.TrimSpace(o.Instructions) == "" {
		o.Instructions = defaultExtractionInstructions
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client implements Oracle on top of a Backend.
type Client struct {
	backend Backend
	opts    Options
	system  string
}

// New returns an Oracle that adds prompt construction, output validation and
// retries to backend.
func New(backend Backend, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		backend: backend,
		opts:    opts,
		system:  extractionSystemPrompt(opts.Instructions),
	}
}

// ExtractError asks the backend whether sentence contains a grammar error.
func (c *Client) ExtractError(ctx context.Context, sentence string) (ErrorAnalysis, error) {
	p := Prompt{Name: PromptExtraction, System: c.system, User: sentence}

	var out ErrorAnalysis
	err := c.call(ctx, p, FormatJSON, func(text string) error {
		a, err := parseAnalysis(text)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return ErrorAnalysis{}, err
	}
	return out, nil
}

// Complete returns free-form text for p.
func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	var out string
	err := c.call(ctx, p, FormatText, func(text string) error {
		out = strings.TrimSpace(text)
		return nil
	})
	return out, err
}

func (c *Client) call(ctx context.Context, p Prompt, format Format, accept func(string) error) error {
	attempts := c.opts.MaxRetries + 1
	var lastErr error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := c.opts.BaseDelay * time.Duration(1<<(i-1))
			select {
			case <-ctx.Done():
				return contextError(p.Name, ctx.Err())
			case <-time.After(delay):
			}
		}

		start := time.Now()
		err := c.attempt(ctx, p, format, accept)
		if err == nil {
			c.opts.Logger.Debug("oracle call succeeded",
				"prompt", p.Name,
				"format", format.String(),
				"attempt", i+1,
				"elapsed_ms", time.Since(start).Milliseconds())
			return nil
		}

		if ctx.Err() != nil {
			return contextError(p.Name, ctx.Err())
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}

		c.opts.Logger.Warn("oracle call failed",
			"prompt", p.Name,
			"attempt", i+1,
			"max_attempts", attempts,
			"error", err)
	}

	return fmt.Errorf("%w: %s: %w", ErrUnavailable, p.Name, lastErr)
}

// contextError reports a caller deadline as ErrUnavailable; a cancellation
// is returned as is.
func contextError(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
	}
	return fmt.Errorf("oracle %s: %w", name, err)
}

func (c *Client) attempt(ctx context.Context, p Prompt, format Format, accept func(string) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	text, err := c.backend.Generate(callCtx, p, format)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errEmptyText
	}
	return accept(text)
}

// permanentError marks a backend failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the client does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isRetryable(err error) bool {
	var perm *permanentError
	return !errors.As(err, &perm)
}

var _ Oracle = (*Client)(nil)
