package synth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/bookclub-live/backend/telemetry"
)

var (
	// ErrValidation means the Context carried no topic, book title or author message.
	// It is returned before any backend call; callers treat it as a no-op.
	ErrValidation = errors.New("synth: context needs a topic, book title or author message")

	// ErrGenerationFailed means the generative service answered with a non-success status.
	ErrGenerationFailed = errors.New("synth: generation failed")
)

// Backend is a generative-text service: one prompt in, free text out.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt string) (string, error)

func (f BackendFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Client synthesizes comment batches. A nil Backend serves the fallback list, which keeps
// rooms lively in local development without a model configured.
type Client struct {
	Backend Backend
	Timeout time.Duration
}

// NewClient returns a Client for backend with a 15s per-call timeout.
func NewClient(backend Backend) *Client {
	return &Client{Backend: backend, Timeout: 15 * time.Second}
}

// Synthesize returns up to MaxComments comments for c (exactly MaxComments on the fallback path).
func (c *Client) Synthesize(ctx context.Context, sc Context) ([]Comment, error) {
	prompt, err := BuildPrompt(sc)
	if err != nil {
		telemetry.RecordSynthesis("invalid", 0)
		return nil, err
	}
	if c.Backend == nil {
		telemetry.RecordSynthesis("fallback", 0)
		return Fallback(), nil
	}

	attrs := append(telemetry.RoomAttrFrom(ctx),
		attribute.Bool("synth.has_author_message", sc.AuthorMessage != ""),
		attribute.Int("synth.prompt_length", len(prompt)),
	)
	ctx, span := telemetry.StartSpan(ctx, "synth", "synth.generate", attrs...)
	defer span.End()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.Backend.Complete(ctx, prompt)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.RecordSynthesis("failed", time.Since(start))
		return nil, err
	}
	comments, perr := ParseComments(text)
	if perr != nil {
		slog.Debug("synth reply unparseable, using fallback", slog.Any("err", perr), slog.String("component", "synth"))
		telemetry.RecordSynthesis("fallback", time.Since(start))
		telemetry.SetSpanSuccess(span)
		return Fallback(), nil
	}
	telemetry.RecordSynthesis("ok", time.Since(start))
	telemetry.SetSpanSuccess(span)
	return comments, nil
}
