// Package generation wraps the Genkit model call that turns an assembled
// context and a student question into an answer.
//
// The provider is treated as untrusted: every call carries a timeout, is
// retried on transient failure, and failures are classified so the boundary
// can distinguish an unavailable provider from a safety rejection.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/rogerjeasy/hslu-rag-backend/internal/retry"
)

var (
	// ErrGeneration is the base error for all generation failures.
	ErrGeneration = errors.New("generation failed")

	// ErrProviderUnavailable indicates the provider kept failing after the
	// retry budget was exhausted.
	ErrProviderUnavailable = fmt.Errorf("%w: provider unavailable", ErrGeneration)

	// ErrContentRejected indicates the provider refused the request on
	// content policy grounds. Never retried.
	ErrContentRejected = fmt.Errorf("%w: content rejected", ErrGeneration)
)

// systemPrompt is the fixed instruction set for the course assistant.
const systemPrompt = `You are an educational assistant for HSLU MSc students in Applied Information and Data Science.
Answer questions based ONLY on the provided course materials.
When you use an excerpt, cite it by its bracketed number, e.g. [1].
If the information is not in the provided materials, say you don't know and suggest the student consult their course materials.
Be concise, accurate, and educational in your responses.
Always maintain a professional tone appropriate for university education.`

// Turn is one prior question/answer exchange in a conversation.
type Turn struct {
	Question string
	Answer   string
}

// Request carries everything needed for one generation call.
type Request struct {
	// Question is the student's current question.
	Question string

	// Context is the assembled, numbered source material. May be empty when
	// ungrounded answers are allowed.
	Context string

	// History holds prior turns of the conversation, oldest first. Only
	// included in the prompt when the orchestrator passes them.
	History []Turn
}

// generateFunc runs one model call. Swappable in tests.
type generateFunc func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)

// Client produces answers through a configured model provider.
// Safe for concurrent use.
type Client struct {
	modelName string
	retry     retry.Config
	limiter   *rate.Limiter
	timeout   time.Duration
	execute   generateFunc
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetry overrides the default retry configuration.
func WithRetry(rc retry.Config) Option {
	return func(c *Client) { c.retry = rc }
}

// WithRateLimit caps outgoing provider calls at rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithTimeout bounds each provider attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// withExecutor substitutes the model call, for tests.
func withExecutor(fn generateFunc) Option {
	return func(c *Client) { c.execute = fn }
}

// New creates a Client bound to a Genkit instance and a provider-qualified
// model name (e.g. "googleai/gemini-2.5-flash").
func New(g *genkit.Genkit, modelName string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		modelName: modelName,
		retry:     retry.DefaultConfig(),
		timeout:   60 * time.Second,
		logger:    logger,
	}
	c.execute = func(ctx context.Context, callOpts ...ai.GenerateOption) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, g, callOpts...)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate produces an answer for req.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", fmt.Errorf("%w: empty question", ErrGeneration)
	}

	messages := buildMessages(req)
	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
	}

	resp, err := retry.Do(ctx, c.retry, c.limiter, c.logger, "generate",
		func(ctx context.Context) (*ai.ModelResponse, error) {
			return c.attempt(ctx, opts)
		})
	if err != nil {
		return "", classify(err)
	}

	if resp.FinishReason == "blocked" {
		return "", fmt.Errorf("%w: finish reason %q", ErrContentRejected, resp.FinishReason)
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}

	c.logger.Debug("generated answer",
		"model", c.modelName,
		"history_turns", len(req.History),
		"answer_chars", len(answer))
	return answer, nil
}

// attempt runs one provider call bounded by the per-call timeout.
func (c *Client) attempt(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.execute(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// buildMessages lays out prior turns as alternating user/model messages and
// closes with the current question plus its source excerpts.
func buildMessages(req Request) []*ai.Message {
	var messages []*ai.Message
	for _, turn := range req.History {
		messages = append(messages,
			ai.NewUserMessage(ai.NewTextPart(turn.Question)),
			ai.NewModelMessage(ai.NewTextPart(turn.Answer)))
	}

	var sb strings.Builder
	if req.Context != "" {
		sb.WriteString("Here are relevant excerpts from your course materials:\n\n")
		sb.WriteString(req.Context)
		sb.WriteString("\n\n")
	}
	sb.WriteString(req.Question)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(sb.String())))
	return messages
}

// rejectionPatterns marks provider errors that are content refusals, not
// outages. Matched case-insensitively.
var rejectionPatterns = []string{"blocked", "safety", "content policy", "prohibited"}

// classify maps a failed provider call onto the generation error taxonomy.
func classify(err error) error {
	errStr := strings.ToLower(err.Error())
	for _, pattern := range rejectionPatterns {
		if strings.Contains(errStr, pattern) {
			return fmt.Errorf("%w: %w", ErrContentRejected, err)
		}
	}
	if retry.Transient(err) {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrGeneration, err)
}
