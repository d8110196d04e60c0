// ABOUTME: Responder construction and error classification shared by all AI backends
// ABOUTME: New selects a backend from Options; classify maps backend errors onto sentinels

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrTimeout is returned when the model did not answer in time.
	ErrTimeout = errors.New("ai request timed out")
	// ErrQuotaExceeded is returned when the provider rate limited the request.
	ErrQuotaExceeded = errors.New("ai quota exceeded")
	// ErrProvider covers every other provider failure, including empty replies.
	ErrProvider = errors.New("ai provider error")
)

// Provider names accepted in configuration.
const (
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// DefaultSystemPrompt frames the bot's persona.
const DefaultSystemPrompt = "You are Mul Chat Bot, a friendly assistant inside a chat app. " +
	"Answer conversationally and keep replies short unless asked for detail."

// Responder produces a reply for a prompt.
type Responder interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options selects and configures a backend.
type Options struct {
	Provider      string
	APIKey        string
	Model         string
	FallbackModel string
	BaseURL       string
	SystemPrompt  string
}

// New builds the responder for opts.Provider. It returns (nil, nil) for
// ProviderNone, which leaves the bot silent.
func New(ctx context.Context, opts Options, logger *slog.Logger) (Responder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	logger = logger.With("component", "ai", "provider", opts.Provider)

	switch opts.Provider {
	case ProviderNone:
		return nil, nil
	case ProviderGemini, "":
		g, err := NewGemini(ctx, opts, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic:
		l, err := NewLangChain(opts, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %q", opts.Provider)
	}
}

// classify wraps err with the matching sentinel.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "429") {
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %w", ErrProvider, err)
}
