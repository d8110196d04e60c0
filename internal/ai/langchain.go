// ABOUTME: Responder backed by langchaingo for Ollama, OpenAI and Anthropic
// ABOUTME: Sends the system prompt and the user message as a two-part conversation

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain answers prompts with any langchaingo model.
type LangChain struct {
	llm    llms.Model
	model  string
	system string
	logger *slog.Logger
}

// NewLangChain creates a responder for the ollama, openai or anthropic provider.
func NewLangChain(opts Options, logger *slog.Logger) (*LangChain, error) {
	var model llms.Model
	var err error

	switch opts.Provider {
	case ProviderOllama:
		ollamaOpts := []ollama.Option{ollama.WithModel(opts.Model)}
		if opts.BaseURL != "" {
			ollamaOpts = append(ollamaOpts, ollama.WithServerURL(opts.BaseURL))
		}
		model, err = ollama.New(ollamaOpts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, errors.New("openai api key is required")
		}
		openaiOpts := []openai.Option{openai.WithToken(opts.APIKey), openai.WithModel(opts.Model)}
		if opts.BaseURL != "" {
			openaiOpts = append(openaiOpts, openai.WithBaseURL(opts.BaseURL))
		}
		model, err = openai.New(openaiOpts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		if opts.APIKey == "" {
			return nil, errors.New("anthropic api key is required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(opts.APIKey),
			anthropic.WithModel(opts.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", opts.Provider)
	}

	return newLangChain(model, opts, logger), nil
}

func newLangChain(model llms.Model, opts Options, logger *slog.Logger) *LangChain {
	if logger == nil {
		logger = slog.Default()
	}
	return &LangChain{llm: model, model: opts.Model, system: opts.SystemPrompt, logger: logger}
}

// Complete returns the model's reply to prompt.
func (l *LangChain) Complete(ctx context.Context, prompt string) (string, error) {
	var messages []llms.MessageContent
	if l.system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, l.system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	resp, err := l.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", classify(ctx, fmt.Errorf("generating with %s: %w", l.model, err))
	}
	if len(resp.Choices) == 0 {
		return "", classify(ctx, fmt.Errorf("%s returned no choices", l.model))
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", classify(ctx, fmt.Errorf("%s returned an empty reply", l.model))
	}
	return text, nil
}
