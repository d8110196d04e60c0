// ABOUTME: Gemini responder using google.golang.org/genai
// ABOUTME: Tries the primary model first and the fallback model once on failure

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// Default Gemini models.
const (
	DefaultGeminiModel    = "gemini-3-flash"
	DefaultGeminiFallback = "gemini-3-pro"
)

// contentGenerator is the subset of *genai.Models the responder calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini answers prompts with a Gemini model.
type Gemini struct {
	models   contentGenerator
	primary  string
	fallback string
	system   string
	logger   *slog.Logger
}

// NewGemini creates a Gemini responder. An API key is required.
func NewGemini(ctx context.Context, opts Options, logger *slog.Logger) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return newGemini(client.Models, opts, logger), nil
}

func newGemini(models contentGenerator, opts Options, logger *slog.Logger) *Gemini {
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{
		models:   models,
		primary:  opts.Model,
		fallback: opts.FallbackModel,
		system:   opts.SystemPrompt,
		logger:   logger,
	}
}

// Complete returns the model's reply to prompt.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	reply, err := g.generate(ctx, g.primary, prompt)
	if err == nil {
		return reply, nil
	}
	if g.fallback == "" || g.fallback == g.primary || ctx.Err() != nil {
		return "", classify(ctx, err)
	}

	g.logger.Warn("primary model failed, trying fallback",
		"model", g.primary,
		"fallback", g.fallback,
		"error", err,
	)
	reply, err = g.generate(ctx, g.fallback, prompt)
	if err != nil {
		return "", classify(ctx, err)
	}
	return reply, nil
}

func (g *Gemini) generate(ctx context.Context, model, prompt string) (string, error) {
	var config *genai.GenerateContentConfig
	if g.system != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.system, genai.RoleUser),
		}
	}

	resp, err := g.models.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generating with %s: %w", model, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%s returned no candidates (check safety filters)", model)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%s returned an empty reply", model)
	}
	return text, nil
}
