package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	googlegenai "google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiClient generates text with Google's Gemini API.
type GeminiClient struct {
	client *googlegenai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed Generator.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := googlegenai.NewClient(ctx, &googlegenai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: googlegenai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	slog.Debug("GeminiClient created", "model", model)
	return &GeminiClient{client: client, model: model}, nil
}

// Generate implements Generator.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	config := &googlegenai.GenerateContentConfig{
		Temperature: googlegenai.Ptr(float32(opts.Temperature)),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, googlegenai.Text(prompt), config)
	if err != nil {
		slog.Error("GeminiClient.Generate: request failed", "error", err, "model", g.model)
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	slog.Debug("GeminiClient.Generate: response received", "model", g.model, "length", len(text))
	return text, nil
}
