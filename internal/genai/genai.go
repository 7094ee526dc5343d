// Package genai provides the text-generation oracle used by Baruc.
//
// The Generator interface hides the provider. Gemini is the default backend,
// OpenAI is available as an alternative.
package genai

import (
	"context"
	"errors"
	"strings"
)

// Provider names accepted by NewGenerator.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

var (
	ErrNoAPIKey          = errors.New("genai API key not set")
	ErrEmptyResponse     = errors.New("genai returned an empty response")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrUnknownProvider   = errors.New("unknown genai provider")
)

// GenerateOptions tunes a single generation call.
type GenerateOptions struct {
	Temperature float64
}

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Opts holds configuration for the generator constructors.
type Opts struct {
	Provider string
	APIKey   string
	Model    string
}

// Option configures a generator.
type Option func(*Opts)

// WithProvider selects the backend (gemini or openai).
func WithProvider(p string) Option {
	return func(o *Opts) {
		o.Provider = p
	}
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// NewGenerator builds the generator for the configured provider.
func NewGenerator(ctx context.Context, opts ...Option) (Generator, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		return NewGeminiClient(ctx, opts...)
	case ProviderOpenAI:
		return NewOpenAIClient(opts...)
	default:
		return nil, ErrUnknownProvider
	}
}

// StripCodeFence removes a surrounding markdown code fence, with or without a
// json language tag.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
