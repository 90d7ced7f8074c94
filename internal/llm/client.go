// Package llm provides clients for the generation services that produce
// HDL candidates. All pipeline code depends on the Client interface only;
// concrete clients are selected by configuration at startup.
package llm

import (
	"context"
	"errors"
	"fmt"

	"hdlbench/internal/config"
)

// Client is the minimal interface the pipeline uses to call a generation
// service.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// ErrMaxRetriesExceeded is returned when a request keeps failing after the
// configured retry budget is spent.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// ErrEmptyCompletion is returned when the service answers with no usable text.
var ErrEmptyCompletion = errors.New("empty completion")

// New builds a client for the configured provider.
func New(cfg config.LLMConfig) (Client, error) {
	timeout, err := cfg.RequestTimeout()
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Timeout:    timeout,
			MaxRetries: cfg.MaxRetries,
		})
	case "openai", "ollama":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Timeout:    timeout,
			MaxRetries: cfg.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}
