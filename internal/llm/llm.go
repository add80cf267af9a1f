// Package llm backs the score and message stages with a language model.
// Three completers are available: any OpenAI-compatible endpoint, the
// Anthropic Messages API, and a locally installed claude CLI.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Completer turns a system and user prompt into a single text reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

var ErrEmptyResponse = errors.New("model returned an empty response")

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderClaudeCLI = "claude-cli"
)

// Config selects and configures a completer.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	Endpoint    string // OpenAI-compatible base URL; empty for the default
	MaxTokens   int
	Temperature float64
	Binary      string // claude CLI path
	Timeout     time.Duration
}

// New builds the completer named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case ProviderOpenAI:
		c, err := NewOpenAI(cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderAnthropic:
		c, err := NewAnthropic(cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderClaudeCLI:
		return NewClaudeCLI(cfg, logger), nil
	case "":
		return nil, fmt.Errorf("no llm provider configured (want %s, %s or %s)",
			ProviderOpenAI, ProviderAnthropic, ProviderClaudeCLI)
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func maxTokens(cfg Config) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 1024
}
