// Package llm provides VisionLanguageModel implementations.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devicelab-dev/droid-agent/pkg/config"
	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// New builds the provider named by cfg.Provider. An empty apiKey yields
// core.ErrMissingCredentials.
func New(ctx context.Context, cfg config.ModelConfig, apiKey string, logger *zap.Logger) (core.VisionLanguageModel, error) {
	if apiKey == "" {
		env := cfg.APIKeyEnv
		if env == "" {
			env = config.DefaultAPIKeyEnv
		}
		return nil, core.ErrMissingCredentials.WithMessage(
			fmt.Sprintf("model API key is not configured: set model.apiKey or $%s", env))
	}

	switch cfg.Provider {
	case "", "openai":
		return NewOpenAICompat(OpenAIConfig{
			Endpoint:    cfg.Endpoint,
			APIKey:      apiKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger), nil
	case "gemini":
		return NewGemini(ctx, GeminiConfig{
			Endpoint:    cfg.Endpoint,
			APIKey:      apiKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger)
	default:
		return nil, core.ErrInvalidConfig.WithMessage("unknown model provider: " + cfg.Provider)
	}
}
