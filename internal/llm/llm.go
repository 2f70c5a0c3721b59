// Package llm selects and decorates the text generator used by research runs.
package llm

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/openrouter"
	"deepresearch/backend/internal/research"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
)

// New builds the configured provider wrapped with retries.
func New(cfg config.Config, httpClient *http.Client, logger *zap.Logger) (research.StreamingTextGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var gen research.StreamingTextGenerator
	switch cfg.LLMProvider {
	case ProviderOpenRouter, "":
		if cfg.OpenRouterAPIKey == "" {
			return nil, openrouter.ErrMissingAPIKey
		}
		gen = openrouter.NewClient(cfg, httpClient, logger.Named("openrouter"))
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for provider %q", ProviderOpenAI)
		}
		client, err := NewOpenAI(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.LLMBaseURL, httpClient, logger.Named("openai"))
		if err != nil {
			return nil, err
		}
		gen = client
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}

	return WithRetry(gen, cfg.LLMMaxRetries, logger), nil
}
