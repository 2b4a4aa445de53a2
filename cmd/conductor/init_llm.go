package main

import (
	"fmt"
	"log/slog"

	"conductor-ai/internal/adapter/llm"
	"conductor-ai/internal/domain"
	"conductor-ai/internal/infra/config"
)

// LLMComponents holds the provider registry and the default provider
// the orchestrator reasons with.
type LLMComponents struct {
	Registry     *llm.Registry
	DefaultLLM   domain.LLMProvider
	DefaultModel string
	// models maps provider name to its configured model, for agents
	// that name a non-default provider.
	models map[string]string
}

// ModelFor returns the configured model for a provider name, falling
// back to the default model.
func (c *LLMComponents) ModelFor(provider string) string {
	if m, ok := c.models[provider]; ok && m != "" {
		return m
	}
	return c.DefaultModel
}

func initLLM(cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	registry := llm.NewRegistry()
	models := make(map[string]string, len(cfg.LLM.Providers))

	cbCfg := cfg.LLM.CircuitBreaker
	for _, pc := range cfg.LLM.Providers {
		provider, err := createProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		if cbCfg.Enabled {
			provider = llm.NewCircuitBreakerProvider(provider, cbCfg, log)
		}
		if err := registry.Register(provider); err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		models[pc.Name] = pc.Model
	}

	if cbCfg.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
		)
	}

	defaultLLM, err := registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("default provider: %w", err)
	}

	return &LLMComponents{
		Registry:     registry,
		DefaultLLM:   defaultLLM,
		DefaultModel: models[cfg.LLM.DefaultProvider],
		models:       models,
	}, nil
}

func createProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "openai":
		return llm.NewOpenAIProvider(pc, log), nil
	case "ollama":
		return llm.NewOllamaProvider(pc, log), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}
