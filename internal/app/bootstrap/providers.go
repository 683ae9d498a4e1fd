package bootstrap

import (
	"fmt"

	appconfig "github.com/wolfman30/llm-router/internal/config"
	"github.com/wolfman30/llm-router/internal/providers"
	"github.com/wolfman30/llm-router/internal/secrets"
	"github.com/wolfman30/llm-router/pkg/logging"
)

// ProviderDeps carries the SDK seams that cannot be built from config alone.
type ProviderDeps struct {
	// BedrockFactory builds a Bedrock client per credential set. Nil leaves
	// Bedrock unregistered.
	BedrockFactory providers.BedrockClientFactory
	// GeminiBackend defaults to the generative-ai-go SDK.
	GeminiBackend providers.GeminiBackend
}

// BuildRegistry registers one adapter per backend kind. Adapters validate
// their per-project credentials on each call, so a deployment without e.g. an
// Ollama server still registers Ollama and reports a 400 when it is chosen.
func BuildRegistry(cfg *appconfig.Config, resolver *secrets.Resolver, deps ProviderDeps, logger *logging.Logger) (*providers.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	adapters := []providers.Adapter{
		providers.NewOpenAI(resolver, providers.OpenAIOptions{
			BaseURL: cfg.OpenAIBaseURL,
			SharedKey: providers.SharedKeyPolicy{
				FallbackKey:   cfg.OpenAIAPIKey,
				AllowFallback: cfg.AllowSharedOpenAIKey,
			},
			Timeout:   cfg.ProviderTimeout,
			MaxTokens: cfg.MaxOutputTokens,
		}),
		providers.NewOllama(resolver, providers.OllamaOptions{
			DefaultBaseURL: cfg.OllamaServerURL,
			Timeout:        cfg.ProviderTimeout,
			MaxTokens:      cfg.MaxOutputTokens,
		}),
		providers.NewVLLM(resolver, providers.VLLMOptions{
			DefaultBaseURL: cfg.VLLMServerURL,
			Timeout:        cfg.ProviderTimeout,
			MaxTokens:      cfg.VLLMMaxOutputTokens,
		}),
		providers.NewGemini(deps.GeminiBackend, resolver, providers.GeminiOptions{
			DefaultAPIKey:   cfg.GeminiAPIKey,
			AllowDefaultKey: cfg.AllowSharedGeminiKey,
			Timeout:         cfg.ProviderTimeout,
			MaxTokens:       cfg.MaxOutputTokens,
		}),
	}
	if deps.BedrockFactory != nil {
		adapters = append(adapters, providers.NewBedrock(deps.BedrockFactory, resolver, providers.BedrockOptions{
			DefaultRegion: cfg.AWSRegion,
			Timeout:       cfg.ProviderTimeout,
			MaxTokens:     cfg.MaxOutputTokens,
		}))
	} else {
		logger.Warn("bedrock client factory missing; bedrock disabled")
	}

	registry := providers.NewRegistry(adapters...)
	logger.Info("llm providers registered",
		"providers", registry.Kinds(),
		"shared_openai_fallback", cfg.AllowSharedOpenAIKey && cfg.OpenAIAPIKey != "",
		"shared_gemini_fallback", cfg.AllowSharedGeminiKey && cfg.GeminiAPIKey != "",
		"timeout", cfg.ProviderTimeout.String(),
	)
	return registry, nil
}

// DefaultProvider parses DEFAULT_PROVIDER. Empty means none.
func DefaultProvider(cfg *appconfig.Config) (providers.Kind, error) {
	if cfg == nil || cfg.DefaultProvider == "" {
		return "", nil
	}
	kind, ok := providers.ParseKind(cfg.DefaultProvider)
	if !ok {
		return "", fmt.Errorf("bootstrap: unknown DEFAULT_PROVIDER %q", cfg.DefaultProvider)
	}
	return kind, nil
}
