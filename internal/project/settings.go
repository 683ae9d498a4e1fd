// Package project stores per-project LLM settings: prompt options, the
// default provider, and encrypted provider credentials.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/llm-router/internal/prompt"
	"github.com/wolfman30/llm-router/internal/providers"
)

// MaskedSecret replaces stored credentials in API responses. Sending it back
// in an update keeps the stored value.
const MaskedSecret = "********"

// ProviderCredentials holds at most one stored config per backend.
type ProviderCredentials struct {
	OpenAI  *providers.OpenAIConfig  `json:"openai,omitempty"`
	Bedrock *providers.BedrockConfig `json:"bedrock,omitempty"`
	Gemini  *providers.GeminiConfig  `json:"gemini,omitempty"`
	Ollama  *providers.OllamaConfig  `json:"ollama,omitempty"`
	VLLM    *providers.VLLMConfig    `json:"vllm,omitempty"`
}

// Settings is the per-project configuration read on every chat request.
type Settings struct {
	ProjectName      string              `json:"project_name"`
	SystemPrompt     string              `json:"system_prompt,omitempty"`
	SystemPromptOnly bool                `json:"system_prompt_only"`
	DocumentsOnly    bool                `json:"documents_only"`
	GuidedLearning   bool                `json:"guided_learning"`
	DefaultProvider  string              `json:"default_provider,omitempty"`
	DefaultModel     string              `json:"default_model,omitempty"`
	Providers        ProviderCredentials `json:"providers"`
	UpdatedAt        time.Time           `json:"updated_at,omitempty"`
}

// DefaultSettings is returned for projects that were never configured.
func DefaultSettings(projectName string) *Settings {
	return &Settings{ProjectName: projectName}
}

// PromptSettings projects the fields the prompt builder reads.
func (s *Settings) PromptSettings() prompt.Settings {
	if s == nil {
		return prompt.Settings{}
	}
	return prompt.Settings{
		SystemPrompt:     s.SystemPrompt,
		SystemPromptOnly: s.SystemPromptOnly,
		DocumentsOnly:    s.DocumentsOnly,
		GuidedLearning:   s.GuidedLearning,
	}
}

// DefaultKind returns the configured default provider, if valid.
func (s *Settings) DefaultKind() (providers.Kind, bool) {
	if s == nil {
		return "", false
	}
	return providers.ParseKind(s.DefaultProvider)
}

// ProviderConfig returns the stored config for k as a tagged variant.
func (s *Settings) ProviderConfig(k providers.Kind) (providers.Config, bool) {
	if s == nil {
		return providers.Config{}, false
	}
	cfg := providers.Config{Kind: k}
	switch k {
	case providers.KindOpenAI:
		if s.Providers.OpenAI == nil {
			return providers.Config{}, false
		}
		c := *s.Providers.OpenAI
		cfg.OpenAI = &c
	case providers.KindBedrock:
		if s.Providers.Bedrock == nil {
			return providers.Config{}, false
		}
		c := *s.Providers.Bedrock
		cfg.Bedrock = &c
	case providers.KindGemini:
		if s.Providers.Gemini == nil {
			return providers.Config{}, false
		}
		c := *s.Providers.Gemini
		cfg.Gemini = &c
	case providers.KindOllama:
		if s.Providers.Ollama == nil {
			return providers.Config{}, false
		}
		c := *s.Providers.Ollama
		cfg.Ollama = &c
	case providers.KindVLLM:
		if s.Providers.VLLM == nil {
			return providers.Config{}, false
		}
		c := *s.Providers.VLLM
		cfg.VLLM = &c
	default:
		return providers.Config{}, false
	}
	return cfg, true
}

// Masked returns a copy safe to serialize to clients.
func (s *Settings) Masked() *Settings {
	out := *s
	p := s.Providers
	if p.OpenAI != nil {
		c := *p.OpenAI
		c.APIKey = mask(c.APIKey)
		out.Providers.OpenAI = &c
	}
	if p.Bedrock != nil {
		c := *p.Bedrock
		c.AccessKeyID = mask(c.AccessKeyID)
		c.SecretAccessKey = mask(c.SecretAccessKey)
		out.Providers.Bedrock = &c
	}
	if p.Gemini != nil {
		c := *p.Gemini
		c.APIKey = mask(c.APIKey)
		out.Providers.Gemini = &c
	}
	return &out
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return MaskedSecret
}

// Store persists settings in Redis as JSON.
type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(projectName string) string {
	return fmt.Sprintf("project:settings:%s", strings.ToLower(projectName))
}

// Get returns the project's settings, or defaults when none are stored.
func (s *Store) Get(ctx context.Context, projectName string) (*Settings, error) {
	data, err := s.redis.Get(ctx, s.key(projectName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultSettings(projectName), nil
	}
	if err != nil {
		return nil, fmt.Errorf("project: get settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("project: unmarshal settings: %w", err)
	}
	return &settings, nil
}

// Set saves settings.
func (s *Store) Set(ctx context.Context, settings *Settings) error {
	if strings.TrimSpace(settings.ProjectName) == "" {
		return errors.New("project: project name is required")
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("project: marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(settings.ProjectName), data, 0).Err(); err != nil {
		return fmt.Errorf("project: set settings: %w", err)
	}
	return nil
}
