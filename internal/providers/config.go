// Package providers adapts the normalized conversation to each supported LLM
// backend and normalizes what comes back.
package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the closed set of supported backends.
type Kind string

const (
	KindOpenAI  Kind = "openai"
	KindBedrock Kind = "bedrock"
	KindGemini  Kind = "gemini"
	KindOllama  Kind = "ollama"
	KindVLLM    Kind = "vllm"
)

// Kinds lists every backend in a stable order.
var Kinds = []Kind{KindOpenAI, KindBedrock, KindGemini, KindOllama, KindVLLM}

// ParseKind normalizes a provider name. Unknown names return false.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindOpenAI, KindBedrock, KindGemini, KindOllama, KindVLLM:
		return k, true
	default:
		return "", false
	}
}

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// BedrockConfig carries the three-part AWS credential.
type BedrockConfig struct {
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	Region          string `json:"region,omitempty"`
}

// GeminiConfig configures Google Gemini.
type GeminiConfig struct {
	APIKey string `json:"apiKey,omitempty"`
}

// OllamaConfig points at a self-hosted Ollama server.
type OllamaConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
}

// VLLMConfig points at a self-hosted vLLM server.
type VLLMConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
}

// Config is a tagged variant: Kind names the one active field.
type Config struct {
	Kind    Kind
	OpenAI  *OpenAIConfig
	Bedrock *BedrockConfig
	Gemini  *GeminiConfig
	Ollama  *OllamaConfig
	VLLM    *VLLMConfig
}

// EmptyConfig returns the zero variant for k.
func EmptyConfig(k Kind) Config {
	switch k {
	case KindOpenAI:
		return Config{Kind: k, OpenAI: &OpenAIConfig{}}
	case KindBedrock:
		return Config{Kind: k, Bedrock: &BedrockConfig{}}
	case KindGemini:
		return Config{Kind: k, Gemini: &GeminiConfig{}}
	case KindOllama:
		return Config{Kind: k, Ollama: &OllamaConfig{}}
	case KindVLLM:
		return Config{Kind: k, VLLM: &VLLMConfig{}}
	default:
		return Config{Kind: k}
	}
}

// DecodeConfig reads the flat providerConfig object for kind k. A null or
// empty payload yields the empty variant.
func DecodeConfig(k Kind, raw json.RawMessage) (Config, error) {
	cfg := EmptyConfig(k)
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, cfg.Validate()
	}
	var target any
	switch k {
	case KindOpenAI:
		target = cfg.OpenAI
	case KindBedrock:
		target = cfg.Bedrock
	case KindGemini:
		target = cfg.Gemini
	case KindOllama:
		target = cfg.Ollama
	case KindVLLM:
		target = cfg.VLLM
	default:
		return Config{}, fmt.Errorf("providers: unknown provider %q", k)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return Config{}, fmt.Errorf("providers: decode %s config: %w", k, err)
	}
	return cfg, nil
}

// Validate checks that exactly one variant is set and that it matches Kind.
func (c Config) Validate() error {
	set := 0
	var active Kind
	if c.OpenAI != nil {
		set++
		active = KindOpenAI
	}
	if c.Bedrock != nil {
		set++
		active = KindBedrock
	}
	if c.Gemini != nil {
		set++
		active = KindGemini
	}
	if c.Ollama != nil {
		set++
		active = KindOllama
	}
	if c.VLLM != nil {
		set++
		active = KindVLLM
	}
	if set != 1 {
		return fmt.Errorf("providers: expected exactly one provider config, got %d", set)
	}
	if active != c.Kind {
		return fmt.Errorf("providers: config variant %q does not match provider %q", active, c.Kind)
	}
	return nil
}
