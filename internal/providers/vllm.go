package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/secrets"
	"github.com/wolfman30/llm-router/internal/stream"
)

const (
	// vllmPlaceholderKey satisfies the OpenAI wire; vLLM does not check it.
	vllmPlaceholderKey = "non-empty-placeholder"
	// DefaultVLLMMaxTokens is the larger output budget for self-hosted models.
	DefaultVLLMMaxTokens = 8192
)

// VLLMOptions configures the vLLM adapter.
type VLLMOptions struct {
	DefaultBaseURL string
	Timeout        time.Duration
	MaxTokens      int
	HTTPClient     *http.Client
}

// VLLM talks to a self-hosted vLLM server over the OpenAI wire.
type VLLM struct {
	wire        openAIWire
	defaultBase string
	resolver    *secrets.Resolver
}

func NewVLLM(resolver *secrets.Resolver, opts VLLMOptions) *VLLM {
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultVLLMMaxTokens
	}
	return &VLLM{
		wire:        openAIWire{kind: KindVLLM, client: client, timeout: opts.Timeout, maxTokens: opts.MaxTokens},
		defaultBase: opts.DefaultBaseURL,
		resolver:    resolver,
	}
}

func (a *VLLM) Kind() Kind { return KindVLLM }

func (a *VLLM) Send(ctx context.Context, conv conversation.Conversation, cfg Config, streaming bool) (stream.Response, error) {
	if err := requireConversation(conv); err != nil {
		return stream.Response{}, err
	}
	base, err := a.baseURL(cfg)
	if err != nil {
		return stream.Response{}, err
	}
	return a.wire.send(ctx, conv, base, vllmPlaceholderKey, streaming)
}

func (a *VLLM) ListModels(ctx context.Context, cfg Config) ([]conversation.Model, error) {
	base, err := a.baseURL(cfg)
	if err != nil {
		return nil, err
	}
	return a.wire.models(ctx, base, vllmPlaceholderKey)
}

func (a *VLLM) baseURL(cfg Config) (string, error) {
	if cfg.VLLM != nil && cfg.VLLM.BaseURL != "" {
		return a.resolver.Resolve(cfg.VLLM.BaseURL)
	}
	if a.defaultBase == "" {
		return "", notConfigured(KindVLLM, "vLLM server URL")
	}
	return a.defaultBase, nil
}
