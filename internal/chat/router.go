// Package chat routes a conversation to exactly one provider adapter.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/observability/metrics"
	"github.com/wolfman30/llm-router/internal/project"
	"github.com/wolfman30/llm-router/internal/prompt"
	"github.com/wolfman30/llm-router/internal/providers"
	"github.com/wolfman30/llm-router/internal/retrieval"
	"github.com/wolfman30/llm-router/internal/stream"
	"github.com/wolfman30/llm-router/pkg/logging"
)

// SettingsSource loads project settings. *project.Store satisfies it.
type SettingsSource interface {
	Get(ctx context.Context, projectName string) (*project.Settings, error)
}

// Request is one inbound chat call.
type Request struct {
	Conversation   conversation.Conversation `json:"conversation"`
	Provider       string                    `json:"provider,omitempty"`
	ProviderConfig json.RawMessage           `json:"providerConfig,omitempty"`
	Stream         bool                      `json:"stream"`
	ProjectName    string                    `json:"projectName,omitempty"`
}

// Result is what a routed call produced.
type Result struct {
	Provider providers.Kind
	Response stream.Response
}

// Options configures a Router. Nil fields disable the matching feature.
type Options struct {
	Settings        SettingsSource
	Retriever       retrieval.Retriever
	Builder         *prompt.Builder
	Metrics         *metrics.ProviderMetrics
	Logger          *logging.Logger
	DefaultProvider providers.Kind
}

// Router selects a provider, prepares the prompt when needed and dispatches.
// It holds no per-request state.
type Router struct {
	registry        *providers.Registry
	settings        SettingsSource
	retriever       retrieval.Retriever
	builder         *prompt.Builder
	metrics         *metrics.ProviderMetrics
	logger          *logging.Logger
	defaultProvider providers.Kind
}

func NewRouter(registry *providers.Registry, opts Options) *Router {
	if registry == nil {
		panic("chat: provider registry cannot be nil")
	}
	if opts.Builder == nil {
		opts.Builder = prompt.NewBuilder()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Router{
		registry:        registry,
		settings:        opts.Settings,
		retriever:       opts.Retriever,
		builder:         opts.Builder,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		defaultProvider: opts.DefaultProvider,
	}
}

// Route sends the conversation to one backend. A streaming result must be
// closed by the caller.
func (r *Router) Route(ctx context.Context, req Request) (Result, error) {
	if err := req.Conversation.Validate(); err != nil {
		return Result{}, err
	}
	settings := r.loadSettings(ctx, projectName(req))

	kind, err := r.selectProvider(req.Provider, settings)
	if err != nil {
		return Result{}, err
	}
	cfg, err := r.providerConfig(kind, req.ProviderConfig, settings)
	if err != nil {
		return Result{}, err
	}
	adapter, err := r.registry.Get(kind)
	if err != nil {
		return Result{}, apperr.Provider(string(kind), http.StatusBadRequest, "provider is not enabled on this deployment", err)
	}

	conv := req.Conversation
	if conv.Model.ID == "" && settings.DefaultModel != "" {
		conv.Model.ID = settings.DefaultModel
	}
	// a conversation ending in an assistant or tool turn is forwarded as is
	if last := conv.LastMessage(); last.Role == conversation.RoleUser && last.FinalPromptEngineeredMessage == "" {
		if conv, err = r.prepare(ctx, conv, settings); err != nil {
			return Result{}, err
		}
	}

	mode := stream.ModeBatch
	if req.Stream {
		mode = stream.ModeStreaming
	}
	start := time.Now()
	resp, err := adapter.Send(ctx, conv, cfg, req.Stream)
	if err != nil {
		r.metrics.ObserveRequest(string(kind), mode.String(), errorStatus(err), time.Since(start).Seconds())
		r.logger.Warn("llm request failed",
			"provider", kind,
			"model", conv.Model.ID,
			"stream", req.Stream,
			"status", apperr.HTTPStatus(err),
			"error", apperr.Sanitize(err.Error()),
		)
		return Result{}, err
	}

	r.logger.Info("llm request routed",
		"provider", kind,
		"model", conv.Model.ID,
		"project", settings.ProjectName,
		"mode", resp.Mode.String(),
		"messages", len(conv.Messages),
	)
	if resp.Mode == stream.ModeStreaming {
		resp = stream.Streaming(newMeteredChunks(resp.Chunks, string(kind), start, r.metrics))
	} else {
		r.metrics.ObserveRequest(string(kind), resp.Mode.String(), "ok", time.Since(start).Seconds())
	}
	return Result{Provider: kind, Response: resp}, nil
}

// BuildPrompt returns the conversation with the engineered prompt attached to
// its last message, without calling any provider.
func (r *Router) BuildPrompt(ctx context.Context, conv conversation.Conversation, projectName string) (conversation.Conversation, error) {
	if err := conv.Validate(); err != nil {
		return conversation.Conversation{}, err
	}
	if projectName == "" {
		projectName = conv.ProjectName
	}
	return r.prepare(ctx, conv, r.loadSettings(ctx, projectName))
}

// ListModels lists the models one backend offers to a project.
func (r *Router) ListModels(ctx context.Context, providerName, projectName string) ([]conversation.Model, error) {
	kind, ok := providers.ParseKind(providerName)
	if !ok {
		return nil, unknownProvider(providerName)
	}
	adapter, err := r.registry.Get(kind)
	if err != nil {
		return nil, apperr.Provider(string(kind), http.StatusBadRequest, "provider is not enabled on this deployment", err)
	}
	settings := r.loadSettings(ctx, projectName)
	cfg, err := r.providerConfig(kind, nil, settings)
	if err != nil {
		return nil, err
	}
	return adapter.ListModels(ctx, cfg)
}

// selectProvider: explicit request, then project default, then deployment
// default.
func (r *Router) selectProvider(explicit string, settings *project.Settings) (providers.Kind, error) {
	if strings.TrimSpace(explicit) != "" {
		kind, ok := providers.ParseKind(explicit)
		if !ok {
			return "", unknownProvider(explicit)
		}
		return kind, nil
	}
	if kind, ok := settings.DefaultKind(); ok {
		return kind, nil
	}
	if r.defaultProvider != "" {
		return r.defaultProvider, nil
	}
	return "", apperr.NoProviderConfigured()
}

func (r *Router) providerConfig(kind providers.Kind, raw json.RawMessage, settings *project.Settings) (providers.Config, error) {
	if len(raw) > 0 && string(raw) != "null" {
		cfg, err := providers.DecodeConfig(kind, raw)
		if err != nil {
			return providers.Config{}, apperr.InvalidConversation(fmt.Sprintf("invalid providerConfig for %s", kind))
		}
		return cfg, nil
	}
	if cfg, ok := settings.ProviderConfig(kind); ok {
		return cfg, nil
	}
	return providers.EmptyConfig(kind), nil
}

// prepare gathers contexts and runs the prompt builder.
func (r *Router) prepare(ctx context.Context, conv conversation.Conversation, settings *project.Settings) (conversation.Conversation, error) {
	last := conv.LastMessage()
	contexts := last.Contexts
	if r.retriever != nil && !settings.SystemPromptOnly && settings.ProjectName != "" {
		found, err := r.retriever.TopContexts(ctx, retrieval.Query{
			ProjectName:    settings.ProjectName,
			SearchQuery:    last.Content.Text(),
			TokenLimit:     conv.Model.TokenLimit,
			ConversationID: conv.ID,
		})
		if err != nil {
			r.metrics.IncRetrievalError()
			r.logger.Warn("retrieval failed, using attached contexts", "project", settings.ProjectName, "error", err)
		} else {
			contexts = found
		}
	}
	return r.builder.Build(conv, settings.PromptSettings(), contexts)
}

// loadSettings never fails the request; a broken settings store degrades to
// defaults.
func (r *Router) loadSettings(ctx context.Context, name string) *project.Settings {
	if r.settings == nil || name == "" {
		return project.DefaultSettings(name)
	}
	settings, err := r.settings.Get(ctx, name)
	if err != nil {
		r.logger.Warn("failed to load project settings", "project", name, "error", err)
		return project.DefaultSettings(name)
	}
	return settings
}

func projectName(req Request) string {
	if req.ProjectName != "" {
		return req.ProjectName
	}
	return req.Conversation.ProjectName
}

func unknownProvider(name string) error {
	return apperr.Provider(name, http.StatusBadRequest, fmt.Sprintf("unknown provider %q", name), nil)
}

func errorStatus(err error) string {
	if e, ok := apperr.As(err); ok {
		return string(e.Kind)
	}
	return "error"
}
