package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/secrets"
	"github.com/wolfman30/llm-router/internal/stream"
)

// DefaultOpenAIBaseURL is used when neither the request nor the environment names one.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error json.RawMessage `json:"error,omitempty"`
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// openAIWire speaks the OpenAI chat completions protocol. It backs both the
// hosted OpenAI adapter and the self-hosted vLLM adapter.
type openAIWire struct {
	kind      Kind
	client    *http.Client
	timeout   time.Duration
	maxTokens int
}

func openAIMessages(conv conversation.Conversation) []chatMessage {
	system, turns := buildTurns(conv)
	msgs := make([]chatMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: string(conversation.RoleSystem), Content: system})
	}
	for _, t := range turns {
		msgs = append(msgs, chatMessage{Role: chatRole(t.Role), Content: t.Text})
	}
	return msgs
}

func (w *openAIWire) send(ctx context.Context, conv conversation.Conversation, baseURL, apiKey string, streaming bool) (resp stream.Response, err error) {
	ctx, span := startSpan(ctx, w.kind, "send", conv, streaming)
	defer func() { endSpan(span, err) }()

	body, err := json.Marshal(chatCompletionRequest{
		Model:       conv.Model.ID,
		Messages:    openAIMessages(conv),
		Temperature: conv.Temperature,
		MaxTokens:   w.maxTokens,
		Stream:      streaming,
	})
	if err != nil {
		return stream.Response{}, fmt.Errorf("providers: encode %s request: %w", w.kind, err)
	}

	callCtx, cancel := withDeadline(ctx, w.timeout)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, openAIPath(baseURL, "chat/completions"), bytes.NewReader(body))
	if err != nil {
		cancel()
		return stream.Response{}, fmt.Errorf("providers: build %s request: %w", w.kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := w.client.Do(req)
	if err != nil {
		cancel()
		return stream.Response{}, translate(string(w.kind), err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer cancel()
		defer httpResp.Body.Close()
		return stream.Response{}, backendError(w.kind, httpResp)
	}

	if streaming {
		return stream.Streaming(w.chunks(httpResp.Body, cancel)), nil
	}

	defer cancel()
	defer httpResp.Body.Close()
	var out chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return stream.Response{}, translate(string(w.kind), fmt.Errorf("decode completion: %w", err))
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return stream.Response{}, apperr.NoContent(string(w.kind))
	}
	return stream.Batch(out.Choices[0].Message.Content), nil
}

// chunks reads SSE deltas straight off the body. Closing the stream cancels
// the request context, which aborts the upstream read.
func (w *openAIWire) chunks(body io.ReadCloser, cancel context.CancelFunc) stream.Chunks {
	dec := newSSEDecoder(body)
	finished := false
	next := func() (string, error) {
		if finished {
			return "", io.EOF
		}
		data, err := dec.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", translate(string(w.kind), err)
		}
		if data == sseDone {
			finished = true
			return "", io.EOF
		}
		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", apperr.Provider(string(w.kind), 0, "malformed stream chunk", err)
		}
		if len(chunk.Error) > 0 && string(chunk.Error) != "null" {
			return "", apperr.Provider(string(w.kind), http.StatusBadGateway, errorMessage([]byte(data)), nil)
		}
		if len(chunk.Choices) == 0 {
			return "", nil
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	closer := func() error {
		cancel()
		return body.Close()
	}
	return stream.FromFunc(next, closer)
}

func (w *openAIWire) models(ctx context.Context, baseURL, apiKey string) ([]conversation.Model, error) {
	callCtx, cancel := withDeadline(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, openAIPath(baseURL, "models"), nil)
	if err != nil {
		return nil, fmt.Errorf("providers: build %s models request: %w", w.kind, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, translate(string(w.kind), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, backendError(w.kind, resp)
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, translate(string(w.kind), fmt.Errorf("decode models: %w", err))
	}
	models := make([]conversation.Model, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, conversation.Model{ID: m.ID, Name: m.ID, Enabled: true})
	}
	return models, nil
}

// SharedKeyPolicy controls use of the deployment's own OpenAI key.
type SharedKeyPolicy struct {
	FallbackKey   string
	AllowFallback bool
}

// OpenAIOptions configures the hosted OpenAI adapter.
type OpenAIOptions struct {
	BaseURL    string
	SharedKey  SharedKeyPolicy
	Timeout    time.Duration
	MaxTokens  int
	HTTPClient *http.Client
}

// OpenAI is the adapter for api.openai.com and compatible hosted endpoints.
type OpenAI struct {
	wire     openAIWire
	baseURL  string
	shared   SharedKeyPolicy
	resolver *secrets.Resolver
}

// NewOpenAI constructs the OpenAI adapter.
func NewOpenAI(resolver *secrets.Resolver, opts OpenAIOptions) *OpenAI {
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxOutputTokens
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenAIBaseURL
	}
	return &OpenAI{
		wire:     openAIWire{kind: KindOpenAI, client: client, timeout: opts.Timeout, maxTokens: opts.MaxTokens},
		baseURL:  opts.BaseURL,
		shared:   opts.SharedKey,
		resolver: resolver,
	}
}

func (a *OpenAI) Kind() Kind { return KindOpenAI }

func (a *OpenAI) Send(ctx context.Context, conv conversation.Conversation, cfg Config, streaming bool) (stream.Response, error) {
	if err := requireConversation(conv); err != nil {
		return stream.Response{}, err
	}
	key, base, err := a.credentials(cfg)
	if err != nil {
		return stream.Response{}, err
	}
	return a.wire.send(ctx, conv, base, key, streaming)
}

func (a *OpenAI) ListModels(ctx context.Context, cfg Config) ([]conversation.Model, error) {
	key, base, err := a.credentials(cfg)
	if err != nil {
		return nil, err
	}
	return a.wire.models(ctx, base, key)
}

// credentials applies the shared-key policy. A caller may never submit the
// deployment's own key as theirs.
func (a *OpenAI) credentials(cfg Config) (apiKey, baseURL string, err error) {
	var raw OpenAIConfig
	if cfg.OpenAI != nil {
		raw = *cfg.OpenAI
	}
	apiKey, err = a.resolver.Resolve(strings.TrimSpace(raw.APIKey))
	if err != nil {
		return "", "", err
	}
	baseURL = a.baseURL
	if raw.BaseURL != "" {
		if baseURL, err = a.resolver.Resolve(raw.BaseURL); err != nil {
			return "", "", err
		}
	}

	fallback := a.shared.FallbackKey
	switch {
	case apiKey != "" && fallback != "" && apiKey == fallback:
		return "", "", apperr.Credential("this API key cannot be used; please add your own OpenAI API key on the LLM page", nil)
	case apiKey != "":
		return apiKey, baseURL, nil
	case a.shared.AllowFallback && fallback != "":
		// The deployment key only ever goes to the deployment's endpoint.
		if strings.TrimRight(baseURL, "/") != strings.TrimRight(a.baseURL, "/") {
			return "", "", apperr.Credential("a custom base URL requires your own OpenAI API key", nil)
		}
		return fallback, a.baseURL, nil
	default:
		return "", "", apperr.Credential("Please add your OpenAI API key on the LLM page", nil)
	}
}
