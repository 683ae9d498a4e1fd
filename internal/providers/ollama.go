package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/secrets"
	"github.com/wolfman30/llm-router/internal/stream"
)

type ollamaOptions struct {
	NumCtx      int     `json:"num_ctx,omitempty"`
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type ollamaTags struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// OllamaOptions configures the Ollama adapter.
type OllamaOptions struct {
	DefaultBaseURL string
	Timeout        time.Duration
	MaxTokens      int
	HTTPClient     *http.Client
}

// Ollama talks to a self-hosted Ollama server using its native NDJSON API.
type Ollama struct {
	client      *http.Client
	timeout     time.Duration
	maxTokens   int
	defaultBase string
	resolver    *secrets.Resolver
}

func NewOllama(resolver *secrets.Resolver, opts OllamaOptions) *Ollama {
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxOutputTokens
	}
	return &Ollama{
		client:      client,
		timeout:     opts.Timeout,
		maxTokens:   opts.MaxTokens,
		defaultBase: opts.DefaultBaseURL,
		resolver:    resolver,
	}
}

func (a *Ollama) Kind() Kind { return KindOllama }

// baseURL prefers the project's server, which may be stored encrypted, and
// falls back to the deployment default.
func (a *Ollama) baseURL(cfg Config) (string, error) {
	if cfg.Ollama != nil && cfg.Ollama.BaseURL != "" {
		base, err := a.resolver.Resolve(cfg.Ollama.BaseURL)
		if err != nil {
			return "", err
		}
		if base != "" {
			return base, nil
		}
	}
	if a.defaultBase == "" {
		return "", notConfigured(KindOllama, "Ollama server URL")
	}
	return a.defaultBase, nil
}

func (a *Ollama) Send(ctx context.Context, conv conversation.Conversation, cfg Config, streaming bool) (resp stream.Response, err error) {
	if err := requireConversation(conv); err != nil {
		return stream.Response{}, err
	}
	base, err := a.baseURL(cfg)
	if err != nil {
		return stream.Response{}, err
	}

	ctx, span := startSpan(ctx, KindOllama, "send", conv, streaming)
	defer func() { endSpan(span, err) }()

	body, err := json.Marshal(ollamaChatRequest{
		Model:    conv.Model.ID,
		Messages: openAIMessages(conv),
		Stream:   streaming,
		Options: ollamaOptions{
			NumCtx:      conv.Model.TokenLimit,
			Temperature: conv.Temperature,
			NumPredict:  a.maxTokens,
		},
	})
	if err != nil {
		return stream.Response{}, fmt.Errorf("providers: encode ollama request: %w", err)
	}

	callCtx, cancel := withDeadline(ctx, a.timeout)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, joinURL(base, "api/chat"), bytes.NewReader(body))
	if err != nil {
		cancel()
		return stream.Response{}, fmt.Errorf("providers: build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := a.client.Do(req)
	if err != nil {
		cancel()
		return stream.Response{}, translate(string(KindOllama), err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer cancel()
		defer httpResp.Body.Close()
		return stream.Response{}, backendError(KindOllama, httpResp)
	}

	if streaming {
		return stream.Streaming(ollamaChunks(httpResp.Body, cancel)), nil
	}

	defer cancel()
	defer httpResp.Body.Close()
	var out ollamaChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return stream.Response{}, translate(string(KindOllama), fmt.Errorf("decode chat: %w", err))
	}
	if out.Error != "" {
		return stream.Response{}, apperr.Provider(string(KindOllama), http.StatusBadGateway, out.Error, nil)
	}
	if out.Message.Content == "" {
		return stream.Response{}, apperr.NoContent(string(KindOllama))
	}
	return stream.Batch(out.Message.Content), nil
}

// ollamaChunks decodes one JSON object per line until done is set.
func ollamaChunks(body io.ReadCloser, cancel context.CancelFunc) stream.Chunks {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	finished := false
	next := func() (string, error) {
		if finished {
			return "", io.EOF
		}
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				return "", apperr.Provider(string(KindOllama), 0, "malformed stream chunk", err)
			}
			if chunk.Error != "" {
				return "", apperr.Provider(string(KindOllama), http.StatusBadGateway, chunk.Error, nil)
			}
			if chunk.Done {
				finished = true
				if chunk.Message.Content != "" {
					return chunk.Message.Content, nil
				}
				return "", io.EOF
			}
			return chunk.Message.Content, nil
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			return "", translate(string(KindOllama), err)
		}
		return "", io.EOF
	}
	closer := func() error {
		cancel()
		return body.Close()
	}
	return stream.FromFunc(next, closer)
}

func (a *Ollama) ListModels(ctx context.Context, cfg Config) ([]conversation.Model, error) {
	base, err := a.baseURL(cfg)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := withDeadline(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, joinURL(base, "api/tags"), nil)
	if err != nil {
		return nil, fmt.Errorf("providers: build ollama tags request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, translate(string(KindOllama), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, backendError(KindOllama, resp)
	}

	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, translate(string(KindOllama), fmt.Errorf("decode tags: %w", err))
	}
	models := make([]conversation.Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		id := m.Model
		if id == "" {
			id = m.Name
		}
		models = append(models, conversation.Model{ID: id, Name: m.Name, Enabled: true})
	}
	return models, nil
}
