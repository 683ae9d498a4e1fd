// Package retrieval fetches ranked document contexts from the upstream
// retrieval service.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/pkg/logging"
)

const (
	defaultTimeout  = 15 * time.Second
	topContextsPath = "/getTopContexts"
)

var tracer = otel.Tracer("llmrouter.internal.retrieval")

// Query selects contexts for one question.
type Query struct {
	ProjectName    string `json:"course_name"`
	SearchQuery    string `json:"search_query"`
	TokenLimit     int    `json:"token_limit"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Retriever supplies ranked contexts for a question.
type Retriever interface {
	TopContexts(ctx context.Context, q Query) ([]conversation.Context, error)
}

// Client is the HTTP Retriever.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient returns nil when baseURL is empty; callers treat a nil Retriever
// as retrieval being disabled.
func NewClient(baseURL string, logger *logging.Logger, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TopContexts returns contexts in rank order.
func (c *Client) TopContexts(ctx context.Context, q Query) (contexts []conversation.Context, err error) {
	ctx, span := tracer.Start(ctx, "retrieval.top_contexts")
	span.SetAttributes(
		attribute.String("retrieval.project", q.ProjectName),
		attribute.Int("retrieval.token_limit", q.TokenLimit),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("retrieval.contexts", len(contexts)))
		span.End()
	}()

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("retrieval: encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+topContextsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("retrieval: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("retrieval: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&contexts); err != nil {
		return nil, fmt.Errorf("retrieval: decode contexts: %w", err)
	}

	c.logger.Debug("retrieved contexts",
		"project", q.ProjectName,
		"count", len(contexts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return contexts, nil
}
