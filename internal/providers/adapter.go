package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/stream"
)

var tracer = otel.Tracer("llmrouter.internal.providers")

const (
	// DefaultTimeout bounds a single provider call, including streaming.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxOutputTokens is the output budget for hosted backends.
	DefaultMaxOutputTokens = 2048

	maxErrorBody = 64 * 1024
)

// Adapter is implemented once per backend.
type Adapter interface {
	Kind() Kind
	Send(ctx context.Context, conv conversation.Conversation, cfg Config, stream bool) (stream.Response, error)
	ListModels(ctx context.Context, cfg Config) ([]conversation.Model, error)
}

// NewHTTPClient returns the pooled client shared by the HTTP-based adapters.
// It has no overall timeout; each call carries its own deadline.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 20
	transport.IdleConnTimeout = 90 * time.Second
	transport.DialContext = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	return &http.Client{Transport: transport}
}

func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// translate converts any backend failure into the shared taxonomy.
func translate(provider string, err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if ctxErr := apperr.FromContext(provider, err); ctxErr != nil {
		return ctxErr
	}
	return apperr.Provider(provider, 0, "request to the model failed", err)
}

func startSpan(ctx context.Context, kind Kind, op string, conv conversation.Conversation, streaming bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "providers."+string(kind)+"."+op, trace.WithAttributes(
		attribute.String("llm.provider", string(kind)),
		attribute.String("llm.model", conv.Model.ID),
		attribute.Bool("llm.stream", streaming),
		attribute.Int("llm.messages", len(conv.Messages)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Sanitize(err.Error()))
	}
	span.End()
}

func requireConversation(conv conversation.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(conv.Model.ID) == "" {
		return apperr.InvalidConversation("no model selected for this conversation")
	}
	return nil
}

func notConfigured(provider Kind, what string) error {
	return apperr.Provider(string(provider), http.StatusBadRequest, what+" is not configured", nil)
}

// backendError builds a provider error from a non-2xx response, using the
// backend's own status and the human-readable part of its error payload.
func backendError(provider Kind, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		msg = fmt.Sprintf("%s rejected the credentials: %s", provider, msg)
	}
	return apperr.Provider(string(provider), resp.StatusCode, msg, nil)
}

// errorMessage understands {"error":{"message"}}, {"error":"..."} and
// {"message":"..."} payloads.
func errorMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(payload.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	return payload.Message
}

// joinURL appends path to base without doubling slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// openAIPath handles base URLs given with or without the /v1 suffix.
func openAIPath(base, path string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return joinURL(base, path)
	}
	return joinURL(base+"/v1", path)
}
