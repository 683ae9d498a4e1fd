package providers

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/secrets"
	"github.com/wolfman30/llm-router/internal/stream"
)

// GeminiRequest is one chat turn in the shape the Gemini SDK expects.
type GeminiRequest struct {
	Model           string
	System          string
	History         []*genai.Content
	Prompt          string
	Temperature     float32
	MaxOutputTokens int32
}

// GeminiStream yields response text until io.EOF.
type GeminiStream interface {
	Next() (string, error)
	Close() error
}

// GeminiBackend isolates the SDK so the adapter can be tested offline.
type GeminiBackend interface {
	StreamChat(ctx context.Context, apiKey string, req GeminiRequest) (GeminiStream, error)
	ListModels(ctx context.Context, apiKey string) ([]conversation.Model, error)
}

// maxGeminiClients bounds the per-key client cache.
const maxGeminiClients = 32

// genaiBackend keeps one SDK client per API key so connections are reused
// across requests. Entries are keyed by the SHA-256 of the key.
type genaiBackend struct {
	opts []option.ClientOption

	mu      sync.Mutex
	clients map[[sha256.Size]byte]*geminiClient
	order   [][sha256.Size]byte
}

type geminiClient struct {
	client  *genai.Client
	refs    int
	evicted bool
}

// NewGenAIBackend returns the generative-ai-go implementation. Extra options
// are applied after the API key.
func NewGenAIBackend(opts ...option.ClientOption) GeminiBackend {
	return &genaiBackend{opts: opts, clients: map[[sha256.Size]byte]*geminiClient{}}
}

// acquire returns the cached client for apiKey, creating it on first use.
// Every acquire must be paired with release.
func (b *genaiBackend) acquire(ctx context.Context, apiKey string) (*geminiClient, error) {
	sum := sha256.Sum256([]byte(apiKey))
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[sum]; ok {
		c.refs++
		return c, nil
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, b.opts...)
	client, err := genai.NewClient(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if len(b.order) >= maxGeminiClients {
		oldest := b.order[0]
		b.order = b.order[1:]
		if old := b.clients[oldest]; old != nil {
			delete(b.clients, oldest)
			old.evicted = true
			if old.refs == 0 {
				_ = old.client.Close()
			}
		}
	}
	c := &geminiClient{client: client, refs: 1}
	b.clients[sum] = c
	b.order = append(b.order, sum)
	return c, nil
}

func (b *genaiBackend) release(c *geminiClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.refs--
	if c.evicted && c.refs == 0 {
		_ = c.client.Close()
	}
}

func (b *genaiBackend) StreamChat(ctx context.Context, apiKey string, req GeminiRequest) (GeminiStream, error) {
	cached, err := b.acquire(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	model := cached.client.GenerativeModel(req.Model)
	model.SetTemperature(req.Temperature)
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.MaxOutputTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	cs := model.StartChat()
	cs.History = req.History
	return &genaiStream{iter: cs.SendMessageStream(ctx, genai.Text(req.Prompt)), release: func() { b.release(cached) }}, nil
}

func (b *genaiBackend) ListModels(ctx context.Context, apiKey string) ([]conversation.Model, error) {
	cached, err := b.acquire(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	defer b.release(cached)

	var models []conversation.Model
	it := cached.client.ListModels(ctx)
	for {
		info, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return models, nil
		}
		if err != nil {
			return nil, err
		}
		if !supportsGenerate(info.SupportedGenerationMethods) {
			continue
		}
		models = append(models, conversation.Model{
			ID:         strings.TrimPrefix(info.Name, "models/"),
			Name:       info.DisplayName,
			TokenLimit: int(info.InputTokenLimit),
			Enabled:    true,
		})
	}
}

func supportsGenerate(methods []string) bool {
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}

type genaiStream struct {
	iter    *genai.GenerateContentResponseIterator
	release func()
	once    sync.Once
}

func (s *genaiStream) Next() (string, error) {
	resp, err := s.iter.Next()
	if errors.Is(err, iterator.Done) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

func (s *genaiStream) Close() error {
	s.once.Do(s.release)
	return nil
}

// GeminiOptions configures the Gemini adapter.
type GeminiOptions struct {
	// DefaultAPIKey is the deployment key. It is only used for projects that
	// store no key of their own, and only when AllowDefaultKey is set.
	DefaultAPIKey   string
	AllowDefaultKey bool
	Timeout       time.Duration
	MaxTokens     int
}

// Gemini calls Google Gemini. The SDK path is streaming only; batch callers
// get the collected stream.
type Gemini struct {
	backend     GeminiBackend
	resolver    *secrets.Resolver
	defaultKey  string
	allowShared bool
	timeout     time.Duration
	maxTokens   int
}

func NewGemini(backend GeminiBackend, resolver *secrets.Resolver, opts GeminiOptions) *Gemini {
	if backend == nil {
		backend = NewGenAIBackend()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxOutputTokens
	}
	return &Gemini{
		backend:     backend,
		resolver:    resolver,
		defaultKey:  opts.DefaultAPIKey,
		allowShared: opts.AllowDefaultKey,
		timeout:     opts.Timeout,
		maxTokens:   opts.MaxTokens,
	}
}

func (a *Gemini) Kind() Kind { return KindGemini }

func (a *Gemini) apiKey(cfg Config) (string, error) {
	var raw string
	if cfg.Gemini != nil {
		raw = cfg.Gemini.APIKey
	}
	key, err := a.resolver.Resolve(raw)
	if err != nil {
		return "", err
	}
	if key != "" && a.defaultKey != "" && key == a.defaultKey {
		return "", apperr.Credential("this API key cannot be used; please add your own Gemini API key on the LLM page", nil)
	}
	if key == "" && a.allowShared {
		key = a.defaultKey
	}
	if key == "" {
		return "", apperr.Credential("Please add your Gemini API key on the LLM page", nil)
	}
	return key, nil
}

func (a *Gemini) Send(ctx context.Context, conv conversation.Conversation, cfg Config, streaming bool) (resp stream.Response, err error) {
	if err := requireConversation(conv); err != nil {
		return stream.Response{}, err
	}
	key, err := a.apiKey(cfg)
	if err != nil {
		return stream.Response{}, err
	}

	ctx, span := startSpan(ctx, KindGemini, "send", conv, streaming)
	defer func() { endSpan(span, err) }()

	callCtx, cancel := withDeadline(ctx, a.timeout)
	gs, err := a.backend.StreamChat(callCtx, key, geminiRequest(conv, a.maxTokens))
	if err != nil {
		cancel()
		return stream.Response{}, geminiError(err)
	}

	next := func() (string, error) {
		text, err := gs.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", geminiError(err)
		}
		return text, nil
	}
	closer := func() error {
		cancel()
		return gs.Close()
	}
	chunks := stream.FromFunc(next, closer)
	if streaming {
		return stream.Streaming(chunks), nil
	}

	text, err := stream.Streaming(chunks).Collect(callCtx)
	if err != nil {
		return stream.Response{}, translate(string(KindGemini), err)
	}
	if text == "" {
		return stream.Response{}, apperr.NoContent(string(KindGemini))
	}
	return stream.Batch(text), nil
}

// geminiRequest places the system prompt in SystemInstruction, earlier turns
// in History with the user/model roles, and sends the final turn.
func geminiRequest(conv conversation.Conversation, maxTokens int) GeminiRequest {
	system, turns := buildTurns(conv)
	req := GeminiRequest{
		Model:           conv.Model.ID,
		System:          system,
		Temperature:     float32(conv.Temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if len(turns) == 0 {
		return req
	}
	last := turns[len(turns)-1]
	req.Prompt = last.Text
	for _, t := range turns[:len(turns)-1] {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := "user"
		if t.Role == conversation.RoleAssistant {
			role = "model"
		}
		req.History = append(req.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Text)}})
	}
	return req
}

func geminiError(err error) error {
	if ctxErr := apperr.FromContext(string(KindGemini), err); ctxErr != nil {
		return ctxErr
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		msg := gErr.Message
		if msg == "" {
			msg = "request to the model failed"
		}
		return apperr.Provider(string(KindGemini), gErr.Code, msg, err)
	}
	return translate(string(KindGemini), err)
}

func (a *Gemini) ListModels(ctx context.Context, cfg Config) ([]conversation.Model, error) {
	key, err := a.apiKey(cfg)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := withDeadline(ctx, a.timeout)
	defer cancel()
	models, err := a.backend.ListModels(callCtx, key)
	if err != nil {
		return nil, geminiError(err)
	}
	return models, nil
}
