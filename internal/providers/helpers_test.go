package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/secrets"
)

func testConversation() conversation.Conversation {
	return conversation.Conversation{
		ID:          "conv-1",
		Model:       conversation.Model{ID: "test-model", TokenLimit: 8192},
		Temperature: 0.2,
		Messages: []conversation.Message{
			{Role: conversation.RoleSystem, Content: conversation.TextContent("ignored system")},
			{Role: conversation.RoleUser, Content: conversation.TextContent("hi")},
			{Role: conversation.RoleAssistant, Content: conversation.TextContent("hello, how can I help?")},
			{
				Role:                         conversation.RoleUser,
				Content:                      conversation.TextContent("what is a monad?"),
				LatestSystemMessage:          "You are a tutor.",
				FinalPromptEngineeredMessage: "You are a tutor.\n\nNow please respond to my question: what is a monad?",
			},
		},
	}
}

// recorder is an httptest backend that keeps every request body.
type recorder struct {
	mu     sync.Mutex
	bodies []string
	paths  []string
	auth   []string
}

func (r *recorder) record(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, string(body))
	r.paths = append(r.paths, req.URL.Path)
	r.auth = append(r.auth, req.Header.Get("Authorization"))
}

func (r *recorder) lastBody(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.bodies)
	return r.bodies[len(r.bodies)-1]
}

func newBackend(t *testing.T, rec *recorder, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if rec != nil {
			rec.record(req)
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func noSigningKey() *secrets.Resolver {
	return secrets.NewResolver("")
}

// fakeEventStream replays canned Bedrock stream events.
type fakeEventStream struct {
	ch     chan brtypes.ConverseStreamOutput
	err    error
	closed chan struct{}
	once   sync.Once
}

func newFakeEventStream(texts ...string) *fakeEventStream {
	s := &fakeEventStream{ch: make(chan brtypes.ConverseStreamOutput, len(texts)), closed: make(chan struct{})}
	for _, text := range texts {
		s.ch <- &brtypes.ConverseStreamOutputMemberContentBlockDelta{
			Value: brtypes.ContentBlockDeltaEvent{Delta: &brtypes.ContentBlockDeltaMemberText{Value: text}},
		}
	}
	close(s.ch)
	return s
}

func (s *fakeEventStream) Events() <-chan brtypes.ConverseStreamOutput { return s.ch }
func (s *fakeEventStream) Err() error                                  { return s.err }
func (s *fakeEventStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeBedrock struct {
	mu           sync.Mutex
	converse     []*bedrockruntime.ConverseInput
	streams      []*bedrockruntime.ConverseStreamInput
	reply        string
	streamEvents BedrockEventStream
	err          error
}

func (f *fakeBedrock) Converse(_ context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
	f.mu.Lock()
	f.converse = append(f.converse, in)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: f.reply}},
		}},
	}, nil
}

func (f *fakeBedrock) ConverseStream(_ context.Context, in *bedrockruntime.ConverseStreamInput) (BedrockEventStream, error) {
	f.mu.Lock()
	f.streams = append(f.streams, in)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.streamEvents, nil
}

type fakeGeminiStream struct {
	chunks []string
	err    error
	closed bool
}

func (s *fakeGeminiStream) Next() (string, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]
	return next, nil
}

func (s *fakeGeminiStream) Close() error {
	s.closed = true
	return nil
}

type fakeGemini struct {
	requests []GeminiRequest
	keys     []string
	chunks   []string
	streams  []*fakeGeminiStream
	models   []conversation.Model
	err      error
}

func (f *fakeGemini) StreamChat(_ context.Context, apiKey string, req GeminiRequest) (GeminiStream, error) {
	f.requests = append(f.requests, req)
	f.keys = append(f.keys, apiKey)
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeGeminiStream{chunks: append([]string(nil), f.chunks...)}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeGemini) ListModels(_ context.Context, apiKey string) ([]conversation.Model, error) {
	f.keys = append(f.keys, apiKey)
	return f.models, f.err
}
