package webchat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/chat"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/providers"
	"github.com/wolfman30/llm-router/internal/stream"
	"github.com/wolfman30/llm-router/pkg/logging"
	"golang.org/x/net/websocket"
)

type fakeRouter struct {
	mu      sync.Mutex
	reqs    []chat.Request
	respond func(ctx context.Context) (stream.Response, error)
}

func (f *fakeRouter) Route(ctx context.Context, req chat.Request) (chat.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	resp, err := f.respond(ctx)
	if err != nil {
		return chat.Result{}, err
	}
	return chat.Result{Provider: providers.KindOllama, Response: resp}, nil
}

func sliceStream(items ...string) stream.Chunks {
	i := 0
	return stream.FromFunc(func() (string, error) {
		if i >= len(items) {
			return "", io.EOF
		}
		i++
		return items[i-1], nil
	}, func() error { return nil })
}

func dial(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var hello OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &hello))
	require.Equal(t, "session", hello.Type)
	require.Len(t, hello.SessionID, 32)
	return conn
}

func chatMessage() InboundMessage {
	return InboundMessage{Type: "chat", Request: chat.Request{
		Provider: "ollama",
		Conversation: conversation.Conversation{
			ID:       "c1",
			Model:    conversation.Model{ID: "llama3"},
			Messages: []conversation.Message{{Role: conversation.RoleUser, Content: conversation.TextContent("hi")}},
		},
	}}
}

func receiveUntilTerminal(t *testing.T, conn *websocket.Conn) []OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out []OutboundMessage
	for {
		var msg OutboundMessage
		require.NoError(t, websocket.JSON.Receive(conn, &msg))
		out = append(out, msg)
		if msg.Type == "done" || msg.Type == "error" {
			return out
		}
	}
}

func TestWebSocketStreamsDeltasThenDone(t *testing.T) {
	router := &fakeRouter{respond: func(context.Context) (stream.Response, error) {
		return stream.Streaming(sliceStream("Hel", "lo")), nil
	}}
	conn := dial(t, NewHandler(router, nil, logging.New("error")))

	require.NoError(t, websocket.JSON.Send(conn, chatMessage()))
	msgs := receiveUntilTerminal(t, conn)

	require.Len(t, msgs, 3)
	assert.Equal(t, OutboundMessage{Type: "delta", Text: "Hel"}, msgs[0])
	assert.Equal(t, OutboundMessage{Type: "delta", Text: "lo"}, msgs[1])
	assert.Equal(t, "done", msgs[2].Type)
	assert.Equal(t, "ollama", msgs[2].Provider)

	router.mu.Lock()
	defer router.mu.Unlock()
	require.Len(t, router.reqs, 1)
	assert.True(t, router.reqs[0].Stream)
	assert.Equal(t, "hi", router.reqs[0].Conversation.LastMessage().Content.Text())
}

func TestWebSocketReportsRouteError(t *testing.T) {
	router := &fakeRouter{respond: func(context.Context) (stream.Response, error) {
		return stream.Response{}, apperr.Credential("Please add your OpenAI API key on the LLM page", nil)
	}}
	conn := dial(t, NewHandler(router, nil, logging.New("error")))

	require.NoError(t, websocket.JSON.Send(conn, chatMessage()))
	msgs := receiveUntilTerminal(t, conn)

	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0].Type)
	assert.Equal(t, http.StatusUnauthorized, msgs[0].Code)
	assert.Contains(t, msgs[0].Error, "OpenAI API key")
}

func TestWebSocketBatchResponseIsOneDelta(t *testing.T) {
	router := &fakeRouter{respond: func(context.Context) (stream.Response, error) {
		return stream.Batch("4"), nil
	}}
	conn := dial(t, NewHandler(router, nil, logging.New("error")))

	require.NoError(t, websocket.JSON.Send(conn, chatMessage()))
	msgs := receiveUntilTerminal(t, conn)

	require.Len(t, msgs, 2)
	assert.Equal(t, "4", msgs[0].Text)
	assert.Equal(t, "done", msgs[1].Type)
}

func TestWebSocketPing(t *testing.T) {
	conn := dial(t, NewHandler(&fakeRouter{}, nil, logging.New("error")))

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "ping"}))
	var msg OutboundMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	assert.Equal(t, "pong", msg.Type)
}

// blockingStream emits one delta, then blocks until its context ends.
func blockingStream(ctx context.Context, closed chan<- struct{}) stream.Chunks {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan stream.Delta)
	go func() {
		defer close(ch)
		defer close(closed)
		select {
		case ch <- stream.Delta{Text: "first"}:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return stream.FromChannel(ch, cancel)
}

func TestWebSocketCloseCancelsUpstream(t *testing.T) {
	closed := make(chan struct{})
	router := &fakeRouter{respond: func(ctx context.Context) (stream.Response, error) {
		return stream.Streaming(blockingStream(ctx, closed)), nil
	}}
	conn := dial(t, NewHandler(router, nil, logging.New("error")))

	require.NoError(t, websocket.JSON.Send(conn, chatMessage()))
	var first OutboundMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, websocket.JSON.Receive(conn, &first))
	require.Equal(t, "first", first.Text)

	require.NoError(t, conn.Close())
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream stream was not stopped after the socket closed")
	}
}

func TestWebSocketCancelMessageStopsStream(t *testing.T) {
	closed := make(chan struct{})
	router := &fakeRouter{respond: func(ctx context.Context) (stream.Response, error) {
		return stream.Streaming(blockingStream(ctx, closed)), nil
	}}
	conn := dial(t, NewHandler(router, nil, logging.New("error")))

	require.NoError(t, websocket.JSON.Send(conn, chatMessage()))
	var first OutboundMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, websocket.JSON.Receive(conn, &first))

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "cancel"}))
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel message did not stop the upstream stream")
	}
}

func TestWebSocketCancelReachesQueuedChat(t *testing.T) {
	closed := make(chan struct{})
	router := &fakeRouter{respond: func(ctx context.Context) (stream.Response, error) {
		return stream.Streaming(blockingStream(ctx, closed)), nil
	}}
	conn := dial(t, NewHandler(router, nil, logging.New("error")))

	require.NoError(t, websocket.JSON.Send(conn, chatMessage()))
	var first OutboundMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, websocket.JSON.Receive(conn, &first))
	require.Equal(t, "first", first.Text)

	// a second chat while one is streaming must not stall the reader
	require.NoError(t, websocket.JSON.Send(conn, chatMessage()))
	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "cancel"}))
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel was not read while a second chat was pending")
	}

	var terminals []OutboundMessage
	for len(terminals) < 2 {
		var msg OutboundMessage
		require.NoError(t, websocket.JSON.Receive(conn, &msg))
		if msg.Type == "done" || msg.Type == "error" {
			terminals = append(terminals, msg)
		}
	}
	assert.Equal(t, "error", terminals[1].Type)
	assert.Equal(t, apperr.StatusClientClosedRequest, terminals[1].Code)

	router.mu.Lock()
	defer router.mu.Unlock()
	assert.Len(t, router.reqs, 1)
}

func TestWebSocketEmptyStreamIsNoContent(t *testing.T) {
	router := &fakeRouter{respond: func(context.Context) (stream.Response, error) {
		return stream.Streaming(sliceStream()), nil
	}}
	conn := dial(t, NewHandler(router, nil, logging.New("error")))

	require.NoError(t, websocket.JSON.Send(conn, chatMessage()))
	msgs := receiveUntilTerminal(t, conn)

	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0].Type)
	assert.Equal(t, "no content returned", msgs[0].Error)
	assert.Equal(t, http.StatusInternalServerError, msgs[0].Code)
}

func TestOriginAllowlist(t *testing.T) {
	h := NewHandler(&fakeRouter{}, []string{"https://app.example"}, logging.New("error"))
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	_, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", "https://evil.example")
	assert.Error(t, err)

	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", "https://app.example")
	require.NoError(t, err)
	_ = conn.Close()
}

func TestGenerateSessionID(t *testing.T) {
	s1 := generateSessionID()
	s2 := generateSessionID()
	assert.NotEqual(t, s1, s2)
	assert.Len(t, s1, 32)
}
