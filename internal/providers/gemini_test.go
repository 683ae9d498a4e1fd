package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/stream"
)

func geminiConfig(key string) Config {
	return Config{Kind: KindGemini, Gemini: &GeminiConfig{APIKey: key}}
}

func TestGeminiRequestShape(t *testing.T) {
	backend := &fakeGemini{chunks: []string{"ok"}}
	a := NewGemini(backend, noSigningKey(), GeminiOptions{})

	_, err := a.Send(context.Background(), testConversation(), geminiConfig("AIzaTest"), true)
	require.NoError(t, err)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, "AIzaTest", backend.keys[0])
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, "You are a tutor.", req.System)
	require.Len(t, req.History, 2)
	assert.Equal(t, "user", req.History[0].Role)
	assert.Equal(t, "model", req.History[1].Role)
	assert.Equal(t, genai.Text("hi"), req.History[0].Parts[0])
	assert.Contains(t, req.Prompt, "Now please respond to my question: what is a monad?")
	assert.Equal(t, int32(DefaultMaxOutputTokens), req.MaxOutputTokens)
}

func TestGeminiBatchCollectsStream(t *testing.T) {
	backend := &fakeGemini{chunks: []string{"Mon", "ads"}}
	a := NewGemini(backend, noSigningKey(), GeminiOptions{})

	batch, err := a.Send(context.Background(), testConversation(), geminiConfig("AIzaTest"), false)
	require.NoError(t, err)
	assert.Equal(t, stream.ModeBatch, batch.Mode)
	assert.Equal(t, "Monads", batch.Content)
	assert.True(t, backend.streams[0].closed)

	streamed, err := a.Send(context.Background(), testConversation(), geminiConfig("AIzaTest"), true)
	require.NoError(t, err)
	text, err := streamed.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, batch.Content, text)
}

func TestGeminiEmptyOutputIsNoContent(t *testing.T) {
	a := NewGemini(&fakeGemini{}, noSigningKey(), GeminiOptions{})
	_, err := a.Send(context.Background(), testConversation(), geminiConfig("AIzaTest"), false)
	require.Error(t, err)
	assert.Equal(t, "no content returned", apperr.PublicMessage(err))
}

func TestGeminiMissingKey(t *testing.T) {
	backend := &fakeGemini{}
	a := NewGemini(backend, noSigningKey(), GeminiOptions{})
	_, err := a.Send(context.Background(), testConversation(), geminiConfig(""), true)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindCredential, appErr.Kind)
	assert.Empty(t, backend.requests)
}

func TestGeminiDeploymentKeyPolicy(t *testing.T) {
	t.Run("used when allowed", func(t *testing.T) {
		backend := &fakeGemini{chunks: []string{"ok"}}
		a := NewGemini(backend, noSigningKey(), GeminiOptions{DefaultAPIKey: "AIzaDeploy", AllowDefaultKey: true})
		resp, err := a.Send(context.Background(), testConversation(), geminiConfig(""), false)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, []string{"AIzaDeploy"}, backend.keys)
	})

	t.Run("ignored unless allowed", func(t *testing.T) {
		backend := &fakeGemini{chunks: []string{"ok"}}
		a := NewGemini(backend, noSigningKey(), GeminiOptions{DefaultAPIKey: "AIzaDeploy"})
		_, err := a.Send(context.Background(), testConversation(), geminiConfig(""), false)
		appErr, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.KindCredential, appErr.Kind)
		assert.Empty(t, backend.keys)
	})

	t.Run("submitting the deployment key is rejected", func(t *testing.T) {
		backend := &fakeGemini{chunks: []string{"ok"}}
		a := NewGemini(backend, noSigningKey(), GeminiOptions{DefaultAPIKey: "AIzaDeploy", AllowDefaultKey: true})
		_, err := a.Send(context.Background(), testConversation(), geminiConfig("AIzaDeploy"), false)
		appErr, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.KindCredential, appErr.Kind)
		assert.Empty(t, backend.keys)
	})
}

func TestGenAIBackendReusesClientPerKey(t *testing.T) {
	b := NewGenAIBackend().(*genaiBackend)
	ctx := context.Background()

	first, err := b.acquire(ctx, "AIzaFirst")
	require.NoError(t, err)
	again, err := b.acquire(ctx, "AIzaFirst")
	require.NoError(t, err)
	other, err := b.acquire(ctx, "AIzaOther")
	require.NoError(t, err)

	assert.Same(t, first, again)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, first.refs)

	b.release(first)
	b.release(again)
	b.release(other)
	assert.Equal(t, 0, first.refs)
	assert.Len(t, b.clients, 2)
}

func TestGenAIBackendEvictsOldestIdleClient(t *testing.T) {
	b := NewGenAIBackend().(*genaiBackend)
	ctx := context.Background()

	held, err := b.acquire(ctx, "AIzaKey0")
	require.NoError(t, err)
	for i := 1; i <= maxGeminiClients; i++ {
		c, err := b.acquire(ctx, fmt.Sprintf("AIzaKey%d", i))
		require.NoError(t, err)
		b.release(c)
	}

	assert.Len(t, b.clients, maxGeminiClients)
	assert.True(t, held.evicted)
	assert.Equal(t, 1, held.refs)
	b.release(held)
	assert.Equal(t, 0, held.refs)
}

func TestGeminiAPIErrorMapping(t *testing.T) {
	backend := &fakeGemini{err: &googleapi.Error{Code: http.StatusForbidden, Message: "API key not valid. Please pass a valid API key."}}
	a := NewGemini(backend, noSigningKey(), GeminiOptions{})
	_, err := a.Send(context.Background(), testConversation(), geminiConfig("AIzaTest"), true)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperr.HTTPStatus(err))
	assert.Equal(t, "API key not valid. Please pass a valid API key.", apperr.PublicMessage(err))
}

func TestGeminiMidStreamError(t *testing.T) {
	backend := &fakeGemini{chunks: []string{"part"}}
	a := NewGemini(backend, noSigningKey(), GeminiOptions{})
	resp, err := a.Send(context.Background(), testConversation(), geminiConfig("AIzaTest"), true)
	require.NoError(t, err)
	backend.streams[0].err = errors.New("stream broke")

	text, err := resp.Collect(context.Background())
	assert.Equal(t, "part", text)
	require.Error(t, err)
	assert.True(t, backend.streams[0].closed)
}

func TestGeminiListModels(t *testing.T) {
	backend := &fakeGemini{models: []conversation.Model{{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", TokenLimit: 2000000, Enabled: true}}}
	a := NewGemini(backend, noSigningKey(), GeminiOptions{})
	models, err := a.ListModels(context.Background(), geminiConfig("AIzaTest"))
	require.NoError(t, err)
	assert.Equal(t, backend.models, models)
}

func TestSupportsGenerate(t *testing.T) {
	assert.True(t, supportsGenerate([]string{"countTokens", "generateContent"}))
	assert.False(t, supportsGenerate([]string{"embedContent"}))
}
