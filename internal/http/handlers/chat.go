package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/chat"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/stream"
	"github.com/wolfman30/llm-router/pkg/logging"
)

// ChatService is the part of *chat.Router the HTTP surface needs.
type ChatService interface {
	Route(ctx context.Context, req chat.Request) (chat.Result, error)
	BuildPrompt(ctx context.Context, conv conversation.Conversation, projectName string) (conversation.Conversation, error)
	ListModels(ctx context.Context, providerName, projectName string) ([]conversation.Model, error)
}

// ChatHandler serves the chat, model listing and prompt preview endpoints.
type ChatHandler struct {
	service ChatService
	logger  *logging.Logger
}

func NewChatHandler(service ChatService, logger *logging.Logger) *ChatHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{service: service, logger: logger}
}

// Chat handles POST /chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	result, err := h.service.Route(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := result.Response
	if resp.Mode == stream.ModeBatch {
		if err := stream.WriteCompletion(w, resp.Content); err != nil {
			h.logger.Warn("failed to write completion", "provider", result.Provider, "error", err)
		}
		return
	}

	// nothing is written until the first delta arrives, so a backend that
	// fails up front still gets its real status
	chunks, err := stream.Peek(ctx, resp.Chunks)
	if errors.Is(err, stream.ErrEmpty) {
		err = apperr.NoContent(string(result.Provider))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	format := stream.NegotiateFormat(r.Header.Get("Accept"))
	stats, err := stream.WriteStream(ctx, w, chunks, format, errorBody)
	if err != nil {
		h.logger.Warn("stream ended early",
			"provider", result.Provider,
			"chunks", stats.Chunks,
			"error", apperr.Sanitize(err.Error()),
		)
		return
	}
	h.logger.Debug("stream finished",
		"provider", result.Provider,
		"chunks", stats.Chunks,
		"bytes", stats.Bytes,
		"first_chunk_ms", stats.FirstChunk.Milliseconds(),
	)
}

// ModelsResponse is the body of GET /chat/{provider}/models.
type ModelsResponse struct {
	Provider string               `json:"provider"`
	Models   []conversation.Model `json:"models"`
}

// ListModels handles GET /chat/{provider}/models?projectName=.
func (h *ChatHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	models, err := h.service.ListModels(r.Context(), provider, r.URL.Query().Get("projectName"))
	if err != nil {
		writeError(w, err)
		return
	}
	if models == nil {
		models = []conversation.Model{}
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Provider: provider, Models: models})
}

// BuildPromptRequest is the body of POST /buildPrompt. CourseMetadata is
// accepted for client compatibility and not interpreted.
type BuildPromptRequest struct {
	Conversation   conversation.Conversation `json:"conversation"`
	ProjectName    string                    `json:"projectName,omitempty"`
	CourseMetadata map[string]any            `json:"courseMetadata,omitempty"`
}

// BuildPrompt handles POST /buildPrompt and returns the conversation with the
// engineered prompt attached to its last message.
func (h *ChatHandler) BuildPrompt(w http.ResponseWriter, r *http.Request) {
	var req BuildPromptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	conv, err := h.service.BuildPrompt(r.Context(), req.Conversation, req.ProjectName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
