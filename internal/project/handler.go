package project

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/llm-router/internal/providers"
	"github.com/wolfman30/llm-router/internal/secrets"
	"github.com/wolfman30/llm-router/pkg/logging"
)

// Handler provides the admin endpoints for project settings.
type Handler struct {
	store    *Store
	resolver *secrets.Resolver
	logger   *logging.Logger
}

func NewHandler(store *Store, resolver *secrets.Resolver, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, resolver: resolver, logger: logger}
}

// Routes mounts under /admin/projects.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{projectName}/settings", h.GetSettings)
	r.Put("/{projectName}/settings", h.UpdateSettings)
	return r
}

// GetSettings handles GET /admin/projects/{projectName}/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "projectName"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "projectName required")
		return
	}

	settings, err := h.store.Get(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to get project settings", "project", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, settings.Masked())
}

// UpdateSettingsRequest is a partial update; nil fields are left alone.
type UpdateSettingsRequest struct {
	SystemPrompt     *string              `json:"system_prompt,omitempty"`
	SystemPromptOnly *bool                `json:"system_prompt_only,omitempty"`
	DocumentsOnly    *bool                `json:"documents_only,omitempty"`
	GuidedLearning   *bool                `json:"guided_learning,omitempty"`
	DefaultProvider  *string              `json:"default_provider,omitempty"`
	DefaultModel     *string              `json:"default_model,omitempty"`
	Providers        *ProviderCredentials `json:"providers,omitempty"`
}

// UpdateSettings handles PUT /admin/projects/{projectName}/settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "projectName"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "projectName required")
		return
	}

	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DefaultProvider != nil && *req.DefaultProvider != "" {
		if _, ok := providers.ParseKind(*req.DefaultProvider); !ok {
			writeError(w, http.StatusBadRequest, "unknown default_provider")
			return
		}
	}

	settings, err := h.store.Get(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to get project settings", "project", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if req.SystemPrompt != nil {
		settings.SystemPrompt = *req.SystemPrompt
	}
	if req.SystemPromptOnly != nil {
		settings.SystemPromptOnly = *req.SystemPromptOnly
	}
	if req.DocumentsOnly != nil {
		settings.DocumentsOnly = *req.DocumentsOnly
	}
	if req.GuidedLearning != nil {
		settings.GuidedLearning = *req.GuidedLearning
	}
	if req.DefaultProvider != nil {
		settings.DefaultProvider = strings.ToLower(strings.TrimSpace(*req.DefaultProvider))
	}
	if req.DefaultModel != nil {
		settings.DefaultModel = *req.DefaultModel
	}
	if req.Providers != nil {
		if err := h.mergeCredentials(&settings.Providers, *req.Providers); err != nil {
			h.logger.Error("failed to encrypt provider credentials", "project", name, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store credentials")
			return
		}
	}
	settings.ProjectName = name
	settings.UpdatedAt = time.Now().UTC()

	if err := h.store.Set(r.Context(), settings); err != nil {
		h.logger.Error("failed to save project settings", "project", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	h.logger.Info("project settings updated", "project", name, "default_provider", settings.DefaultProvider)
	writeJSON(w, http.StatusOK, settings.Masked())
}

// mergeCredentials replaces each backend that appears in in. Secret fields
// are encrypted; a masked value keeps what was stored.
func (h *Handler) mergeCredentials(dst *ProviderCredentials, in ProviderCredentials) error {
	if in.OpenAI != nil {
		var prev providers.OpenAIConfig
		if dst.OpenAI != nil {
			prev = *dst.OpenAI
		}
		key, err := h.seal(in.OpenAI.APIKey, prev.APIKey)
		if err != nil {
			return err
		}
		dst.OpenAI = &providers.OpenAIConfig{APIKey: key, BaseURL: strings.TrimSpace(in.OpenAI.BaseURL)}
	}
	if in.Bedrock != nil {
		var prev providers.BedrockConfig
		if dst.Bedrock != nil {
			prev = *dst.Bedrock
		}
		access, err := h.seal(in.Bedrock.AccessKeyID, prev.AccessKeyID)
		if err != nil {
			return err
		}
		secret, err := h.seal(in.Bedrock.SecretAccessKey, prev.SecretAccessKey)
		if err != nil {
			return err
		}
		dst.Bedrock = &providers.BedrockConfig{AccessKeyID: access, SecretAccessKey: secret, Region: strings.TrimSpace(in.Bedrock.Region)}
	}
	if in.Gemini != nil {
		var prev providers.GeminiConfig
		if dst.Gemini != nil {
			prev = *dst.Gemini
		}
		key, err := h.seal(in.Gemini.APIKey, prev.APIKey)
		if err != nil {
			return err
		}
		dst.Gemini = &providers.GeminiConfig{APIKey: key}
	}
	if in.Ollama != nil {
		dst.Ollama = &providers.OllamaConfig{BaseURL: strings.TrimSpace(in.Ollama.BaseURL)}
	}
	if in.VLLM != nil {
		dst.VLLM = &providers.VLLMConfig{BaseURL: strings.TrimSpace(in.VLLM.BaseURL)}
	}
	return nil
}

func (h *Handler) seal(value, previous string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == MaskedSecret:
		return previous, nil
	case value == "" || secrets.IsEncrypted(value):
		return value, nil
	default:
		return h.resolver.Encrypt(value)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": status})
}
