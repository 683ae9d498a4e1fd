package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/llm-router/pkg/logging"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler answers liveness probes. Providers are listed but never
// called; a missing settings store degrades the status instead of failing.
type HealthHandler struct {
	providers []string
	store     Pinger
	logger    *logging.Logger
}

func NewHealthHandler(providers []string, store Pinger, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{providers: providers, store: store, logger: logger}
}

type healthResponse struct {
	Status    string   `json:"status"`
	Providers []string `json:"providers"`
	Settings  string   `json:"settings,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Providers: h.providers}
	if resp.Providers == nil {
		resp.Providers = []string{}
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("settings store unreachable", "error", err)
			resp.Status = "degraded"
			resp.Settings = "unreachable"
		} else {
			resp.Settings = "ok"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
