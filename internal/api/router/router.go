package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/llm-router/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/llm-router/internal/http/middleware"
	"github.com/wolfman30/llm-router/internal/project"
	"github.com/wolfman30/llm-router/internal/webchat"
	"github.com/wolfman30/llm-router/pkg/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Chat               *handlers.ChatHandler
	Health             http.Handler
	WebChat            *webchat.Handler
	ProjectSettings    *project.Handler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// RateLimiter guards the chat endpoints. Nil disables limiting.
	RateLimiter *httpmiddleware.RateLimiter
	// ServiceName labels server spans; empty disables HTTP tracing.
	ServiceName string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// streamed bodies are text/plain or text/event-stream and stay uncompressed
	r.Use(middleware.Compress(5, "application/json"))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.ServeHTTP)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Chat endpoints share one per-IP rate limit.
	r.Group(func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(cfg.RateLimiter.Middleware)
		}
		if cfg.Chat != nil {
			api.Post("/chat", cfg.Chat.Chat)
			api.Get("/chat/{provider}/models", cfg.Chat.ListModels)
			api.Post("/buildPrompt", cfg.Chat.BuildPrompt)
		}
		if cfg.WebChat != nil {
			api.Get("/chat/ws", cfg.WebChat.HandleWebSocket)
		}
	})

	// Admin routes (protected by JWT)
	if cfg.AdminAuthSecret != "" && cfg.ProjectSettings != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Mount("/projects", cfg.ProjectSettings.Routes())
		})
	}

	if cfg.ServiceName == "" {
		return r
	}
	return otelhttp.NewHandler(r, cfg.ServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
