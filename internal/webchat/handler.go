// Package webchat streams routed chat completions over a WebSocket.
package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/chat"
	httpmiddleware "github.com/wolfman30/llm-router/internal/http/middleware"
	"github.com/wolfman30/llm-router/internal/stream"
	"github.com/wolfman30/llm-router/pkg/logging"
	"golang.org/x/net/websocket"
)

// Router dispatches one chat request. *chat.Router satisfies it.
type Router interface {
	Route(ctx context.Context, req chat.Request) (chat.Result, error)
}

// Handler manages WebSocket chat connections.
type Handler struct {
	router  Router
	origins httpmiddleware.OriginPolicy
	logger  *logging.Logger
}

// InboundMessage is what the client sends. A "chat" message (or one with no
// type) carries the same fields as POST /chat; it is always streamed.
type InboundMessage struct {
	Type string `json:"type"` // "chat", "cancel", "ping"
	chat.Request
}

// OutboundMessage is what the server sends.
type OutboundMessage struct {
	Type      string `json:"type"` // "session", "delta", "done", "error", "pong"
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      int    `json:"code,omitempty"`
	Provider  string `json:"provider,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// NewHandler creates a web chat handler. allowedOrigins is the CORS
// allowlist; an empty list accepts any origin.
func NewHandler(router Router, allowedOrigins []string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{router: router, origins: httpmiddleware.NewOriginPolicy(allowedOrigins), logger: logger}
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and serves chat requests until the
// client disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	srv := websocket.Server{
		Handshake: h.checkOrigin,
		Handler: func(conn *websocket.Conn) {
			h.serveWS(conn, r)
		},
	}
	srv.ServeHTTP(w, r)
}

func (h *Handler) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	if h.origins.Empty() {
		return nil
	}
	origin := r.Header.Get("Origin")
	if !h.origins.Allows(origin) {
		return fmt.Errorf("webchat: origin %q not allowed", origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return err
	}
	cfg.Origin = u
	return nil
}

// maxQueued bounds chat requests waiting behind the one in flight.
const maxQueued = 4

// job is one accepted chat request. Its context exists from the moment the
// reader accepts it, so a cancel that arrives before dispatch still applies.
type job struct {
	id     uint64
	req    chat.Request
	ctx    context.Context
	cancel context.CancelFunc
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := newSession(conn, generateSessionID())
	_ = sess.send(OutboundMessage{Type: "session", SessionID: sess.id})
	h.logger.Info("webchat: connection opened", "session_id", sess.id)

	jobs := make(chan *job, maxQueued)
	go func() {
		// a closed socket cancels whatever is streaming
		defer cancel()
		defer close(jobs)
		for {
			var msg InboundMessage
			if err := websocket.JSON.Receive(conn, &msg); err != nil {
				h.logger.Debug("webchat: connection closed", "session_id", sess.id, "error", err)
				return
			}
			switch msg.Type {
			case "ping":
				_ = sess.send(OutboundMessage{Type: "pong"})
			case "cancel":
				sess.cancelAll()
			case "chat", "":
				j := sess.track(ctx, msg.Request)
				select {
				case jobs <- j:
				default:
					sess.done(j)
					_ = sess.send(OutboundMessage{Type: "error", Error: "too many requests in flight", Code: http.StatusTooManyRequests})
				}
			default:
				_ = sess.send(OutboundMessage{Type: "error", Error: fmt.Sprintf("unknown message type %q", msg.Type), Code: http.StatusBadRequest})
			}
		}
	}()

	for j := range jobs {
		h.streamChat(ctx, sess, j)
	}
}

func (h *Handler) streamChat(parent context.Context, sess *session, j *job) {
	defer sess.done(j)
	ctx := j.ctx
	if err := ctx.Err(); err != nil {
		if parent.Err() == nil {
			h.sendError(sess, err)
		}
		return
	}

	req := j.req
	req.Stream = true
	result, err := h.router.Route(ctx, req)
	if err != nil {
		h.sendError(sess, err)
		return
	}
	chunks := result.Response.Chunks
	if result.Response.Mode == stream.ModeBatch {
		chunks = single(result.Response.Content)
	}
	defer chunks.Close()

	sent := 0
	for {
		text, err := chunks.Next(ctx)
		if errors.Is(err, io.EOF) && sent == 0 {
			err = apperr.NoContent(string(result.Provider))
		}
		if errors.Is(err, io.EOF) {
			_ = sess.send(OutboundMessage{Type: "done", Provider: string(result.Provider)})
			return
		}
		if err != nil {
			if parent.Err() == nil {
				h.sendError(sess, err)
			}
			return
		}
		if err := sess.send(OutboundMessage{Type: "delta", Text: text}); err != nil {
			return
		}
		sent++
	}
}

func (h *Handler) sendError(sess *session, err error) {
	h.logger.Warn("webchat: request failed", "session_id", sess.id, "error", apperr.Sanitize(err.Error()))
	_ = sess.send(OutboundMessage{Type: "error", Error: apperr.PublicMessage(err), Code: apperr.HTTPStatus(err)})
}

// session serializes writes to one connection and tracks accepted requests.
type session struct {
	id   string
	conn *websocket.Conn

	sendMu sync.Mutex
	mu     sync.Mutex
	nextID uint64
	active map[uint64]context.CancelFunc
}

func newSession(conn *websocket.Conn, id string) *session {
	return &session{id: id, conn: conn, active: map[uint64]context.CancelFunc{}}
}

func (s *session) send(msg OutboundMessage) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return websocket.JSON.Send(s.conn, msg)
}

func (s *session) track(parent context.Context, req chat.Request) *job {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	j := &job{id: s.nextID, req: req, ctx: ctx, cancel: cancel}
	s.active[j.id] = cancel
	return j
}

func (s *session) done(j *job) {
	j.cancel()
	s.mu.Lock()
	delete(s.active, j.id)
	s.mu.Unlock()
}

// cancelAll stops the request in flight and every queued one.
func (s *session) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.active {
		cancel()
	}
}

func single(content string) stream.Chunks {
	sent := false
	return stream.FromFunc(func() (string, error) {
		if sent {
			return "", io.EOF
		}
		sent = true
		return content, nil
	}, func() error { return nil })
}
