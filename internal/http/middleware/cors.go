package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	corsAllowedHeaders = "Accept, Authorization, Cache-Control, Content-Type, Last-Event-ID, X-Request-ID"
	corsAllowedMethods = "GET, POST, PUT, OPTIONS"
	// Retry-After comes from the rate limiter; browsers hide it unless exposed.
	corsExposedHeaders = "Retry-After, X-Request-ID"
)

// OriginPolicy is the browser origin allowlist shared by CORS and the
// WebSocket handshake.
type OriginPolicy struct {
	any     bool
	origins map[string]struct{}
}

// NewOriginPolicy parses an allowlist. "*" admits every origin; blank
// entries are ignored.
func NewOriginPolicy(allowed []string) OriginPolicy {
	p := OriginPolicy{origins: map[string]struct{}{}}
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			p.any = true
		default:
			p.origins[origin] = struct{}{}
		}
	}
	return p
}

// Empty reports a policy with no entries at all.
func (p OriginPolicy) Empty() bool { return !p.any && len(p.origins) == 0 }

// Allows reports whether origin may call the API.
func (p OriginPolicy) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.origins[strings.TrimRight(origin, "/")]
	return ok
}

// CORS lets browser chat clients on allowlisted origins call the API and read
// the streamed body. An empty list disables CORS; a preflight from an origin
// outside the list is refused.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := NewOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		if policy.Empty() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed := policy.Allows(origin)
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
				w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
				w.Header().Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				if !allowed {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusForbidden)
					_ = json.NewEncoder(w).Encode(map[string]any{"error": "origin not allowed", "code": http.StatusForbidden})
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
