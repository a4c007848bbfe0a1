package server

import (
	"net/http"
	"strings"
)

// originPolicy decides which browser origins may call the API or open a
// session websocket.
type originPolicy struct {
	origins  []string
	wildcard bool
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{}
	for _, o := range origins {
		if o == "*" {
			p.wildcard = true
			continue
		}
		p.origins = append(p.origins, o)
	}
	return p
}

// allow returns the value for Access-Control-Allow-Origin, or "" when the
// origin is refused.
func (p originPolicy) allow(origin string) string {
	for _, o := range p.origins {
		if strings.EqualFold(o, origin) {
			return o
		}
	}
	if p.wildcard {
		return "*"
	}
	return ""
}

// checkUpgrade is the websocket upgrader's origin check. Non-browser clients
// send no Origin and are let through; the actor token still gates them.
func (p originPolicy) checkUpgrade(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || p.allow(origin) != ""
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed := s.origins.allow(origin)
		if allowed != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			if allowed != "*" {
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withSecurityHeaders sets the hardening headers on every response. The CSP
// is limited to JSON and websocket paths so the table client can still load
// its scripts.
func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if isAPIEndpoint(r.URL.Path) {
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}
		next.ServeHTTP(w, r)
	})
}

// isAPIEndpoint reports whether path returns JSON or upgrades to a websocket.
func isAPIEndpoint(path string) bool {
	switch {
	case path == "/healthz", path == "/sessions", path == "/maps":
		return true
	case strings.HasPrefix(path, "/sessions/"),
		strings.HasPrefix(path, "/maps/"),
		strings.HasPrefix(path, "/ws/"):
		return true
	}
	return false
}
