package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MeGallin/ai-chat-bot-api/internal/config"
)

// rateLimitBody is the 429 response body, shared by every limited request.
const rateLimitBody = `{"error":"Too many requests, please try again later"}`

// window tracks one client's request count inside the current fixed window.
type window struct {
	start time.Time
	count int
}

// limiter is a fixed-window per-IP request limiter. Counts reset when a
// client's window expires; stale entries are pruned opportunistically so the
// map does not grow without bound.
type limiter struct {
	mu      sync.Mutex
	clients map[string]*window

	windowLen time.Duration
	max       int
	now       func() time.Time
}

func newLimiter(cfg config.RateLimitConfig) *limiter {
	return &limiter{
		clients:   make(map[string]*window),
		windowLen: cfg.Window,
		max:       cfg.MaxRequests,
		now:       time.Now,
	}
}

// allow records one request from ip and reports whether it is within the
// limit.
func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[ip]
	if !ok || now.Sub(w.start) >= l.windowLen {
		l.prune(now)
		l.clients[ip] = &window{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.max
}

// prune drops expired windows. Called with the lock held, only on the window
// rollover path so the common case stays a single map lookup.
func (l *limiter) prune(now time.Time) {
	for ip, w := range l.clients {
		if now.Sub(w.start) >= l.windowLen {
			delete(l.clients, ip)
		}
	}
}

// rateLimit returns middleware enforcing a per-IP fixed-window request limit
// on the HTTP surface. WebSocket upgrade requests are exempt; long-lived
// connections are bounded by the accept origin check and the registry, not
// the request counter. Limited requests get a 429 with a JSON error body.
func rateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	l := newLimiter(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			if !l.allow(clientIP(r)) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(rateLimitBody))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isUpgrade reports whether r is a WebSocket handshake.
func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// clientIP extracts the client address used as the rate-limit key.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cors returns middleware implementing the cross-origin contract: requests
// from an allowed origin are echoed back with credentials enabled, and
// preflight requests are answered without hitting the route table. Requests
// without an Origin header (curl, same-origin) pass through untouched.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[strings.TrimRight(origin, "/")] {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")

				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
