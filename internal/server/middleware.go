package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/memodrill/memodrill/internal/config"
)

type contextKey string

const userIDKey contextKey = "user_id"

// requireUser extracts the caller identity set by the host platform. API
// routes without it are rejected.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// requestLogger logs method, path, and duration for every request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("server: %s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// clientLimiter rate-limits per client (user header when present, remote
// address otherwise). Idle client entries are evicted after a TTL so the map
// does not grow without bound.
type clientLimiter struct {
	cfg config.RateLimitConfig

	mu      sync.Mutex
	clients map[string]*clientEntry
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(cfg config.RateLimitConfig) *clientLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = 10 * time.Minute
	}
	return &clientLimiter{
		cfg:     cfg,
		clients: make(map[string]*clientEntry),
	}
}

func (cl *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (cl *clientLimiter) allow(key string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	entry, ok := cl.clients[key]
	if !ok {
		entry = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(cl.cfg.RequestsPerSecond), cl.cfg.Burst),
		}
		cl.clients[key] = entry
	}
	entry.lastSeen = now

	// Piggyback eviction on request handling instead of a background sweep.
	for k, e := range cl.clients {
		if now.Sub(e.lastSeen) > cl.cfg.ClientTTL {
			delete(cl.clients, k)
		}
	}

	return entry.limiter.Allow()
}

func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}
