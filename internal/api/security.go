package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/VenkatGGG/leasehold/pkg/httpx"
)

func (s *Server) withAPISecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutatingRoute(r) {
			next.ServeHTTP(w, r)
			return
		}

		if strings.TrimSpace(s.requiredAPIKey) != "" && !requestHasAPIKey(r, s.requiredAPIKey) {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
			return
		}

		if s.rateLimiter != nil {
			if !s.rateLimiter.Allow(requestClientIdentity(r), s.now()) {
				s.metrics.observeRateLimited()
				httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "request rate limit exceeded")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// isMutatingRoute matches session issue, rename and sign-out, resource
// create and the claim transitions.
func isMutatingRoute(r *http.Request) bool {
	path := strings.TrimSuffix(strings.TrimSpace(r.URL.Path), "/")
	if r.Method == http.MethodPatch || r.Method == http.MethodDelete {
		rest, ok := strings.CutPrefix(path, "/v1/sessions/")
		return ok && rest != "" && !strings.Contains(rest, "/")
	}
	if r.Method != http.MethodPost {
		return false
	}
	switch path {
	case "/v1/sessions", "/v1/resources":
		return true
	}
	rest, ok := strings.CutPrefix(path, "/v1/resources/")
	if !ok {
		return false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	switch parts[1] {
	case "claim", "extend", "release":
		return true
	default:
		return false
	}
}

func requestHasAPIKey(r *http.Request, expected string) bool {
	want := strings.TrimSpace(expected)
	if want == "" {
		return true
	}
	candidates := []string{
		strings.TrimSpace(r.Header.Get("X-API-Key")),
		bearerToken(r),
	}
	for _, candidate := range candidates {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(want)) == 1 {
			return true
		}
	}
	return false
}

func requestClientIdentity(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	raw := strings.TrimSpace(r.RemoteAddr)
	if raw != "" {
		return raw
	}
	return "unknown"
}

const maxTrackedClients = 1000

// fixedWindowLimiter counts requests per client in wall-clock aligned windows.
type fixedWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]rateBucket
}

type rateBucket struct {
	windowStart time.Time
	count       int
}

func newFixedWindowLimiter(limit int, window time.Duration) *fixedWindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]rateBucket),
	}
}

func (l *fixedWindowLimiter) Allow(client string, now time.Time) bool {
	key := strings.TrimSpace(client)
	if key == "" {
		key = "unknown"
	}
	windowStart := now.UTC().Truncate(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.clients[key]
	if bucket.windowStart.IsZero() || !bucket.windowStart.Equal(windowStart) {
		bucket = rateBucket{
			windowStart: windowStart,
			count:       0,
		}
	}
	if bucket.count >= l.limit {
		return false
	}
	bucket.count++
	l.clients[key] = bucket
	l.pruneLocked(windowStart)
	return true
}

func (l *fixedWindowLimiter) pruneLocked(activeWindowStart time.Time) {
	if len(l.clients) < maxTrackedClients {
		return
	}
	cutoff := activeWindowStart.Add(-2 * l.window)
	for key, bucket := range l.clients {
		if bucket.windowStart.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}
