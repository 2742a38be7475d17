package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/VenkatGGG/leasehold/internal/idempotency"
	"github.com/VenkatGGG/leasehold/internal/logging"
	"github.com/VenkatGGG/leasehold/internal/notify"
	"github.com/VenkatGGG/leasehold/internal/resource"
	"github.com/VenkatGGG/leasehold/internal/session"
	"github.com/VenkatGGG/leasehold/pkg/httpx"
)

// Leases is the lease core as seen by the transport.
type Leases interface {
	Create(ctx context.Context, name string) (resource.Resource, error)
	Get(ctx context.Context, id string) (resource.Resource, error)
	Claim(ctx context.Context, id, claimantID string, minutes int, message string) (resource.Resource, error)
	Extend(ctx context.Context, id, claimantID string) (resource.Resource, error)
	Release(ctx context.Context, id, claimantID string) (resource.Resource, error)
}

type Options struct {
	APIKey             string
	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	Idempotency        idempotency.Store
	IdempotencyTTL     time.Duration
	IdempotencyLockTTL time.Duration
	Logger             *slog.Logger
	Now                func() time.Time
}

type Server struct {
	leases          Leases
	sessions        session.Service
	hub             *notify.Hub
	idempotency     idempotency.Store
	idempotencyTTL  time.Duration
	idempotencyLock time.Duration
	requiredAPIKey  string
	rateLimiter     *fixedWindowLimiter
	metrics         *operationMetrics
	watchers        atomic.Int64
	now             func() time.Time
	logger          *slog.Logger
}

func NewServer(leases Leases, sessions session.Service, hub *notify.Hub, opts Options) *Server {
	s := &Server{
		leases:          leases,
		sessions:        sessions,
		hub:             hub,
		idempotency:     opts.Idempotency,
		idempotencyTTL:  opts.IdempotencyTTL,
		idempotencyLock: opts.IdempotencyLockTTL,
		requiredAPIKey:  opts.APIKey,
		metrics:         newOperationMetrics(),
		now:             opts.Now,
		logger:          logging.Ensure(opts.Logger).With("component", "api"),
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if opts.RateLimitPerWindow > 0 {
		s.rateLimiter = newFixedWindowLimiter(opts.RateLimitPerWindow, opts.RateLimitWindow)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/v1/sessions/", s.handleSessionByID)
	mux.HandleFunc("/v1/resources", s.handleResources)
	mux.HandleFunc("/v1/resources/", s.handleResourceByID)

	return s.withAPISecurity(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
