// Package http exposes the pipeline over a small JSON API. Handlers stay
// thin; all domain behavior lives in the service engines.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"masarif/internal/cache"
	"masarif/internal/core"
	"masarif/internal/middleware/ratelimit"
	"masarif/internal/middleware/security"
	"masarif/internal/middleware/trace"
	"masarif/internal/services"
)

// SyncPublisher queues a sync request instead of running it inline.
type SyncPublisher interface {
	PublishAccountSync(ctx context.Context, accountID, requestID string) error
}

// Ingestor is the slice of the ingestion engine the API needs.
type Ingestor interface {
	Sync(ctx context.Context, account core.Account) (*services.SyncResult, error)
}

// Aggregator computes windowed aggregates for the dashboard.
type Aggregator interface {
	Aggregate(ctx context.Context, accountIDs []string, w core.Window) (*services.AggregateResult, error)
}

// DashboardWindowDays is the trailing window the dashboard reports on.
const DashboardWindowDays = 30

type Server struct {
	http.Server

	store      services.RecordStore
	ingestor   Ingestor
	aggregator Aggregator
	publisher  SyncPublisher // nil runs syncs inline

	tracer      *trace.Middleware
	rateLimiter *ratelimit.Limiter
	headers     *security.HeadersMiddleware
	detector    *security.Detector

	// Dashboard responses are cached briefly and invalidated on writes.
	dashboardCache *cache.LRUCache[dashboardResponse]
	cacheManager   *cache.Manager

	shutdownOnce sync.Once
}

func NewServer(addr string, store services.RecordStore, ingestor Ingestor, aggregator Aggregator, publisher SyncPublisher) *Server {
	mux := http.NewServeMux()
	detector := security.NewDetector()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:          store,
		ingestor:       ingestor,
		aggregator:     aggregator,
		publisher:      publisher,
		tracer:         trace.NewMiddleware(detector.ExtractClientIP),
		rateLimiter:    ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		headers:        security.NewHeadersMiddleware(security.DefaultHeadersConfig()),
		detector:       detector,
		dashboardCache: cache.NewLRUCache[dashboardResponse](100, 5*time.Minute),
		cacheManager:   cache.NewManager(),
	}

	s.cacheManager.Register(s.dashboardCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("POST /api/accounts/{id}/sync", s.wrap(s.handleSyncAccount, true))
	mux.HandleFunc("GET /api/accounts/{id}/transactions", s.wrap(s.handleListTransactions, false))
	mux.HandleFunc("POST /api/transactions/categorize", s.wrap(s.handleCategorize, true))
	mux.HandleFunc("GET /api/insights/dashboard", s.wrap(s.handleDashboard, false))

	return s
}

// wrap applies tracing and security headers to every route; write routes
// additionally get rate limiting and suspicious-request screening.
func (s *Server) wrap(next http.HandlerFunc, write bool) http.HandlerFunc {
	var handler http.Handler = next
	if write {
		inner := handler
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.detector.DetectSuspiciousRequest(r) {
				slog.WarnContext(r.Context(), "Rejected suspicious request",
					"path", r.URL.Path,
					"client_ip", s.detector.ExtractClientIP(r))
				writeError(w, http.StatusForbidden, "request rejected")
				return
			}
			if !s.rateLimiter.Allow(s.detector.ExtractClientIP(r)) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			inner.ServeHTTP(w, r)
		})
	}

	traced := s.tracer.Middleware(s.headers.Middleware(handler))
	return traced.ServeHTTP
}

// Shutdown stops the server and the background cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
