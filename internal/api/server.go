// Package api exposes the admin HTTP surface over the registry and the
// schedule manager.
package api

import (
	"context"
	"net/http"
	"time"

	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/engine"
	"camunda-discovery/internal/registry"
	"camunda-discovery/internal/schedule"
	catalog "camunda-discovery/pkg/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check is one readiness probe, e.g. a Zeebe topology call or a Redis ping.
type Check func(ctx context.Context) error

type Server struct {
	registry  *registry.Registry
	schedules *schedule.Manager
	checks    map[string]Check
	catalog   func() *catalog.Catalog
	history   HistoryReader
	logger    logger.Logger
	timeout   time.Duration
}

type Option func(*Server)

// WithCheck adds a named readiness probe.
func WithCheck(name string, check Check) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithCatalog serves the catalog built by fn on GET /catalog.
func WithCatalog(fn func() *catalog.Catalog) Option {
	return func(s *Server) { s.catalog = fn }
}

// HistoryReader serves recorded fires, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, scheduleID string, limit int) ([]engine.FireEvent, error)
}

// WithHistory enables GET /schedules/{id}/history.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithRequestTimeout bounds every request handled by the router.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

func NewServer(reg *registry.Registry, schedules *schedule.Manager, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		registry:  reg,
		schedules: schedules,
		checks:    make(map[string]Check),
		logger:    log.Named("api"),
		timeout:   60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all admin routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(s.requestLogger)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Get("/catalog", s.getCatalog)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/activities", func(r chi.Router) {
		r.Get("/", s.listActivities)
		r.Get("/stats", s.activityStats)
		r.Get("/validation", s.validateActivities)
	})

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", s.listSchedules)
		r.Get("/stats", s.scheduleStats)
		r.Post("/retry", s.retrySchedules)
		r.Get("/{id}", s.getSchedule)
		r.Get("/{id}/history", s.scheduleHistory)
		r.Delete("/{id}", s.deleteSchedule)
		r.Post("/{id}/setup", s.setupSchedule)
		r.Post("/{id}/trigger", s.triggerSchedule)
		r.Post("/{id}/pause", s.pauseSchedule)
		r.Post("/{id}/resume", s.resumeSchedule)
	})
	return r
}

// requestLogger logs one line per request at debug, or warn for 5xx.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		fields := map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  middleware.GetReqID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", fields)
			return
		}
		s.logger.Debug("Request handled", fields)
	})
}
