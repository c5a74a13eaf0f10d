// Package monitoring exposes the crawler's health and metrics endpoints
// over HTTP: liveness and readiness probes, a Prometheus scrape target,
// and a per-run status snapshot.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/metrics"
	"github.com/crawlcore/crawlcore/internal/middleware"
)

// StatusProvider reports the live scheduler counts for one crawl. The
// engine satisfies this with its own processed counter plus a read
// through the store for the queued/active partitions.
type StatusProvider interface {
	CrawlerID() string
	ProcessedCount() int64
	Store() crawlstore.Store
}

// Server is the chi-backed monitoring endpoint: health checks, a
// Prometheus scrape target, and a JSON status summary.
type Server struct {
	router chi.Router
	status StatusProvider
	logger *zap.Logger
}

// NewServer constructs a Server with its middleware stack and routes
// already wired.
func NewServer(status StatusProvider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{status: status, logger: logger}

	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Metrics)
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/status/{id}", s.getStatus)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	ID        string `json:"id"`
	Processed int64  `json:"processed"`
	Queued    int    `json:"queued"`
	Active    int    `json:"active"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.status == nil || id != s.status.CrawlerID() {
		writeError(w, http.StatusNotFound, "unknown crawler id")
		return
	}
	store := s.status.Store()
	queued, err := store.QueueSize(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue size")
		return
	}
	active, err := store.ActiveCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read active count")
		return
	}
	resp := statusResponse{
		ID:        id,
		Processed: s.status.ProcessedCount(),
		Queued:    queued,
		Active:    active,
	}
	metrics.SetQueueState(int(resp.Processed), resp.Queued, resp.Active)
	writeJSON(w, http.StatusOK, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered in monitoring handler", zap.Any("recover", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

// ListenAndServe starts the monitoring endpoint and blocks until ctx is
// canceled or the listener fails.
func ListenAndServe(ctx context.Context, addr string, srv *Server) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
