// Package metricsserver exposes the engine's Prometheus registry and a
// liveness probe over HTTP, independent of the ingestion run itself.
package metricsserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics and /healthz on a background listener.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a metrics Server bound to addr. It does not start listening
// until Start is called.
func New(addr string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

// Start runs the metrics server in a background goroutine. Listen errors
// other than a clean shutdown are logged, not returned, since the
// metrics endpoint is observability-only and must never block or fail
// an ingestion run.
func (s *Server) Start() {
	s.logger.Info("metricsserver: starting", slog.String("addr", s.httpServer.Addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metricsserver: listen failed", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully shuts the metrics server down within the given timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metricsserver: shutdown: %w", err)
	}

	return nil
}
