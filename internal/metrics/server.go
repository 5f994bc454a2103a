package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipesight/inspectord/internal/logger"
)

// Server exposes /metrics on its own port so scraping never contends with
// the API server.
type Server struct {
	logger     *logger.Logger
	port       int
	httpServer *http.Server
}

// NewServer creates the metrics endpoint service.
func NewServer(port int, log *logger.Logger) *Server {
	return &Server{
		logger: log,
		port:   port,
	}
}

// Start begins serving /metrics.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("metrics server starting", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the metrics endpoint down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Name returns the service name.
func (s *Server) Name() string {
	return "metrics-server"
}
