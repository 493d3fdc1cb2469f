package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes the Prometheus `/metrics` endpoint and a plain `/health`
// liveness endpoint over HTTP, started asynchronously and stopped
// gracefully.
type Server struct {
	server *http.Server
	log    *logrus.Entry
}

// NewServer constructs a metrics Server bound to the given port (no
// leading colon).
func NewServer(port string, logger *logrus.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Server{
		server: &http.Server{
			Addr:    ":" + port,
			Handler: mux,
		},
		log: logger.WithField("component", "metrics_server"),
	}
}

// StartAsync begins serving in a background goroutine. Startup errors
// other than a clean shutdown are logged, not returned, since the
// caller has no synchronous way to observe them once the goroutine is
// launched.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// to complete or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
