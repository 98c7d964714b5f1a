package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/marmos91/netboot/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Registry's metrics over HTTP, using the same
// listen/graceful-shutdown shape as any other ambient HTTP server in
// this codebase, reduced to the single /metrics endpoint this
// firmware needs. Like the Registry it wraps, a nil *Server's Start
// is a no-op: metrics exposition is always optional ambient
// infrastructure, never on the boot hot path.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer builds a metrics HTTP server listening on addr (host:port)
// and serving the Prometheus exposition format for the metrics
// registered against gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start serves metrics until ctx is cancelled, then shuts down
// gracefully. A nil *Server is a no-op (metrics exposition disabled).
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics: listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("metrics: server error: %w", err)
	}
}
