package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"FlowSentry/internal/logging"
)

// HTTPServer matches the lifecycle methods of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server as a supervised service.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPServerService wraps server. A non-positive shutdownTimeout means 10s.
func NewHTTPServerService(name string, server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout, name: name}
}

// NewMetricsService serves the Prometheus registry on addr at /metrics.
func NewMetricsService(addr string) *HTTPServerService {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return NewHTTPServerService("metrics-server", &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, 5*time.Second)
}

// Serve implements suture.Service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Info().Str("component", h.name).Msg("http server started")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s failed: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", h.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture logs.
func (h *HTTPServerService) String() string {
	return h.name
}

// HealthService serves the standard gRPC health protocol. The overall status
// is SERVING while the service runs and NOT_SERVING once it stops.
type HealthService struct {
	addr   string
	health *health.Server
}

// NewHealthService creates a health service listening on addr.
func NewHealthService(addr string) *HealthService {
	return &HealthService{addr: addr, health: health.NewServer()}
}

// Serve implements suture.Service.
func (h *HealthService) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	return h.serve(ctx, lis)
}

func (h *HealthService) serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.health)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	logging.Info().Str("component", "health").Str("addr", lis.Addr().String()).Msg("gRPC health server started")

	select {
	case err := <-errCh:
		h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return fmt.Errorf("gRPC health server failed: %w", err)
	case <-ctx.Done():
		h.health.Shutdown()
		srv.GracefulStop()
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture logs.
func (h *HealthService) String() string {
	return "health-server"
}
