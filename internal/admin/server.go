// Package admin serves the gRPC admin endpoint: the standard health service,
// reporting SERVING while the control loop runs.
package admin

import (
	"context"
	"errors"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/bandwidth-intent-controller/internal/logging"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/observability"
)

// ServiceName is the health service name of the control loop.
const ServiceName = "intentctl.ControlLoop"

// Server wraps a grpc.Server exposing health checks.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logging.Logger
}

// New builds the admin server. Both the system-wide health ("") and
// ServiceName start as NOT_SERVING.
func New(collector *observability.ControllerCollector, log logging.Logger) *Server {
	s := &Server{
		grpc: grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
			grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
		),
		health: health.NewServer(),
		log:    logging.OrNoop(log),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips the reported health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()
	s.log.Info(ctx, "admin gRPC server listening", logging.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
