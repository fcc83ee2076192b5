package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"userdir.org/internal/obs"
)

const serviceName = "userdir.v1.Directory"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer serves the standard gRPC health protocol, driven by the same
// readiness check as /readyz.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
}

// NewGRPCServer creates the health service. Status starts as NOT_SERVING
// until the first Refresh.
func NewGRPCServer(r readinessChecker) *GRPCServer {
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
	}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh checks readiness once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) bool {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Warn("readiness_failed", map[string]any{"error": err})
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes every interval until ctx is done, then marks the service as
// shutting down.
func (s *GRPCServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		s.Refresh(checkCtx)
		cancel()
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (s *GRPCServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
}
