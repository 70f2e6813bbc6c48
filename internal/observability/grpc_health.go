package observability

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth mirrors the HTTP readiness checks into a gRPC health service
// so orchestrators that probe over gRPC see the same answer as /ready.
type GRPCHealth struct {
	server   *health.Server
	checks   map[string]HealthCheckFunc
	interval time.Duration
}

// NewGRPCHealth creates a gRPC health server driven by the given checks
func NewGRPCHealth(checks map[string]HealthCheckFunc, interval time.Duration) *GRPCHealth {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &GRPCHealth{
		server:   health.NewServer(),
		checks:   checks,
		interval: interval,
	}
}

// Server returns the underlying health server for registration
func (g *GRPCHealth) Server() *health.Server {
	return g.server
}

// Refresh runs the checks once and updates serving status
func (g *GRPCHealth) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, healthy := RunChecks(ctx, g.checks)

	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.server.SetServingStatus("", status)
	g.server.SetServingStatus(serviceName, status)
	return healthy
}

// Run refreshes status periodically until ctx is done, then marks the
// service as shutting down.
func (g *GRPCHealth) Run(ctx context.Context) {
	g.Refresh(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.server.Shutdown()
			return
		case <-ticker.C:
			g.Refresh(ctx)
		}
	}
}
