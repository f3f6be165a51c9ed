package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"verano.shop/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// NewGRPCServer exposes the standard gRPC health service so load
// balancers and orchestrators can probe readiness over gRPC. The
// serving status tracks the same probe the HTTP /readyz uses.
func NewGRPCServer(r readinessChecker, checkEvery time.Duration) (*grpc.Server, func()) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)

	update := func(ctx context.Context) {
		if err := r.Check(ctx); err != nil {
			obs.SetReady(false)
			hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			return
		}
		obs.SetReady(true)
		hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
	}

	ctx, cancel := context.WithCancel(context.Background())
	update(ctx)
	go func() {
		ticker := time.NewTicker(checkEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				update(ctx)
			}
		}
	}()

	return srv, func() {
		cancel()
		hs.Shutdown()
	}
}
