package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServer exposes grpc.health.v1 with a status that mirrors the HTTP /readyz checks.
type HealthServer struct {
	Server   *grpc.Server
	health   *health.Server
	service  string
	checks   []runtime.ReadyCheck
	interval time.Duration
	logger   *slog.Logger
}

func NewHealthServer(service string, logger *slog.Logger, interval time.Duration, checks ...runtime.ReadyCheck) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLoggingInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		Server:   srv,
		health:   hs,
		service:  service,
		checks:   checks,
		interval: interval,
		logger:   logger,
	}
}

// Refresh runs the readiness checks once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) {
	failures := runtime.RunChecks(ctx, 2*time.Second, s.checks...)
	st := healthpb.HealthCheckResponse_SERVING
	if len(failures) > 0 {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		if s.logger != nil {
			s.logger.Warn("readiness checks failing", "failures", failures)
		}
	}
	s.health.SetServingStatus(s.service, st)
}

// Serve refreshes health on a ticker and serves on lis until ctx is cancelled.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.Server.GracefulStop()
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()
	return s.Server.Serve(lis)
}
