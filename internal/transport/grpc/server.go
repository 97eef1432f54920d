// Package grpc hosts the gRPC surface of the service: the standard health
// service, driven by the same readiness checks as the HTTP /readyz endpoint.
package grpc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"trainingcenter/backend/internal/health"
)

// ServiceName is the health service key reported next to the overall "" key.
const ServiceName = "trainingcenter.v1.Scheduling"

const defaultRequestTimeout = 10 * time.Second

type ServerConfig struct {
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewServer returns a gRPC server with the health service registered. Both
// keys start as NOT_SERVING until WatchReadiness reports otherwise.
func NewServer(cfg ServerConfig) (*grpc.Server, *grpchealth.Server) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			DefaultRequestTimeoutInterceptor(cfg.RequestTimeout),
			unaryLogInterceptor(log.With(slog.String("component", "grpc"))),
		),
	)

	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// DefaultRequestTimeoutInterceptor bounds unary calls that arrive without a
// deadline.
func DefaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func unaryLogInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			log.Warn("rpc failed", slog.String("rpc", info.FullMethod), slog.Any("err", err), slog.Duration("duration", time.Since(start)))
			return resp, err
		}
		log.Debug("rpc served", slog.String("rpc", info.FullMethod), slog.Duration("duration", time.Since(start)))
		return resp, nil
	}
}

// Shutdown stops s gracefully, forcing it down once timeout elapses.
func Shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

// WatchReadiness evaluates checks every interval and flips the health status
// of both keys until ctx is done, then marks everything NOT_SERVING.
func WatchReadiness(ctx context.Context, hs *grpchealth.Server, interval time.Duration, checks []health.Check, log *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc.health"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := false
	first := true
	for {
		report := health.Evaluate(ctx, health.DefaultTimeout, checks)
		healthy := report.Healthy()
		if first || healthy != serving {
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if healthy {
				status = healthpb.HealthCheckResponse_SERVING
			}
			hs.SetServingStatus("", status)
			hs.SetServingStatus(ServiceName, status)
			if !healthy {
				log.Warn("readiness failing", slog.Any("checks", report))
			} else {
				log.Info("readiness ok")
			}
			serving, first = healthy, false
		}

		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
