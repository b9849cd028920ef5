package grpcx

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/md-rashed-zaman/slotbook/libs/runtime"
)

// RequestIDMetadataKey carries the request id in gRPC metadata. It matches the
// HTTP header name lowercased.
const RequestIDMetadataKey = "x-request-id"

// UnaryServerRequestIDInterceptor stores the incoming (or a fresh) request id
// on the context and echoes it in the response header metadata.
func UnaryServerRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var incoming string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
				incoming = vals[0]
			}
		}
		id := runtime.AcceptRequestID(incoming)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))
		return handler(runtime.WithRequestID(ctx, id), req)
	}
}

// UnaryServerLoggingInterceptor logs failed calls only; readiness probes hit
// the health service every few seconds.
func UnaryServerLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil && logger != nil {
			logger.WarnContext(ctx, "grpc call failed",
				"method", info.FullMethod,
				"code", status.Code(err).String(),
				"duration_ms", time.Since(start).Milliseconds(),
				"err", err,
			)
		}
		return resp, err
	}
}
