package server

import (
	"context"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// UnaryErrorInterceptor converts engine errors into gRPC status errors and
// logs failed calls
func UnaryErrorInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("gRPC call failed",
				zap.String("method", info.FullMethod),
				zap.Int("code", int(errors.GetCode(err))),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			return resp, errors.ToGRPCError(err)
		}
		return resp, nil
	}
}
