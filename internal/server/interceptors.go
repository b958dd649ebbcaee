package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/archive-transcriber/internal/common"
)

// Metadata keys set by the authenticating gateway in front of this service.
const (
	MDUserID    = "x-user-id"
	MDRequestID = "x-request-id"
)

// UnaryInterceptor tags the context with request and user ids, logs each call and turns
// application errors into gRPC status errors.
func UnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		md, _ := metadata.FromIncomingContext(ctx)

		requestID := first(md, MDRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, requestID)
		if userID := first(md, MDUserID); userID != "" {
			ctx = common.WithUserID(ctx, userID)
		}

		resp, err := handler(ctx, req)
		err = common.ToStatus(err)

		log := common.LoggerWith(ctx, logger).With(
			"method", info.FullMethod,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if err != nil {
			log.Warn("grpc.unary.error", "code", status.Code(err).String(), "error", err)
		} else {
			log.Info("grpc.unary.ok")
		}
		return resp, err
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// callerID returns the authenticated user id carried by ctx.
func callerID(ctx context.Context) (uuid.UUID, error) {
	raw := common.UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, common.ErrUnauthorized
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.ErrUnauthorized
	}
	return id, nil
}
