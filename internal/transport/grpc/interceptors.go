package grpc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"fitbook/backend/internal/auth"
	"fitbook/backend/internal/domain"
)

type requesterKey struct{}

func withRequester(ctx context.Context, req domain.Requester) context.Context {
	return context.WithValue(ctx, requesterKey{}, req)
}

// requesterFrom returns the anonymous requester when the call carried no token.
func requesterFrom(ctx context.Context) domain.Requester {
	req, _ := ctx.Value(requesterKey{}).(domain.Requester)
	return req
}

type tokenParser interface {
	Parse(raw string) (domain.Requester, error)
}

// AuthInterceptor resolves "authorization: Bearer <jwt>" metadata into the
// requester. Calls without the header continue anonymously.
func AuthInterceptor(tokens tokenParser, log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc.auth"))

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
			return handler(ctx, req)
		}
		raw, err := auth.BearerToken(values[0])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "authorization metadata must be a bearer token")
		}
		who, err := tokens.Parse(raw)
		if err != nil {
			log.Info("token rejected", slog.Any("err", err), slog.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, "the bearer token is invalid or expired")
		}
		return handler(withRequester(ctx, who), req)
	}
}

// DefaultRequestTimeoutInterceptor bounds calls whose client set no deadline.
func DefaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
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
