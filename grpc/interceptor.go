package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/tokenpipe"
)

// VerifyFunc checks a bearer token and returns the user it was issued to.
type VerifyFunc func(token string) (userID string, err error)

// InterceptorConfig configures the server-side auth interceptors.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Verify validates bearer tokens. Required.
	Verify VerifyFunc

	// PublicMethods are full method names like "/package.Service/Method"
	// that are served without a token.
	PublicMethods tokenpipe.Exemptions
}

// NewInterceptorConfig creates a config verifying tokens with verify.
func NewInterceptorConfig(verify VerifyFunc, publicMethods ...string) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Verify:        verify,
		PublicMethods: tokenpipe.NewExemptions(publicMethods...),
	}
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that rejects calls
// without a valid bearer token with codes.Unauthenticated.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, info.FullMethod, config)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that rejects
// streams without a valid bearer token.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), info.FullMethod, config)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticate(ctx context.Context, method string, config *InterceptorConfig) (context.Context, error) {
	if config.PublicMethods.IsExempt(method) {
		return ctx, nil
	}
	token := BearerFromIncomingContextWithConfig(ctx, config.Config)
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	userID, err := config.Verify(token)
	if err != nil || userID == "" {
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return ContextWithUserID(ctx, userID), nil
}

// authedStream overrides the stream context with the authenticated one.
type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context {
	return s.ctx
}
