package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/tokenpipe"
	"github.com/panyam/tokenpipe/client"
)

// UnaryClientInterceptor attaches the pipeline's credential to every unary
// call. A call failing with codes.Unauthenticated is recovered by refreshing
// and invoked once more.
func UnaryClientInterceptor(p *client.Pipeline, config *Config) grpc.UnaryClientInterceptor {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()
	key := config.MetadataKeyAuthorization

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		cred, err := p.Authorize(ctx, method)
		if err != nil {
			return pipelineStatus(err)
		}

		err = invoker(CredentialToOutgoingContext(ctx, cred, key), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}

		state := client.RetryStateFrom(ctx)
		if !p.CanRecover(cred, state) {
			return err
		}
		next, rerr := p.Recover(ctx, cred)
		if rerr != nil {
			if tokenpipe.IsTransient(rerr) || ctx.Err() != nil {
				return pipelineStatus(rerr)
			}
			// terminal: the caller sees the server's rejection
			return err
		}

		ctx = client.WithRetryState(ctx, state.Next())
		return invoker(CredentialToOutgoingContext(ctx, next, key), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor attaches the pipeline's credential when a stream
// is opened. Streams are not replayed; an Unauthenticated stream error is
// returned to the caller as is.
func StreamClientInterceptor(p *client.Pipeline, config *Config) grpc.StreamClientInterceptor {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()
	key := config.MetadataKeyAuthorization

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		cred, err := p.Authorize(ctx, method)
		if err != nil {
			return nil, pipelineStatus(err)
		}
		return streamer(CredentialToOutgoingContext(ctx, cred, key), desc, cc, method, opts...)
	}
}

// DialOptions returns the dial options installing both client interceptors.
func DialOptions(p *client.Pipeline, config *Config) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor(p, config)),
		grpc.WithChainStreamInterceptor(StreamClientInterceptor(p, config)),
	}
}

// PipelineError is a pipeline failure carrying a gRPC status code. It still
// unwraps to the tokenpipe error so errors.Is works on it.
type PipelineError struct {
	Code codes.Code
	Err  error
}

func (e *PipelineError) Error() string {
	return e.Err.Error()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Err.Error())
}

func pipelineStatus(err error) error {
	code := codes.Internal
	switch {
	case tokenpipe.IsTerminal(err), errors.Is(err, tokenpipe.ErrNoCredential):
		code = codes.Unauthenticated
	case tokenpipe.IsTransient(err):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return &PipelineError{Code: code, Err: err}
}
