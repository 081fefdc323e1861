package client

import "context"

// MaxReplays is how many times a request may be resent after a 401.
const MaxReplays = 1

// RetryState records how many times a request has been replayed.
// The zero value is a request that has not been retried.
type RetryState struct {
	Attempts int
}

// Next returns the state of the replayed request.
func (s RetryState) Next() RetryState {
	return RetryState{Attempts: s.Attempts + 1}
}

// Exhausted reports whether no further replay is allowed.
func (s RetryState) Exhausted() bool {
	return s.Attempts >= MaxReplays
}

type retryStateKey struct{}

// WithRetryState returns a context carrying s.
func WithRetryState(ctx context.Context, s RetryState) context.Context {
	return context.WithValue(ctx, retryStateKey{}, s)
}

// RetryStateFrom returns the RetryState in ctx, or the zero state.
func RetryStateFrom(ctx context.Context) RetryState {
	if s, ok := ctx.Value(retryStateKey{}).(RetryState); ok {
		return s
	}
	return RetryState{}
}
