package client

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/panyam/tokenpipe"
)

// Pipeline decides which credential an outgoing call carries and how a
// call rejected with 401 is recovered. It is transport-agnostic: Transport
// drives it for HTTP and the grpc package drives it for gRPC.
type Pipeline struct {
	store       tokenpipe.CredentialStore
	coordinator *Coordinator
	exemptions  tokenpipe.Exemptions
	metrics     *tokenpipe.Metrics
	logger      *slog.Logger
	now         func() time.Time
	margin      time.Duration
}

// NewPipeline creates a Pipeline for the credential held in store.
func NewPipeline(store tokenpipe.CredentialStore, refresher Refresher, opts ...Option) *Pipeline {
	return newPipeline(store, refresher, newSettings(opts))
}

func newPipeline(store tokenpipe.CredentialStore, refresher Refresher, s *settings) *Pipeline {
	return &Pipeline{
		store:       store,
		coordinator: newCoordinator(store, refresher, s),
		exemptions:  s.exemptions,
		metrics:     s.metrics,
		logger:      s.logger,
		now:         s.now,
		margin:      s.margin,
	}
}

// Coordinator returns the refresh coordinator shared by every call through p.
func (p *Pipeline) Coordinator() *Coordinator {
	return p.coordinator
}

// Store returns the store p reads credentials from.
func (p *Pipeline) Store() tokenpipe.CredentialStore {
	return p.store
}

// IsExempt reports whether target never carries a credential.
func (p *Pipeline) IsExempt(target string) bool {
	return p.exemptions.IsExempt(target)
}

// Authorize returns the credential a call to target must carry.
//
// A nil credential with a nil error means the call goes out unauthenticated,
// either because target is exempt or because nobody is signed in. An
// expiring access token is refreshed first; if that fails the error is
// returned and the call must not be sent.
func (p *Pipeline) Authorize(ctx context.Context, target string) (*tokenpipe.Credential, error) {
	if p.exemptions.IsExempt(target) {
		return nil, nil
	}

	cred, err := p.store.Load(ctx)
	if err != nil {
		return nil, &tokenpipe.AuthError{Op: "authorize", Message: "failed to load credential", Err: err}
	}
	if cred == nil {
		return nil, nil
	}
	if !cred.AccessExpiring(p.now(), cred.EffectiveMargin(p.margin)) {
		return cred, nil
	}

	// A dead refresh token is detected inside the flight so that concurrent
	// callers share a single logout.
	p.logger.Debug("access token expiring, refreshing before send", "target", target)
	return p.coordinator.RequestRefresh(ctx, cred)
}

// CanRecover reports whether a 401 for a call that carried sent may be
// recovered by refreshing and replaying.
func (p *Pipeline) CanRecover(sent *tokenpipe.Credential, state RetryState) bool {
	return sent != nil && !state.Exhausted()
}

// Recover refreshes after the server rejected sent, joining any refresh
// already in flight. The caller replays its request with the returned
// credential and RetryState.Next.
func (p *Pipeline) Recover(ctx context.Context, sent *tokenpipe.Credential) (*tokenpipe.Credential, error) {
	return p.coordinator.RequestRefresh(ctx, sent)
}

// Logout clears the stored credential and notifies the observer with a nil reason.
func (p *Pipeline) Logout(ctx context.Context) error {
	if err := p.store.Clear(ctx); err != nil {
		return &tokenpipe.AuthError{Op: "logout", Message: "failed to clear credential", Err: err}
	}
	p.metrics.RecordLogout("signout")
	p.coordinator.observer.OnLogout(nil)
	return nil
}

// TokenSource returns an oauth2.TokenSource backed by p, for libraries that
// take one (oauth2.NewClient, grpc oauth credentials, Google API clients).
func (p *Pipeline) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &pipelineTokenSource{ctx: ctx, pipeline: p}
}

type pipelineTokenSource struct {
	ctx      context.Context
	pipeline *Pipeline
}

func (s *pipelineTokenSource) Token() (*oauth2.Token, error) {
	cred, err := s.pipeline.Authorize(s.ctx, "")
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, &tokenpipe.AuthError{Op: "token", Message: "not signed in", Err: tokenpipe.ErrNoCredential}
	}
	return cred.OAuth2Token(), nil
}
