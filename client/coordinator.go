package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/panyam/tokenpipe"
)

var tracer = otel.Tracer("github.com/panyam/tokenpipe/client")

// all refreshes for one store share a single flight
const flightKey = "refresh"

// Coordinator guarantees that concurrent callers needing a new credential
// share one refresh call and all observe its result.
type Coordinator struct {
	store     tokenpipe.CredentialStore
	refresher Refresher
	observer  tokenpipe.SessionObserver
	metrics   *tokenpipe.Metrics
	logger    *slog.Logger
	now       func() time.Time
	margin    time.Duration
	timeout   time.Duration

	group singleflight.Group
}

// NewCoordinator creates a Coordinator refreshing the credential held in store.
func NewCoordinator(store tokenpipe.CredentialStore, refresher Refresher, opts ...Option) *Coordinator {
	s := newSettings(opts)
	return newCoordinator(store, refresher, s)
}

func newCoordinator(store tokenpipe.CredentialStore, refresher Refresher, s *settings) *Coordinator {
	return &Coordinator{
		store:     store,
		refresher: refresher,
		observer:  s.observer,
		metrics:   s.metrics,
		logger:    s.logger,
		now:       s.now,
		margin:    s.margin,
		timeout:   s.refreshTimeout,
	}
}

// RequestRefresh returns a credential newer than current.
//
// If a refresh is already in flight the caller joins it and shares its
// outcome; otherwise the caller starts one. The refresh itself is not tied
// to ctx (other callers may be waiting on it) but the caller stops waiting
// when ctx is done.
func (c *Coordinator) RequestRefresh(ctx context.Context, current *tokenpipe.Credential) (*tokenpipe.Credential, error) {
	if current == nil {
		return nil, &tokenpipe.AuthError{Op: "refresh", Message: "nothing to refresh", Err: tokenpipe.ErrNoCredential}
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.refresh(detached, current)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*tokenpipe.Credential), nil
	case <-ctx.Done():
		return nil, &tokenpipe.AuthError{Op: "refresh", Message: "stopped waiting for refresh", Err: ctx.Err()}
	}
}

// EndSession clears the store and tells the observer the session is over.
func (c *Coordinator) EndSession(ctx context.Context, reason error, label string) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("failed to clear credential store", "error", err)
	}
	c.metrics.RecordLogout(label)
	c.logger.Info("session ended", "reason", label, "error", reason)
	c.observer.OnLogout(reason)
}

// refresh runs inside the single flight.
func (c *Coordinator) refresh(ctx context.Context, current *tokenpipe.Credential) (*tokenpipe.Credential, error) {
	flight := uuid.NewString()
	ctx, span := tracer.Start(ctx, "tokenpipe.refresh")
	span.SetAttributes(attribute.String("tokenpipe.flight", flight))
	defer span.End()
	log := c.logger.With("flight", flight)

	stored, err := c.store.Load(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "load failed")
		c.metrics.RecordRefresh(tokenpipe.OutcomeTransient)
		return nil, &tokenpipe.AuthError{Op: "refresh", Message: "failed to load credential", Err: tokenpipe.Unavailable(err)}
	}
	if stored == nil {
		// signed out or logged out by an earlier flight; nothing left to refresh
		return nil, &tokenpipe.AuthError{Op: "refresh", Message: "session already ended", Err: tokenpipe.ErrNoCredential}
	}

	now := c.now()
	if stored.AccessToken != current.AccessToken && !stored.AccessExpiring(now, stored.EffectiveMargin(c.margin)) {
		// an earlier flight already replaced the credential the caller saw
		log.Debug("reusing credential from completed refresh")
		span.SetAttributes(attribute.String("tokenpipe.outcome", tokenpipe.OutcomeReused))
		c.metrics.RecordRefresh(tokenpipe.OutcomeReused)
		return stored, nil
	}
	if stored.AccessToken != current.AccessToken {
		current = stored
	}

	if current.RefreshExpiring(now, c.margin) {
		err := &tokenpipe.AuthError{Op: "refresh", Message: "refresh token expired", Err: tokenpipe.ErrSessionExpired}
		span.SetStatus(codes.Error, "refresh token expired")
		c.metrics.RecordRefresh(tokenpipe.OutcomeTerminal)
		c.EndSession(ctx, err, "refresh_expired")
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	next, err := c.refresher.Refresh(rctx, current)
	if err != nil {
		span.RecordError(err)
		if tokenpipe.IsTerminal(err) {
			span.SetStatus(codes.Error, "refresh rejected")
			c.metrics.RecordRefresh(tokenpipe.OutcomeTerminal)
			authErr := &tokenpipe.AuthError{Op: "refresh", Message: "refresh token rejected", Err: err}
			c.EndSession(ctx, authErr, "rejected")
			return nil, authErr
		}

		msg := "failed to refresh token"
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			msg = "token refresh timeout"
		}
		span.SetStatus(codes.Error, msg)
		c.metrics.RecordRefresh(tokenpipe.OutcomeTransient)
		log.Warn("refresh failed, session kept", "error", err, "elapsed", time.Since(start))
		return nil, &tokenpipe.AuthError{Op: "refresh", Message: msg, Err: tokenpipe.Unavailable(err)}
	}
	if next == nil || next.AccessToken == "" {
		c.metrics.RecordRefresh(tokenpipe.OutcomeTransient)
		return nil, &tokenpipe.AuthError{Op: "refresh", Message: "refresher returned no credential", Err: tokenpipe.ErrRefreshUnavailable}
	}

	next = current.Inherit(next)
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if m := next.EffectiveMargin(c.margin); m < c.margin {
		log.Warn("access token lifetime shorter than expiry margin, margin reduced",
			"lifetime", next.AccessExpiresAt.Sub(next.CreatedAt), "margin", c.margin, "effective_margin", m)
	}

	if err := c.store.Save(ctx, next); err != nil {
		c.metrics.RecordRefresh(tokenpipe.OutcomeTransient)
		return nil, &tokenpipe.AuthError{
			Op:      "refresh",
			Message: "failed to store refreshed credential",
			Err:     tokenpipe.Unavailable(fmt.Errorf("save: %w", err)),
		}
	}

	c.metrics.RecordRefresh(tokenpipe.OutcomeSuccess)
	span.SetAttributes(attribute.String("tokenpipe.outcome", tokenpipe.OutcomeSuccess))
	log.Debug("credential refreshed", "elapsed", time.Since(start), "access_expires_at", next.AccessExpiresAt)
	c.observer.OnCredentialUpdated(next)
	return next, nil
}
