package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/panyam/tokenpipe"
)

// Refresher exchanges a refresh token for a new credential.
//
// Implementations report a server that rejects the refresh token with an
// error wrapping tokenpipe.ErrRefreshRejected. Every other error is treated
// as transient by the Coordinator.
type Refresher interface {
	Refresh(ctx context.Context, current *tokenpipe.Credential) (*tokenpipe.Credential, error)
}

// RefresherFunc adapts a function to a Refresher
type RefresherFunc func(ctx context.Context, current *tokenpipe.Credential) (*tokenpipe.Credential, error)

func (f RefresherFunc) Refresh(ctx context.Context, current *tokenpipe.Credential) (*tokenpipe.Credential, error) {
	return f(ctx, current)
}

// HTTPRefresher posts the refresh token as JSON to a refresh endpoint.
type HTTPRefresher struct {
	// URL is the full refresh endpoint, e.g. https://api.example.com/api/auth/token/refresh/
	URL string

	// Client sends the refresh call. It must not route through the pipeline's
	// own transport. Defaults to a client over http.DefaultTransport.
	Client *http.Client

	ClientID string

	// Now defaults to time.Now
	Now func() time.Time
}

func (r *HTTPRefresher) Refresh(ctx context.Context, current *tokenpipe.Credential) (*tokenpipe.Credential, error) {
	httpClient := r.Client
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport}
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	req := TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: current.RefreshToken,
		Refresh:      current.RefreshToken,
		ClientID:     r.ClientID,
	}
	tokenResp, status, err := postToken(ctx, httpClient, r.URL, req)
	if err != nil {
		return nil, tokenpipe.Unavailable(err)
	}

	if status != http.StatusOK {
		if tokenResp.Rejects(status) {
			return nil, tokenpipe.Rejected("%s", tokenResp.Reason(status))
		}
		return nil, tokenpipe.Unavailable(fmt.Errorf("refresh failed: %s", tokenResp.Reason(status)))
	}
	if !tokenResp.HasTokens() {
		return nil, tokenpipe.Unavailable(fmt.Errorf("refresh response carried no access token"))
	}

	return tokenResp.Credential(now()), nil
}
