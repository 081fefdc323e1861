package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/panyam/tokenpipe"
)

// OAuth2Refresher refreshes against a standard OAuth2 token endpoint
// (form-encoded, RFC 6749 section 6) using golang.org/x/oauth2.
type OAuth2Refresher struct {
	Config *oauth2.Config

	// Client sends the token request. Defaults to a client over http.DefaultTransport.
	Client *http.Client

	// Now defaults to time.Now
	Now func() time.Time
}

// NewOAuth2Refresher creates a refresher for a public client posting its
// client_id in the form body.
func NewOAuth2Refresher(tokenURL, clientID string, scopes ...string) *OAuth2Refresher {
	return &OAuth2Refresher{
		Config: &oauth2.Config{
			ClientID: clientID,
			Scopes:   scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, current *tokenpipe.Credential) (*tokenpipe.Credential, error) {
	httpClient := r.Client
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport}
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	// an expired token forces the source to go to the token endpoint
	src := r.Config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: current.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})

	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuth2Error(err)
	}
	return tokenpipe.CredentialFromOAuth2(tok, now()), nil
}

func classifyOAuth2Error(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return tokenpipe.Unavailable(err)
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_token":
		return tokenpipe.Rejected("%s: %s", re.ErrorCode, re.ErrorDescription)
	}
	if re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
		return tokenpipe.Rejected("%v", err)
	}
	return tokenpipe.Unavailable(err)
}
