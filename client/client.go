package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/panyam/tokenpipe"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// AuthClient is an HTTP client with automatic token management for one server.
// It signs in and out, and every request sent through HTTPClient goes
// through the pipeline.
type AuthClient struct {
	serverURL  string
	store      tokenpipe.CredentialStore
	pipeline   *Pipeline
	httpClient *http.Client

	// talks to the auth endpoints without going through the pipeline
	tokenClient *http.Client

	loginPath    string
	registerPath string
	clientID     string
	settings     *settings
}

// Registration is the sign-up form.
type Registration struct {
	Email     string `json:"email"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
	BirthDate string `json:"birth_date,omitempty"`
}

// Validate checks the form before it is sent.
func (r *Registration) Validate() error {
	if r.Email == "" || r.Password1 == "" {
		return errors.New("email and password are required")
	}
	if !emailPattern.MatchString(r.Email) {
		return fmt.Errorf("invalid email address %q", r.Email)
	}
	if len(r.Password1) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}
	if r.Password2 != "" && r.Password2 != r.Password1 {
		return errors.New("passwords do not match")
	}
	return nil
}

// NewAuthClient creates a new authenticated HTTP client for a server.
// Credentials for the server are kept in store under its normalized URL.
func NewAuthClient(serverURL string, store tokenpipe.ServerCredentialStore, opts ...Option) (*AuthClient, error) {
	normalized, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}

	s := newSettings(opts)
	s.exemptions = s.exemptions.With(s.loginPath, s.registerPath, s.refreshPath)

	c := &AuthClient{
		serverURL:    normalized,
		store:        tokenpipe.Bind(store, normalized),
		tokenClient:  &http.Client{Transport: s.baseTransport},
		loginPath:    s.loginPath,
		registerPath: s.registerPath,
		clientID:     s.clientID,
		settings:     s,
	}

	refresher := s.refresher
	if refresher == nil {
		refresher = &HTTPRefresher{
			URL:      normalized + s.refreshPath,
			Client:   c.tokenClient,
			ClientID: s.clientID,
			Now:      s.now,
		}
	}
	c.pipeline = newPipeline(c.store, refresher, s)

	c.httpClient = &http.Client{}
	if s.httpClient != nil {
		c.tokenClient.Timeout = s.httpClient.Timeout
		c.httpClient.Timeout = s.httpClient.Timeout
		c.httpClient.CheckRedirect = s.httpClient.CheckRedirect
		c.httpClient.Jar = s.httpClient.Jar
	}
	transport := NewTransport(c.pipeline, s.baseTransport)
	transport.Origin = normalized
	c.httpClient.Transport = transport
	return c, nil
}

// HTTPClient returns the underlying HTTP client with auth handling
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Pipeline returns the pipeline shared by HTTPClient and any gRPC
// interceptors built for the same server.
func (c *AuthClient) Pipeline() *Pipeline {
	return c.pipeline
}

// GetToken returns the current access token, refreshing if needed.
// An empty token with a nil error means nobody is signed in.
func (c *AuthClient) GetToken(ctx context.Context) (string, error) {
	cred, err := c.pipeline.Authorize(ctx, "")
	if err != nil || cred == nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Credential returns the stored credential for this server
func (c *AuthClient) Credential(ctx context.Context) (*tokenpipe.Credential, error) {
	return c.store.Load(ctx)
}

// Login authenticates with username (or email) and password and stores the credential
func (c *AuthClient) Login(ctx context.Context, username, password string) (*tokenpipe.Credential, error) {
	req := TokenRequest{
		GrantType: "password",
		Password:  password,
		ClientID:  c.clientID,
	}
	if DetectUsernameType(username) == "email" {
		req.Email = username
	} else {
		req.Username = username
	}

	cred, err := c.requestToken(ctx, "login", c.loginPath, req)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, &tokenpipe.AuthError{Op: "login", Message: "no token received from server"}
	}
	if req.Email != "" {
		cred.UserEmail = req.Email
	}
	if err := c.save(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Register creates an account. Servers that sign the new user in straight
// away get their credential stored; the returned credential is nil otherwise
// and the caller should Login.
func (c *AuthClient) Register(ctx context.Context, reg Registration) (*tokenpipe.Credential, error) {
	if reg.Password2 == "" {
		reg.Password2 = reg.Password1
	}
	if err := reg.Validate(); err != nil {
		return nil, &tokenpipe.AuthError{Op: "register", Message: "invalid registration", Err: err}
	}

	cred, err := c.requestToken(ctx, "register", c.registerPath, reg)
	if err != nil || cred == nil {
		return nil, err
	}
	cred.UserEmail = reg.Email
	if err := c.save(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Logout removes the credential for this server
func (c *AuthClient) Logout(ctx context.Context) error {
	return c.pipeline.Logout(ctx)
}

// IsLoggedIn returns true if there is a credential that is usable now or can be refreshed
func (c *AuthClient) IsLoggedIn(ctx context.Context) bool {
	cred, err := c.store.Load(ctx)
	if err != nil || cred == nil {
		return false
	}
	now := c.settings.now()
	if !cred.AccessExpiring(now, 0) {
		return true
	}
	return !cred.RefreshExpiring(now, 0)
}

func (c *AuthClient) save(ctx context.Context, cred *tokenpipe.Credential) error {
	if err := c.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	c.settings.observer.OnCredentialUpdated(cred)
	return nil
}

// requestToken posts body to an auth endpoint. A 2xx response without
// tokens yields a nil credential and a nil error.
func (c *AuthClient) requestToken(ctx context.Context, op, path string, body any) (*tokenpipe.Credential, error) {
	tokenResp, status, err := postToken(ctx, c.tokenClient, c.serverURL+path, body)
	if err != nil {
		return nil, &tokenpipe.AuthError{Op: op, Message: "request failed", Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &tokenpipe.AuthError{Op: op, Message: "authentication failed", Err: errors.New(tokenResp.Reason(status))}
	}
	if !tokenResp.HasTokens() {
		return nil, nil
	}
	return tokenResp.Credential(c.settings.now()), nil
}
