// Package authtest provides a fake API server for testing code that talks
// to token-protected endpoints.
//
// The server signs users in and up, issues short-lived HS256 access tokens
// and rotating opaque refresh tokens, and guards everything else under
// /api/ with a bearer check. Tests can make the refresh endpoint misbehave
// and inspect what the server saw.
package authtest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/panyam/tokenpipe"
)

// Default token lifetimes
const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
)

// RefreshMode selects how the refresh endpoint answers.
type RefreshMode int

const (
	// RefreshOK rotates the refresh token and issues a new access token.
	RefreshOK RefreshMode = iota
	// RefreshReject answers 401 invalid_grant.
	RefreshReject
	// RefreshError answers 503.
	RefreshError
	// RefreshHang never answers until the client gives up or the server closes.
	RefreshHang
)

// SeenRequest is a call to a protected route as the server saw it.
type SeenRequest struct {
	Method        string
	Path          string
	Authorization string
	// AccessExpiresAt is the exp claim of the bearer token, zero if there was none
	AccessExpiresAt time.Time
	Status          int
	Body            string
}

// Server is a fake token-protected API.
type Server struct {
	// URL of the running server, e.g. http://127.0.0.1:51234
	URL string

	SecretKey          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	// Now is the server clock used for minting and checking tokens
	Now func() time.Time

	router *mux.Router
	http   *httptest.Server

	mu            sync.Mutex
	users         map[string]*user // keyed by lower-cased email
	refreshTokens map[string]*refreshToken
	refreshMode   RefreshMode
	refreshDelay  time.Duration
	refreshCalls  int
	loginCalls    int
	seen          []SeenRequest
	closing       chan struct{}
}

// Option configures a Server
type Option func(*Server)

// WithAccessTokenExpiry sets the lifetime of issued access tokens
func WithAccessTokenExpiry(d time.Duration) Option {
	return func(s *Server) { s.AccessTokenExpiry = d }
}

// WithRefreshTokenExpiry sets the lifetime of issued refresh tokens
func WithRefreshTokenExpiry(d time.Duration) Option {
	return func(s *Server) { s.RefreshTokenExpiry = d }
}

// WithClock replaces time.Now on the server
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.Now = now }
}

// New creates a Server without starting it. Use Handler to mount it.
func New(opts ...Option) *Server {
	s := &Server{
		SecretKey:          "authtest-secret",
		AccessTokenExpiry:  DefaultAccessTokenExpiry,
		RefreshTokenExpiry: DefaultRefreshTokenExpiry,
		Now:                time.Now,
		users:              make(map[string]*user),
		refreshTokens:      make(map[string]*refreshToken),
		closing:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// NewServer starts a Server on a local port and closes it when tb ends.
func NewServer(tb testing.TB, opts ...Option) *Server {
	tb.Helper()
	s := New(opts...)
	s.http = httptest.NewServer(s.router)
	s.URL = s.http.URL
	tb.Cleanup(s.Close)
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases hanging refresh calls and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	select {
	case <-s.closing:
	default:
		close(s.closing)
	}
	s.mu.Unlock()
	if s.http != nil {
		s.http.Close()
	}
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(tokenpipe.DefaultLoginPath, s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc(tokenpipe.DefaultRegisterPath, s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc(tokenpipe.DefaultRefreshPath, s.handleRefresh).Methods(http.MethodPost)
	r.PathPrefix("/api/").HandlerFunc(s.handleProtected)
	return r
}

// SetRefreshMode changes how later refresh calls are answered.
func (s *Server) SetRefreshMode(m RefreshMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshMode = m
}

// SetRefreshDelay makes every refresh call wait d before answering.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// RefreshCalls returns how many times the refresh endpoint was hit.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// LoginCalls returns how many times the sign-in endpoint was hit.
func (s *Server) LoginCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

// Requests returns every call to a protected route, oldest first.
func (s *Server) Requests() []SeenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SeenRequest, len(s.seen))
	copy(out, s.seen)
	return out
}

// ResetRecorders zeroes the call counters and forgets seen requests.
func (s *Server) ResetRecorders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls = 0
	s.loginCalls = 0
	s.seen = nil
}
