package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/panyam/tokenpipe"
)

// DefaultRefreshTimeout bounds a single refresh call.
const DefaultRefreshTimeout = 10 * time.Second

// settings is shared by NewCoordinator, NewPipeline and NewAuthClient.
// Each constructor reads the fields it cares about.
type settings struct {
	margin         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	observer       tokenpipe.SessionObserver
	logger         *slog.Logger
	metrics        *tokenpipe.Metrics
	exemptions     tokenpipe.Exemptions

	// AuthClient only
	refresher     Refresher
	loginPath     string
	registerPath  string
	refreshPath   string
	clientID      string
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// Option configures a Coordinator, Pipeline or AuthClient
type Option func(*settings)

func newSettings(opts []Option) *settings {
	s := &settings{
		margin:         tokenpipe.DefaultExpiryMargin,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		observer:       tokenpipe.NopObserver{},
		logger:         slog.Default(),
		loginPath:      tokenpipe.DefaultLoginPath,
		registerPath:   tokenpipe.DefaultRegisterPath,
		refreshPath:    tokenpipe.DefaultRefreshPath,
		clientID:       "cli",
		baseTransport:  http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithExpiryMargin sets how long before expiry a token is refreshed.
func WithExpiryMargin(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.margin = d
		}
	}
}

// WithRefreshTimeout bounds each refresh call. A timeout is a transient failure.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver sets who is told about logouts and credential updates.
func WithObserver(o tokenpipe.SessionObserver) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets the logger for refresh and session events. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records refresh, replay and logout counts in m. A nil m disables metrics.
func WithMetrics(m *tokenpipe.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithExemptions adds targets that never carry a credential.
// AuthClient always exempts its own login, register and refresh endpoints.
func WithExemptions(targets ...string) Option {
	return func(s *settings) {
		s.exemptions = s.exemptions.With(targets...)
	}
}

// WithRefresher replaces the AuthClient's default JSON refresher.
func WithRefresher(r Refresher) Option {
	return func(s *settings) {
		s.refresher = r
	}
}

// WithLoginEndpoint sets the sign-in path, e.g. "/api/auth/login/"
func WithLoginEndpoint(path string) Option {
	return func(s *settings) {
		s.loginPath = path
	}
}

// WithRegisterEndpoint sets the sign-up path
func WithRegisterEndpoint(path string) Option {
	return func(s *settings) {
		s.registerPath = path
	}
}

// WithRefreshEndpoint sets the refresh path
func WithRefreshEndpoint(path string) Option {
	return func(s *settings) {
		s.refreshPath = path
	}
}

// WithClientID sets the client_id sent in token requests
func WithClientID(id string) Option {
	return func(s *settings) {
		s.clientID = id
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		if client == nil {
			return
		}
		s.httpClient = client
		if client.Transport != nil {
			s.baseTransport = client.Transport
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) Option {
	return func(s *settings) {
		if transport != nil {
			s.baseTransport = transport
		}
	}
}
