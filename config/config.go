// Package config loads tokenpipe CLI settings from a YAML file and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/panyam/tokenpipe"
	"github.com/panyam/tokenpipe/client"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "TOKENPIPE_CONFIG"

// Config is the root configuration.
// Sources, highest priority first:
//  1. explicit path (the -config flag);
//  2. the path in TOKENPIPE_CONFIG;
//  3. environment variables and defaults alone.
//
// Environment variables always overlay values read from a file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	URL string `yaml:"url" env:"TOKENPIPE_SERVER_URL" env-default:"http://localhost:8000"`
}

// EndpointsConfig holds the sign-in, sign-up and refresh paths. These are
// always exempt from credential attachment.
type EndpointsConfig struct {
	Login    string `yaml:"login" env:"TOKENPIPE_LOGIN_PATH" env-default:"/api/auth/login/"`
	Register string `yaml:"register" env:"TOKENPIPE_REGISTER_PATH" env-default:"/api/auth/registration/"`
	Refresh  string `yaml:"refresh" env:"TOKENPIPE_REFRESH_PATH" env-default:"/api/auth/token/refresh/"`
}

type AuthConfig struct {
	ClientID       string        `yaml:"client_id" env:"TOKENPIPE_CLIENT_ID" env-default:"cli"`
	ExpiryMargin   time.Duration `yaml:"expiry_margin" env:"TOKENPIPE_EXPIRY_MARGIN" env-default:"60s"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"TOKENPIPE_REFRESH_TIMEOUT" env-default:"10s"`
	// Exempt lists extra paths that never carry a credential.
	Exempt []string `yaml:"exempt" env:"TOKENPIPE_EXEMPT" env-separator:","`
	// OAuth2 switches refresh to a standard form-encoded grant_type=refresh_token request.
	OAuth2 bool `yaml:"oauth2" env:"TOKENPIPE_OAUTH2"`
}

// StoreConfig selects where credentials live.
// Kind is one of "fs", "sqlite", "redis" or "datastore".
type StoreConfig struct {
	Kind       string `yaml:"kind" env:"TOKENPIPE_STORE" env-default:"fs"`
	Path       string `yaml:"path" env:"TOKENPIPE_STORE_PATH"`
	Passphrase string `yaml:"passphrase" env:"TOKENPIPE_PASSPHRASE"`
	RedisURL   string `yaml:"redis_url" env:"TOKENPIPE_REDIS_URL"`
	Project    string `yaml:"project" env:"TOKENPIPE_DATASTORE_PROJECT"`
	Namespace  string `yaml:"namespace" env:"TOKENPIPE_DATASTORE_NAMESPACE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"TOKENPIPE_LOG_LEVEL" env-default:"warn"`
	Format string `yaml:"format" env:"TOKENPIPE_LOG_FORMAT" env-default:"text"`
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration. See Config for the order of sources.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}
		// ReadConfig also overlays the environment
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	if _, err := tokenpipe.NormalizeServerURL(c.Server.URL); err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	switch c.Store.Kind {
	case "fs", "sqlite":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis store")
		}
	case "datastore":
		if c.Store.Project == "" {
			return fmt.Errorf("store.project is required for the datastore store")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	if c.Auth.ExpiryMargin < 0 {
		return fmt.Errorf("auth.expiry_margin must not be negative")
	}
	if c.Auth.RefreshTimeout <= 0 {
		return fmt.Errorf("auth.refresh_timeout must be positive")
	}
	return nil
}

// ClientOptions turns the configuration into AuthClient options.
func (c *Config) ClientOptions(logger *slog.Logger) []client.Option {
	opts := []client.Option{
		client.WithLoginEndpoint(c.Endpoints.Login),
		client.WithRegisterEndpoint(c.Endpoints.Register),
		client.WithRefreshEndpoint(c.Endpoints.Refresh),
		client.WithClientID(c.Auth.ClientID),
		client.WithExpiryMargin(c.Auth.ExpiryMargin),
		client.WithRefreshTimeout(c.Auth.RefreshTimeout),
		client.WithLogger(logger),
	}
	if len(c.Auth.Exempt) > 0 {
		opts = append(opts, client.WithExemptions(c.Auth.Exempt...))
	}
	if c.Auth.OAuth2 {
		tokenURL := strings.TrimRight(c.Server.URL, "/") + c.Endpoints.Refresh
		opts = append(opts, client.WithRefresher(client.NewOAuth2Refresher(tokenURL, c.Auth.ClientID)))
	}
	return opts
}

// Logger builds the slog logger described by the log section.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
