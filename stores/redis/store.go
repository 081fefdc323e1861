// Package redis provides a Redis-backed tokenpipe.ServerCredentialStore for
// processes that share one login across hosts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/panyam/tokenpipe"
)

// DefaultKeyPrefix is prepended to the normalized server URL to form each key.
const DefaultKeyPrefix = "tokenpipe:cred:"

// CredentialStore keeps one JSON-encoded credential per server. Keys expire
// with the refresh token; credentials with an unknown refresh expiry never expire.
type CredentialStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a CredentialStore.
type Option func(*CredentialStore)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *CredentialStore) {
		s.prefix = prefix
	}
}

// WithClock sets the time source used to compute key TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *CredentialStore) {
		s.now = now
	}
}

// NewCredentialStore constructs a Redis-backed credential store. The client
// lifecycle is managed by the caller.
func NewCredentialStore(client redis.UniversalClient, opts ...Option) *CredentialStore {
	s := &CredentialStore{
		client: client,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *CredentialStore) key(serverURL string) (string, error) {
	name, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return "", err
	}
	return s.prefix + name, nil
}

func (s *CredentialStore) GetCredential(ctx context.Context, serverURL string) (*tokenpipe.Credential, error) {
	key, err := s.key(serverURL)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	var cred tokenpipe.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential: %w", err)
	}
	return &cred, nil
}

// SetCredential stores cred with a TTL ending at its refresh expiry. A
// credential whose refresh token already expired is removed instead.
func (s *CredentialStore) SetCredential(ctx context.Context, serverURL string, cred *tokenpipe.Credential) error {
	key, err := s.key(serverURL)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !cred.RefreshExpiresAt.IsZero() {
		ttl = cred.RefreshExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.client.Del(ctx, key).Err()
		}
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to serialize credential: %w", err)
	}
	// ttl 0 means no expiry
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CredentialStore) RemoveCredential(ctx context.Context, serverURL string) error {
	key, err := s.key(serverURL)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, key).Err()
}

// ListServers scans the key prefix. The result is sorted.
func (s *CredentialStore) ListServers(ctx context.Context) ([]string, error) {
	var servers []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		servers = append(servers, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(servers)
	return servers, nil
}
