package tokenpipe

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// CredentialStore is the persisted home of the current credential for one server.
type CredentialStore interface {
	// Load returns the current credential, or nil, nil if there is none.
	Load(ctx context.Context) (*Credential, error)

	// Save replaces the current credential.
	Save(ctx context.Context, cred *Credential) error

	// Clear removes the current credential.
	Clear(ctx context.Context) error
}

// ServerCredentialStore stores credentials for any number of servers, keyed
// by normalized server URL.
type ServerCredentialStore interface {
	// GetCredential retrieves a credential for a server URL
	// Returns nil, nil if no credential exists for the server
	GetCredential(ctx context.Context, serverURL string) (*Credential, error)

	// SetCredential stores a credential for a server URL
	SetCredential(ctx context.Context, serverURL string, cred *Credential) error

	// RemoveCredential removes a credential for a server URL
	RemoveCredential(ctx context.Context, serverURL string) error

	// ListServers returns all server URLs with stored credentials
	ListServers(ctx context.Context) ([]string, error)
}

// Bind returns a CredentialStore view of s for a single server.
func Bind(s ServerCredentialStore, serverURL string) CredentialStore {
	return &boundStore{store: s, serverURL: serverURL}
}

type boundStore struct {
	store     ServerCredentialStore
	serverURL string
}

func (b *boundStore) Load(ctx context.Context) (*Credential, error) {
	return b.store.GetCredential(ctx, b.serverURL)
}

func (b *boundStore) Save(ctx context.Context, cred *Credential) error {
	return b.store.SetCredential(ctx, b.serverURL, cred)
}

func (b *boundStore) Clear(ctx context.Context) error {
	return b.store.RemoveCredential(ctx, b.serverURL)
}

// NormalizeServerURL reduces a URL to scheme://host for use as a store key.
// A missing scheme defaults to https.
func NormalizeServerURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	bare := u.Scheme == "" && u.Path != "" && !strings.HasPrefix(u.Path, "/")
	if u.Host == "" && (bare || u.Scheme != "" && u.Opaque != "") {
		// "example.com" parses as a path and "localhost:8080" as scheme "localhost"
		u, err = url.Parse("https://" + serverURL)
		if err != nil {
			return "", fmt.Errorf("invalid server URL: %w", err)
		}
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL: missing host in %q", serverURL)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	servers map[string]*Credential
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{servers: make(map[string]*Credential)}
}

// GetCredential returns the credential for serverURL, or nil if there is none.
func (m *MemoryStore) GetCredential(_ context.Context, serverURL string) (*Credential, error) {
	key, err := NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.servers[key], nil
}

// SetCredential stores cred under the normalized serverURL.
func (m *MemoryStore) SetCredential(_ context.Context, serverURL string, cred *Credential) error {
	key, err := NormalizeServerURL(serverURL)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[key] = cred
	return nil
}

// RemoveCredential deletes the credential for serverURL. Removing a missing one is not an error.
func (m *MemoryStore) RemoveCredential(_ context.Context, serverURL string) error {
	key, err := NormalizeServerURL(serverURL)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, key)
	return nil
}

// ListServers returns the normalized URLs that hold a credential, sorted.
func (m *MemoryStore) ListServers(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	servers := make([]string, 0, len(m.servers))
	for k := range m.servers {
		servers = append(servers, k)
	}
	sort.Strings(servers)
	return servers, nil
}
