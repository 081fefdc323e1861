// Package fs provides a file system-based credential store.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/panyam/tokenpipe"
)

// FSCredentialStore stores credentials as a JSON file on the filesystem.
// Every change is written through to disk, and reads pick up changes made
// by other processes sharing the file.
type FSCredentialStore struct {
	mu         sync.Mutex
	path       string
	passphrase string
	servers    map[string]*tokenpipe.Credential
	loadedMod  time.Time
	loadedSize int64
}

// credentialFile is the JSON structure stored on disk
type credentialFile struct {
	Servers map[string]*tokenpipe.Credential `json:"servers"`
}

// Option configures an FSCredentialStore
type Option func(*FSCredentialStore)

// WithPassphrase encrypts the file at rest with a key derived from passphrase.
func WithPassphrase(passphrase string) Option {
	return func(s *FSCredentialStore) {
		s.passphrase = passphrase
	}
}

// DefaultPath returns ~/.config/<appName>/credentials.json
func DefaultPath(appName string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "tokenpipe"
	}
	return filepath.Join(configDir, appName, "credentials.json"), nil
}

// NewFSCredentialStore creates a new FS-based credential store.
// If path is empty, defaults to ~/.config/<appName>/credentials.json
func NewFSCredentialStore(path string, appName string, opts ...Option) (*FSCredentialStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(appName); err != nil {
			return nil, err
		}
	}

	store := &FSCredentialStore{
		path:    path,
		servers: make(map[string]*tokenpipe.Credential),
	}
	for _, opt := range opts {
		opt(store)
	}

	// Load existing credentials if file exists
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return store, nil
}

// load reads credentials from disk. Caller must hold s.mu for writing.
func (s *FSCredentialStore) load() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if s.passphrase != "" {
		if data, err = open(s.passphrase, data); err != nil {
			return err
		}
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	s.servers = file.Servers
	if s.servers == nil {
		s.servers = make(map[string]*tokenpipe.Credential)
	}
	s.loadedMod = info.ModTime()
	s.loadedSize = info.Size()
	return nil
}

// refresh reloads the file if another writer changed it since we last looked.
func (s *FSCredentialStore) refresh() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		if !s.loadedMod.IsZero() {
			// removed behind our back
			s.servers = make(map[string]*tokenpipe.Credential)
			s.loadedMod = time.Time{}
		}
		return nil
	}
	if err != nil {
		return err
	}
	if info.ModTime().Equal(s.loadedMod) && info.Size() == s.loadedSize {
		return nil
	}
	return s.load()
}

// GetCredential retrieves a credential for a server URL
func (s *FSCredentialStore) GetCredential(_ context.Context, serverURL string) (*tokenpipe.Credential, error) {
	key, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return nil, err
	}
	cred, ok := s.servers[key]
	if !ok {
		return nil, nil
	}

	return cred, nil
}

// SetCredential stores a credential for a server URL
func (s *FSCredentialStore) SetCredential(_ context.Context, serverURL string, cred *tokenpipe.Credential) error {
	key, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return err
	}
	s.servers[key] = cred
	return s.save()
}

// RemoveCredential removes a credential for a server URL
func (s *FSCredentialStore) RemoveCredential(_ context.Context, serverURL string) error {
	key, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return err
	}
	if _, ok := s.servers[key]; !ok {
		return nil
	}
	delete(s.servers, key)
	return s.save()
}

// ListServers returns all server URLs with stored credentials
func (s *FSCredentialStore) ListServers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return nil, err
	}
	servers := make([]string, 0, len(s.servers))
	for k := range s.servers {
		servers = append(servers, k)
	}
	sort.Strings(servers)
	return servers, nil
}

// save persists credentials to disk. Caller must hold s.mu for writing.
func (s *FSCredentialStore) save() error {
	// Ensure directory exists with restricted permissions
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file := credentialFile{Servers: s.servers}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	if s.passphrase != "" {
		if data, err = seal(s.passphrase, data); err != nil {
			return err
		}
	}

	// owner read/write only
	if err := writeAtomicFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.loadedMod = info.ModTime()
		s.loadedSize = info.Size()
	}
	return nil
}

// Path returns the path to the credentials file
func (s *FSCredentialStore) Path() string {
	return s.path
}
