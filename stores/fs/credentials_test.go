package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/panyam/tokenpipe"
)

func newTestCred(access string) *tokenpipe.Credential {
	return &tokenpipe.Credential{
		AccessToken:      access,
		RefreshToken:     "refresh-token",
		UserEmail:        "user@example.com",
		AccessExpiresAt:  time.Now().Add(1 * time.Hour).Truncate(time.Second),
		RefreshExpiresAt: time.Now().Add(24 * time.Hour).Truncate(time.Second),
		CreatedAt:        time.Now().Truncate(time.Second),
	}
}

func TestFSCredentialStore_GetSetCredential(t *testing.T) {
	ctx := context.Background()
	// Use temp directory
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "credentials.json")

	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	// Initially empty
	cred, err := store.GetCredential(ctx, "http://localhost:8080")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred != nil {
		t.Errorf("expected nil credential, got %+v", cred)
	}

	if err := store.SetCredential(ctx, "http://localhost:8080", newTestCred("test-token")); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}

	// Get it back
	cred, err = store.GetCredential(ctx, "http://localhost:8080")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred == nil {
		t.Fatal("expected credential, got nil")
	}
	if cred.AccessToken != "test-token" {
		t.Errorf("AccessToken = %v, want test-token", cred.AccessToken)
	}
	if cred.RefreshToken != "refresh-token" {
		t.Errorf("RefreshToken = %v, want refresh-token", cred.RefreshToken)
	}
}

func TestFSCredentialStore_URLNormalization(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	// Set with full URL
	store.SetCredential(ctx, "http://localhost:8080/api/v1", newTestCred("token"))

	// Should find with normalized URL
	cred, _ := store.GetCredential(ctx, "http://localhost:8080")
	if cred == nil {
		t.Error("expected to find credential with normalized URL")
	}

	// Should find with different path
	cred, _ = store.GetCredential(ctx, "http://localhost:8080/different/path")
	if cred == nil {
		t.Error("expected to find credential with different path")
	}
}

func TestFSCredentialStore_RemoveCredential(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	store.SetCredential(ctx, "http://localhost:8080", newTestCred("token"))
	store.SetCredential(ctx, "http://localhost:9090", newTestCred("token"))

	// Remove one
	if err := store.RemoveCredential(ctx, "http://localhost:8080"); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	// Removing again is not an error
	if err := store.RemoveCredential(ctx, "http://localhost:8080"); err != nil {
		t.Fatalf("RemoveCredential() twice error = %v", err)
	}

	// First should be gone
	cred, _ := store.GetCredential(ctx, "http://localhost:8080")
	if cred != nil {
		t.Error("credential should be removed")
	}

	// Second should still exist
	cred, _ = store.GetCredential(ctx, "http://localhost:9090")
	if cred == nil {
		t.Error("other credential should still exist")
	}
}

func TestFSCredentialStore_ListServers(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	store.SetCredential(ctx, "http://localhost:9090", newTestCred("token"))
	store.SetCredential(ctx, "http://localhost:8080", newTestCred("token"))
	store.SetCredential(ctx, "https://example.com", newTestCred("token"))

	servers, err := store.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}

	want := []string{"http://localhost:8080", "http://localhost:9090", "https://example.com"}
	if strings.Join(servers, ",") != strings.Join(want, ",") {
		t.Errorf("servers = %v, want %v", servers, want)
	}
}

func TestFSCredentialStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")

	store1, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	want := newTestCred("persisted-token")
	if err := store1.SetCredential(ctx, "http://localhost:8080", want); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("credentials file not created")
	}

	// Create new store from same file
	store2, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	cred, err := store2.GetCredential(ctx, "http://localhost:8080")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred == nil {
		t.Fatal("expected credential to be persisted")
	}
	if cred.AccessToken != want.AccessToken || !cred.AccessExpiresAt.Equal(want.AccessExpiresAt) ||
		!cred.RefreshExpiresAt.Equal(want.RefreshExpiresAt) || cred.UserEmail != want.UserEmail {
		t.Errorf("reloaded credential = %+v, want %+v", cred, want)
	}

	// A write by the second instance is seen by the first
	store2.SetCredential(ctx, "http://localhost:8080", newTestCred("rotated-token-from-another-process"))
	future := time.Now().Add(time.Minute)
	os.Chtimes(path, future, future)

	cred, _ = store1.GetCredential(ctx, "http://localhost:8080")
	if cred == nil || cred.AccessToken != "rotated-token-from-another-process" {
		t.Errorf("store1 did not pick up the other writer's change: %+v", cred)
	}
}

func TestFSCredentialStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	store.SetCredential(context.Background(), "http://localhost:8080", newTestCred("token"))

	// Check file permissions (should be 0600)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		t.Errorf("file permissions = %o, want 0600", mode)
	}

	// no temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestFSCredentialStore_Encrypted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	store, err := NewFSCredentialStore(path, "", WithPassphrase("correct horse"))
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	if err := store.SetCredential(ctx, "https://api.example.com", newTestCred("secret-access-token")); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "secret-access-token") {
		t.Error("token stored in plaintext")
	}

	reopened, err := NewFSCredentialStore(path, "", WithPassphrase("correct horse"))
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	cred, _ := reopened.GetCredential(ctx, "https://api.example.com")
	if cred == nil || cred.AccessToken != "secret-access-token" {
		t.Errorf("decrypted credential = %+v", cred)
	}

	_, err = NewFSCredentialStore(path, "", WithPassphrase("wrong"))
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong passphrase error = %v, want ErrDecrypt", err)
	}
}

func TestFSCredentialStore_BoundStore(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatal(err)
	}
	store := tokenpipe.Bind(fsStore, "https://api.example.com")

	if cred, err := store.Load(ctx); err != nil || cred != nil {
		t.Fatalf("Load() = %v, %v; want nil, nil", cred, err)
	}
	store.Save(ctx, newTestCred("a"))
	if cred, _ := store.Load(ctx); cred == nil || cred.AccessToken != "a" {
		t.Errorf("Load() after Save = %+v", cred)
	}
	store.Clear(ctx)
	if cred, _ := store.Load(ctx); cred != nil {
		t.Errorf("Load() after Clear = %+v", cred)
	}
}

func TestFSCredentialStore_DefaultPath(t *testing.T) {
	path, err := DefaultPath("testapp")
	if err != nil {
		t.Skipf("no config directory: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "testapp" {
		t.Errorf("path = %s, want testapp directory", path)
	}
	if filepath.Base(path) != "credentials.json" {
		t.Errorf("path = %s, want credentials.json", path)
	}
}
