//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"

	"github.com/panyam/tokenpipe"
)

// newTestStore returns a store in a fresh namespace on the Datastore emulator.
func newTestStore(t *testing.T) *CredentialStore {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	project := os.Getenv("DATASTORE_PROJECT_ID")
	if project == "" {
		project = "tokenpipe-test"
	}
	client, err := datastore.NewClient(ctx, project)
	if err != nil {
		t.Fatalf("datastore.NewClient() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewCredentialStore(client, "test-"+uuid.NewString())
}

func TestCredentialStore_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cred, err := store.GetCredential(ctx, "https://api.example.com")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred != nil {
		t.Errorf("expected nil credential, got %+v", cred)
	}

	want := &tokenpipe.Credential{
		AccessToken:      "access",
		RefreshToken:     "refresh",
		AccessExpiresAt:  time.Now().Add(time.Hour).Truncate(time.Microsecond),
		RefreshExpiresAt: time.Now().Add(24 * time.Hour).Truncate(time.Microsecond),
		UserEmail:        "user@example.com",
	}
	if err := store.SetCredential(ctx, "https://api.example.com/some/path", want); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}

	got, err := store.GetCredential(ctx, "https://api.example.com")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if got == nil || got.AccessToken != "access" || got.RefreshToken != "refresh" || got.UserEmail != want.UserEmail {
		t.Fatalf("credential = %+v", got)
	}
	if !got.AccessExpiresAt.Equal(want.AccessExpiresAt) {
		t.Errorf("AccessExpiresAt = %v, want %v", got.AccessExpiresAt, want.AccessExpiresAt)
	}

	if err := store.RemoveCredential(ctx, "https://api.example.com"); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	if got, _ := store.GetCredential(ctx, "https://api.example.com"); got != nil {
		t.Error("credential should be removed")
	}
}

func TestCredentialStore_ListServers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, u := range []string{"https://b.example.com", "https://a.example.com"} {
		if err := store.SetCredential(ctx, u, &tokenpipe.Credential{AccessToken: "x"}); err != nil {
			t.Fatalf("SetCredential(%s) error = %v", u, err)
		}
	}

	servers, err := store.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}
	if strings.Join(servers, ",") != "https://a.example.com,https://b.example.com" {
		t.Errorf("servers = %v", servers)
	}
}
