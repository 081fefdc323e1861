//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// tokenpipe.ServerCredentialStore. It supports multi-tenancy through
// Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses one Datastore kind:
//   - Credential: keyed by normalized server URL
//
// # Namespacing
//
// Pass a namespace when creating the store to isolate tenants:
//
//	store := gae.NewCredentialStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewCredentialStore(client, "")  // default namespace
//	creds := tokenpipe.Bind(store, "https://api.example.com")
package gae
