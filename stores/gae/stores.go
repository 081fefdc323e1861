//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/panyam/tokenpipe"
)

// KindCredential is the Datastore kind for stored credentials
const KindCredential = "Credential"

// CredentialStore implements tokenpipe.ServerCredentialStore using Google Cloud Datastore
type CredentialStore struct {
	client    *datastore.Client
	namespace string
}

// NewCredentialStore creates a new Datastore-backed CredentialStore
func NewCredentialStore(client *datastore.Client, namespace string) *CredentialStore {
	return &CredentialStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *CredentialStore) namespacedKey(name string) *datastore.Key {
	key := datastore.NameKey(KindCredential, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *CredentialStore) GetCredential(ctx context.Context, serverURL string) (*tokenpipe.Credential, error) {
	name, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	var entity CredentialEntity
	if err := s.client.Get(ctx, s.namespacedKey(name), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, nil
		}
		return nil, err
	}
	return entity.ToCredential(), nil
}

func (s *CredentialStore) SetCredential(ctx context.Context, serverURL string, cred *tokenpipe.Credential) error {
	name, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return err
	}
	key := s.namespacedKey(name)
	_, err = s.client.Put(ctx, key, CredentialToEntity(cred, key))
	return err
}

// RemoveCredential deletes the entity for serverURL. Deleting a missing key is not an error.
func (s *CredentialStore) RemoveCredential(ctx context.Context, serverURL string) error {
	name, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return err
	}
	return s.client.Delete(ctx, s.namespacedKey(name))
}

func (s *CredentialStore) ListServers(ctx context.Context) ([]string, error) {
	query := datastore.NewQuery(KindCredential).KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var servers []string
	it := s.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		servers = append(servers, key.Name)
	}
	sort.Strings(servers)
	return servers, nil
}
