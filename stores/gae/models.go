//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	"github.com/panyam/tokenpipe"
)

// CredentialEntity is the Datastore entity for stored credentials
// Key name: normalized server URL
type CredentialEntity struct {
	Key              *datastore.Key `datastore:"__key__"`
	AccessToken      string         `datastore:"access_token,noindex"`
	RefreshToken     string         `datastore:"refresh_token,noindex"`
	AccessExpiresAt  time.Time      `datastore:"access_expires_at"`
	RefreshExpiresAt time.Time      `datastore:"refresh_expires_at"`
	TokenType        string         `datastore:"token_type,noindex"`
	Scope            string         `datastore:"scope,noindex"`
	UserID           string         `datastore:"user_id"`
	UserEmail        string         `datastore:"user_email"`
	CreatedAt        time.Time      `datastore:"created_at"`
	UpdatedAt        time.Time      `datastore:"updated_at"`
}

func (e *CredentialEntity) ToCredential() *tokenpipe.Credential {
	return &tokenpipe.Credential{
		AccessToken:      e.AccessToken,
		RefreshToken:     e.RefreshToken,
		AccessExpiresAt:  e.AccessExpiresAt,
		RefreshExpiresAt: e.RefreshExpiresAt,
		TokenType:        e.TokenType,
		Scope:            e.Scope,
		UserID:           e.UserID,
		UserEmail:        e.UserEmail,
		CreatedAt:        e.CreatedAt,
	}
}

func CredentialToEntity(c *tokenpipe.Credential, key *datastore.Key) *CredentialEntity {
	return &CredentialEntity{
		Key:              key,
		AccessToken:      c.AccessToken,
		RefreshToken:     c.RefreshToken,
		AccessExpiresAt:  c.AccessExpiresAt,
		RefreshExpiresAt: c.RefreshExpiresAt,
		TokenType:        c.TokenType,
		Scope:            c.Scope,
		UserID:           c.UserID,
		UserEmail:        c.UserEmail,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        time.Now(),
	}
}
