//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/panyam/tokenpipe"
)

// AutoMigrate runs database migrations for all tokenpipe tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CredentialModel{})
}

// CredentialStore implements tokenpipe.ServerCredentialStore using GORM
type CredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) GetCredential(ctx context.Context, serverURL string) (*tokenpipe.Credential, error) {
	key, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	var model CredentialModel
	if err := s.db.WithContext(ctx).First(&model, "server_url = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToCredential(), nil
}

// SetCredential upserts the row for serverURL.
func (s *CredentialStore) SetCredential(ctx context.Context, serverURL string, cred *tokenpipe.Credential) error {
	key, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return err
	}
	model := CredentialToModel(key, cred)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_url"}},
		UpdateAll: true,
	}).Create(model).Error
}

func (s *CredentialStore) RemoveCredential(ctx context.Context, serverURL string) error {
	key, err := tokenpipe.NormalizeServerURL(serverURL)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&CredentialModel{}, "server_url = ?", key).Error
}

func (s *CredentialStore) ListServers(ctx context.Context) ([]string, error) {
	var servers []string
	err := s.db.WithContext(ctx).Model(&CredentialModel{}).
		Order("server_url").
		Pluck("server_url", &servers).Error
	if err != nil {
		return nil, err
	}
	return servers, nil
}

// DeleteExpired removes credentials whose refresh token expired before the given time.
// Rows with an unknown refresh expiry are kept.
func (s *CredentialStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("refresh_expires_at > ? AND refresh_expires_at < ?", time.Time{}, before).
		Delete(&CredentialModel{})
	return result.RowsAffected, result.Error
}
