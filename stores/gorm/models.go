//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	"github.com/panyam/tokenpipe"
)

// CredentialModel is the GORM model for stored credentials
type CredentialModel struct {
	ServerURL        string `gorm:"primaryKey;size:255"`
	AccessToken      string `gorm:"type:text"`
	RefreshToken     string `gorm:"type:text"`
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time `gorm:"index"`
	TokenType        string    `gorm:"size:32"`
	Scope            string    `gorm:"size:255"`
	UserID           string    `gorm:"size:64;index"`
	UserEmail        string    `gorm:"size:320"`
	IssuedAt         time.Time
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (CredentialModel) TableName() string {
	return "credentials"
}

func (m *CredentialModel) ToCredential() *tokenpipe.Credential {
	return &tokenpipe.Credential{
		AccessToken:      m.AccessToken,
		RefreshToken:     m.RefreshToken,
		AccessExpiresAt:  m.AccessExpiresAt,
		RefreshExpiresAt: m.RefreshExpiresAt,
		TokenType:        m.TokenType,
		Scope:            m.Scope,
		UserID:           m.UserID,
		UserEmail:        m.UserEmail,
		CreatedAt:        m.IssuedAt,
	}
}

func CredentialToModel(serverURL string, c *tokenpipe.Credential) *CredentialModel {
	return &CredentialModel{
		ServerURL:        serverURL,
		AccessToken:      c.AccessToken,
		RefreshToken:     c.RefreshToken,
		AccessExpiresAt:  c.AccessExpiresAt,
		RefreshExpiresAt: c.RefreshExpiresAt,
		TokenType:        c.TokenType,
		Scope:            c.Scope,
		UserID:           c.UserID,
		UserEmail:        c.UserEmail,
		IssuedAt:         c.CreatedAt,
	}
}
