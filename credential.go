package tokenpipe

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is how long before expiry a token is already treated as expired.
const DefaultExpiryMargin = 60 * time.Second

// Credential holds the authenticated session's tokens.
// A Credential is never modified after construction; refreshing produces a new one.
type Credential struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
	TokenType        string    `json:"token_type,omitempty"`
	Scope            string    `json:"scope,omitempty"`
	UserID           string    `json:"user_id,omitempty"`
	UserEmail        string    `json:"user_email,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsExpired reports whether now+margin has reached expiresAt.
func IsExpired(expiresAt, now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(expiresAt)
}

// AccessExpiring returns true if the access token is expired or expires within margin.
// An unknown (zero) expiry is never considered expiring.
func (c *Credential) AccessExpiring(now time.Time, margin time.Duration) bool {
	if c.AccessExpiresAt.IsZero() {
		return false
	}
	return IsExpired(c.AccessExpiresAt, now, margin)
}

// EffectiveMargin returns margin, shrunk to half the access token's issued
// lifetime when the server hands out tokens that live no longer than twice
// margin. Without it a short-lived token would be treated as expired the
// moment it arrives.
func (c *Credential) EffectiveMargin(margin time.Duration) time.Duration {
	if c.CreatedAt.IsZero() || c.AccessExpiresAt.IsZero() {
		return margin
	}
	lifetime := c.AccessExpiresAt.Sub(c.CreatedAt)
	if lifetime <= 0 {
		return margin
	}
	if half := lifetime / 2; half < margin {
		return half
	}
	return margin
}

// RefreshExpiring returns true if the refresh token is missing, expired or
// expires within margin. An unknown (zero) expiry is left to the server to judge.
func (c *Credential) RefreshExpiring(now time.Time, margin time.Duration) bool {
	if !c.HasRefreshToken() {
		return true
	}
	if c.RefreshExpiresAt.IsZero() {
		return false
	}
	return IsExpired(c.RefreshExpiresAt, now, margin)
}

// HasRefreshToken returns true if a refresh token is available
func (c *Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// Inherit returns a copy of next with the identity fields of c filled in
// where next leaves them empty. A rotated-away refresh token is kept only
// when the server did not issue a new one.
func (c *Credential) Inherit(next *Credential) *Credential {
	out := *next
	if out.RefreshToken == "" {
		out.RefreshToken = c.RefreshToken
		if out.RefreshExpiresAt.IsZero() {
			out.RefreshExpiresAt = c.RefreshExpiresAt
		}
	}
	if out.UserID == "" {
		out.UserID = c.UserID
	}
	if out.UserEmail == "" {
		out.UserEmail = c.UserEmail
	}
	if out.Scope == "" {
		out.Scope = c.Scope
	}
	if out.TokenType == "" {
		out.TokenType = c.TokenType
	}
	return &out
}

// AuthorizationHeader returns the value to place in an Authorization header.
func (c *Credential) AuthorizationHeader() string {
	return "Bearer " + c.AccessToken
}

// OAuth2Token converts the credential into an oauth2.Token.
func (c *Credential) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
		Expiry:       c.AccessExpiresAt,
	}
	if c.TokenType != "" {
		tok.TokenType = c.TokenType
	}
	return tok
}

// CredentialFromOAuth2 builds a Credential from an oauth2.Token.
// A "refresh_expires_in" extra field, when the server sends one, sets RefreshExpiresAt.
func CredentialFromOAuth2(tok *oauth2.Token, now time.Time) *Credential {
	cred := &Credential{
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		AccessExpiresAt: tok.Expiry,
		TokenType:       tok.TokenType,
		CreatedAt:       now,
	}
	if secs := extraSeconds(tok.Extra("refresh_expires_in")); secs > 0 {
		cred.RefreshExpiresAt = now.Add(time.Duration(secs) * time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	return cred
}

func extraSeconds(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
