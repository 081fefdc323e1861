package tokenpipe

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestCredential_AccessExpiring(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		margin    time.Duration
		want      bool
	}{
		{"unknown expiry", time.Time{}, time.Minute, false},
		{"well in the future", baseTime.Add(time.Hour), time.Minute, false},
		{"inside margin", baseTime.Add(30 * time.Second), time.Minute, true},
		{"exactly at margin", baseTime.Add(time.Minute), time.Minute, true},
		{"already expired", baseTime.Add(-time.Second), 0, true},
		{"expires now without margin", baseTime, 0, true},
		{"one second left without margin", baseTime.Add(time.Second), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{AccessToken: "a", AccessExpiresAt: tt.expiresAt}
			if got := c.AccessExpiring(baseTime, tt.margin); got != tt.want {
				t.Errorf("AccessExpiring() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredential_EffectiveMargin(t *testing.T) {
	tests := []struct {
		name     string
		created  time.Time
		lifetime time.Duration
		want     time.Duration
	}{
		{"long lived keeps margin", baseTime, time.Hour, time.Minute},
		{"exactly twice margin", baseTime, 2 * time.Minute, time.Minute},
		{"shorter than margin", baseTime, 30 * time.Second, 15 * time.Second},
		{"unknown issue time", time.Time{}, 30 * time.Second, time.Minute},
		{"issued already expired", baseTime, -time.Second, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{AccessToken: "a", CreatedAt: tt.created, AccessExpiresAt: baseTime.Add(tt.lifetime)}
			if got := c.EffectiveMargin(time.Minute); got != tt.want {
				t.Errorf("EffectiveMargin() = %v, want %v", got, tt.want)
			}
		})
	}

	fresh := &Credential{AccessToken: "a", CreatedAt: baseTime, AccessExpiresAt: baseTime.Add(30 * time.Second)}
	if fresh.AccessExpiring(baseTime, fresh.EffectiveMargin(DefaultExpiryMargin)) {
		t.Error("a just-issued 30s token should not be expiring")
	}
}

func TestCredential_RefreshExpiring(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		expiresAt time.Time
		want      bool
	}{
		{"no refresh token", "", baseTime.Add(time.Hour), true},
		{"unknown expiry", "r", time.Time{}, false},
		{"valid", "r", baseTime.Add(time.Hour), false},
		{"inside margin", "r", baseTime.Add(10 * time.Second), true},
		{"expired", "r", baseTime.Add(-time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{AccessToken: "a", RefreshToken: tt.token, RefreshExpiresAt: tt.expiresAt}
			if got := c.RefreshExpiring(baseTime, DefaultExpiryMargin); got != tt.want {
				t.Errorf("RefreshExpiring() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredential_Inherit(t *testing.T) {
	old := &Credential{
		AccessToken:      "old-access",
		RefreshToken:     "old-refresh",
		RefreshExpiresAt: baseTime.Add(24 * time.Hour),
		TokenType:        "Bearer",
		Scope:            "read",
		UserID:           "u1",
		UserEmail:        "user@example.com",
	}

	// server rotated the refresh token
	rotated := old.Inherit(&Credential{
		AccessToken:      "new-access",
		RefreshToken:     "new-refresh",
		RefreshExpiresAt: baseTime.Add(48 * time.Hour),
	})
	if rotated.RefreshToken != "new-refresh" || !rotated.RefreshExpiresAt.Equal(baseTime.Add(48*time.Hour)) {
		t.Errorf("rotated refresh = %q/%v", rotated.RefreshToken, rotated.RefreshExpiresAt)
	}
	if rotated.UserEmail != "user@example.com" || rotated.UserID != "u1" || rotated.Scope != "read" || rotated.TokenType != "Bearer" {
		t.Errorf("identity not inherited: %+v", rotated)
	}

	// server kept the refresh token
	kept := old.Inherit(&Credential{AccessToken: "new-access"})
	if kept.RefreshToken != "old-refresh" || !kept.RefreshExpiresAt.Equal(old.RefreshExpiresAt) {
		t.Errorf("kept refresh = %q/%v", kept.RefreshToken, kept.RefreshExpiresAt)
	}

	// new identity wins
	switched := old.Inherit(&Credential{AccessToken: "x", UserEmail: "other@example.com"})
	if switched.UserEmail != "other@example.com" {
		t.Errorf("UserEmail = %q, want other@example.com", switched.UserEmail)
	}

	if old.AccessToken != "old-access" {
		t.Error("Inherit modified the receiver")
	}
}

func TestCredential_AuthorizationHeader(t *testing.T) {
	c := &Credential{AccessToken: "abc"}
	if got := c.AuthorizationHeader(); got != "Bearer abc" {
		t.Errorf("AuthorizationHeader() = %q", got)
	}
}

func TestCredential_OAuth2Conversion(t *testing.T) {
	c := &Credential{
		AccessToken:     "a",
		RefreshToken:    "r",
		AccessExpiresAt: baseTime.Add(time.Hour),
	}
	tok := c.OAuth2Token()
	if tok.AccessToken != "a" || tok.RefreshToken != "r" || tok.TokenType != "Bearer" || !tok.Expiry.Equal(c.AccessExpiresAt) {
		t.Errorf("OAuth2Token() = %+v", tok)
	}

	in := (&oauth2.Token{
		AccessToken:  "a2",
		RefreshToken: "r2",
		TokenType:    "bearer",
		Expiry:       baseTime.Add(5 * time.Minute),
	}).WithExtra(map[string]any{
		"refresh_expires_in": float64(3600),
		"scope":              "read write",
	})
	got := CredentialFromOAuth2(in, baseTime)
	if got.AccessToken != "a2" || got.RefreshToken != "r2" || got.TokenType != "bearer" {
		t.Errorf("tokens = %+v", got)
	}
	if !got.AccessExpiresAt.Equal(baseTime.Add(5 * time.Minute)) {
		t.Errorf("AccessExpiresAt = %v", got.AccessExpiresAt)
	}
	if !got.RefreshExpiresAt.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("RefreshExpiresAt = %v, want %v", got.RefreshExpiresAt, baseTime.Add(time.Hour))
	}
	if got.Scope != "read write" {
		t.Errorf("Scope = %q", got.Scope)
	}
	if !got.CreatedAt.Equal(baseTime) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
}
