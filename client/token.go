package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/panyam/tokenpipe"
)

// TokenRequest is the JSON body sent to the sign-in, sign-up and refresh endpoints.
// Refresh carries the refresh token a second time for servers that expect
// {"refresh": "..."} instead of the OAuth2 field name.
type TokenRequest struct {
	GrantType    string `json:"grant_type,omitempty"`
	Username     string `json:"username,omitempty"`
	Email        string `json:"email,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Refresh      string `json:"refresh,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

// TokenResponse is the response from a token endpoint. Both OAuth2 style
// (access_token/refresh_token) and short style (access/refresh) bodies decode into it.
type TokenResponse struct {
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
	UserID           string `json:"user_id,omitempty"`

	Access  string `json:"access,omitempty"`
	Refresh string `json:"refresh,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorDesc string `json:"error_description,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Code      string `json:"code,omitempty"`
}

// HasTokens returns true if the response carries an access token
func (r *TokenResponse) HasTokens() bool {
	return r.AccessToken != "" || r.Access != ""
}

// Reason returns the most descriptive error text in the response
func (r *TokenResponse) Reason(status int) string {
	switch {
	case r.ErrorDesc != "":
		return r.ErrorDesc
	case r.Detail != "":
		return r.Detail
	case r.Error != "":
		return r.Error
	case r.Code != "":
		return r.Code
	}
	return fmt.Sprintf("HTTP %d", status)
}

// Rejects reports whether the response says the presented token itself is
// invalid or expired, as opposed to any other failure.
func (r *TokenResponse) Rejects(status int) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	switch r.Error {
	case "invalid_grant", "invalid_token":
		return true
	}
	return r.Code == "token_not_valid"
}

// Credential converts a successful response into a Credential issued at now.
// Missing lifetimes fall back to the "exp" claim when the tokens are JWTs.
func (r *TokenResponse) Credential(now time.Time) *tokenpipe.Credential {
	cred := &tokenpipe.Credential{
		AccessToken:  firstNonEmpty(r.AccessToken, r.Access),
		RefreshToken: firstNonEmpty(r.RefreshToken, r.Refresh),
		TokenType:    r.TokenType,
		Scope:        r.Scope,
		UserID:       r.UserID,
		CreatedAt:    now,
	}
	if r.ExpiresIn > 0 {
		cred.AccessExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	} else {
		cred.AccessExpiresAt = jwtExpiry(cred.AccessToken)
	}
	if r.RefreshExpiresIn > 0 {
		cred.RefreshExpiresAt = now.Add(time.Duration(r.RefreshExpiresIn) * time.Second)
	} else if cred.RefreshToken != "" {
		cred.RefreshExpiresAt = jwtExpiry(cred.RefreshToken)
	}
	return cred
}

// jwtExpiry reads the exp claim without verifying the signature. The client
// cannot verify tokens it did not sign; it only needs to know when to refresh.
// Opaque tokens yield the zero time.
func jwtExpiry(token string) time.Time {
	if strings.Count(token, ".") != 2 {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// postToken sends a token request and decodes whatever JSON comes back.
// Only transport and decoding problems are returned as errors; the caller
// interprets the status code.
func postToken(ctx context.Context, httpClient *http.Client, tokenURL string, body any) (*TokenResponse, int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	var tokenResp TokenResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &tokenResp); err != nil {
			if resp.StatusCode == http.StatusOK {
				return nil, resp.StatusCode, fmt.Errorf("invalid response from server: %w", err)
			}
			// error pages are often not JSON; the status code is enough
		}
	}
	return &tokenResp, resp.StatusCode, nil
}

// DetectUsernameType attempts to detect what type of username was provided
func DetectUsernameType(username string) string {
	if strings.Contains(username, "@") {
		return "email"
	}
	// Check if it looks like a phone number (starts with + or digit)
	if len(username) > 0 && (username[0] == '+' || (username[0] >= '0' && username[0] <= '9')) {
		return "phone"
	}
	return "username"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
