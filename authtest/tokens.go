package authtest

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/tokenpipe"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrTokenUnknown = errors.New("refresh token not found")
)

type user struct {
	ID           string
	Email        string
	Username     string
	PasswordHash []byte
}

type refreshToken struct {
	UserID    string
	ExpiresAt time.Time
	Revoked   bool
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// AddUser registers a user directly and returns its ID.
func (s *Server) AddUser(email, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, "", password)
}

func (s *Server) addUserLocked(email, username, password string) (string, error) {
	key := strings.ToLower(email)
	if _, ok := s.users[key]; ok {
		return "", ErrUserExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	u := &user{ID: uuid.NewString(), Email: email, Username: username, PasswordHash: hash}
	s.users[key] = u
	return u.ID, nil
}

// checkPassword finds a user by email or username and verifies the password.
func (s *Server) checkPassword(login, password string) *user {
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(login)]
	if !ok {
		for _, candidate := range s.users {
			if candidate.Username != "" && candidate.Username == login {
				u, ok = candidate, true
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return nil
	}
	return u
}

// Session mints a credential for userID directly, bypassing sign-in.
// Tests use it to seed stores with tokens that are already (nearly) expired.
func (s *Server) Session(userID string, accessExpiresAt, refreshExpiresAt time.Time) (*tokenpipe.Credential, error) {
	access, err := s.MintAccessToken(userID, accessExpiresAt)
	if err != nil {
		return nil, err
	}
	refresh, err := s.newRefreshToken(userID, refreshExpiresAt)
	if err != nil {
		return nil, err
	}
	return &tokenpipe.Credential{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
		TokenType:        "Bearer",
		UserID:           userID,
		CreatedAt:        s.Now(),
	}, nil
}

// MintAccessToken signs an access token for userID expiring at expiresAt.
func (s *Server) MintAccessToken(userID string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"type": "access",
		"iat":  s.Now().Unix(),
		"exp":  expiresAt.Unix(),
		// two tokens minted in the same second must still differ
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateAccessToken checks signature, type and expiry and returns the subject.
func (s *Server) ValidateAccessToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.SecretKey), nil
	}, jwt.WithTimeFunc(s.Now), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	if tokenType, ok := claims["type"].(string); !ok || tokenType != "access" {
		return "", fmt.Errorf("invalid token type")
	}
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("missing subject")
	}
	return userID, nil
}

// RevokeRefreshTokens revokes every refresh token issued to userID.
func (s *Server) RevokeRefreshTokens(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.refreshTokens {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
}

func (s *Server) newRefreshToken(userID string, expiresAt time.Time) (string, error) {
	tok, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[tok] = &refreshToken{UserID: userID, ExpiresAt: expiresAt}
	return tok, nil
}

// rotate consumes presented and issues a replacement.
func (s *Server) rotate(presented string) (userID, next string, expiresAt time.Time, err error) {
	now := s.Now()
	s.mu.Lock()
	rt, ok := s.refreshTokens[presented]
	if !ok {
		s.mu.Unlock()
		return "", "", time.Time{}, ErrTokenUnknown
	}
	if rt.Revoked {
		s.mu.Unlock()
		return "", "", time.Time{}, errors.New("token has been revoked")
	}
	if !now.Before(rt.ExpiresAt) {
		s.mu.Unlock()
		return "", "", time.Time{}, errors.New("token has expired")
	}
	rt.Revoked = true
	s.mu.Unlock()

	expiresAt = now.Add(s.RefreshTokenExpiry)
	next, err = s.newRefreshToken(rt.UserID, expiresAt)
	return rt.UserID, next, expiresAt, err
}

// claimedExpiry reads exp without verifying anything.
func claimedExpiry(tokenString string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
