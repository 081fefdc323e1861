package tokenpipe

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTerminal  bool
		wantTransient bool
	}{
		{"rejected", Rejected("server said %s", "invalid_grant"), true, false},
		{"session expired", &AuthError{Op: "authorize", Message: "session expired", Err: ErrSessionExpired}, true, false},
		{"unavailable", Unavailable(errors.New("connection refused")), false, true},
		{"timeout", Unavailable(context.DeadlineExceeded), false, true},
		{"wrapped rejected", fmt.Errorf("refresh: %w", Rejected("revoked")), true, false},
		{"no credential", &AuthError{Op: "authorize", Message: "no credential", Err: ErrNoCredential}, false, false},
		{"plain", errors.New("boom"), false, false},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminal(tt.err); got != tt.wantTerminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.wantTerminal)
			}
			if got := IsTransient(tt.err); got != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.wantTransient)
			}
		})
	}
}

func TestUnavailable(t *testing.T) {
	if Unavailable(nil) != nil {
		t.Error("Unavailable(nil) should be nil")
	}

	once := Unavailable(context.DeadlineExceeded)
	if Unavailable(once) != once {
		t.Error("Unavailable should not wrap a transient error twice")
	}
	if !errors.Is(once, context.DeadlineExceeded) {
		t.Error("cause lost")
	}
}

func TestAuthError(t *testing.T) {
	err := &AuthError{Op: "refresh", Message: "token refresh timeout", Err: ErrRefreshUnavailable}
	if got := err.Error(); got != "tokenpipe refresh: token refresh timeout: refresh unavailable" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrRefreshUnavailable) {
		t.Error("errors.Is through AuthError failed")
	}

	bare := &AuthError{Op: "login", Message: "no token received from server"}
	if got := bare.Error(); got != "tokenpipe login: no token received from server" {
		t.Errorf("Error() = %q", got)
	}
}
