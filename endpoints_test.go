package tokenpipe

import "testing"

func TestExemptions(t *testing.T) {
	e := DefaultExemptions().With("/health", "grpc.health.v1.Health/Check")

	tests := []struct {
		target string
		want   bool
	}{
		{"/api/auth/login/", true},
		{"/api/auth/login", true},
		{"/api/auth/registration/", true},
		{"/api/auth/token/refresh/", true},
		{"/health", true},
		{"/grpc.health.v1.Health/Check", true},
		{"/api/auth/login/history", false},
		{"/api/auth/login/../token/refresh/", true},
		{"/api/items/", false},
		{"/v2/api/auth/login/", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if got := e.IsExempt(tt.target); got != tt.want {
				t.Errorf("IsExempt(%q) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}

func TestExemptions_WithDoesNotModifyReceiver(t *testing.T) {
	base := NewExemptions("/a")
	extended := base.With("/b")

	if base.IsExempt("/b") {
		t.Error("With modified the receiver")
	}
	if !extended.IsExempt("/a") || !extended.IsExempt("/b") {
		t.Errorf("extended = %v", extended)
	}

	var empty Exemptions
	if empty.IsExempt("/a") {
		t.Error("nil allow-list exempts nothing")
	}
	if !empty.With("/a").IsExempt("/a") {
		t.Error("With on nil allow-list")
	}
}
