package tokenpipe

import (
	"path"
	"strings"
)

// Default endpoint paths of the mobile API this pipeline was built for.
const (
	DefaultLoginPath    = "/api/auth/login/"
	DefaultRegisterPath = "/api/auth/registration/"
	DefaultRefreshPath  = "/api/auth/token/refresh/"
)

// Exemptions is the allow-list of targets that must never carry a credential:
// URL paths for HTTP, full method names ("/pkg.Service/Method") for gRPC.
// Matching is exact after cleaning, so "/api/auth/login" and "/api/auth/login/"
// are the same target but "/api/auth/login/history" is not exempt.
// It is built once at configuration time and only read afterwards.
type Exemptions map[string]bool

// NewExemptions creates an allow-list of the given targets.
func NewExemptions(targets ...string) Exemptions {
	e := make(Exemptions, len(targets))
	for _, t := range targets {
		if t = cleanTarget(t); t != "" {
			e[t] = true
		}
	}
	return e
}

// DefaultExemptions exempts the default sign-in, sign-up and refresh endpoints.
func DefaultExemptions() Exemptions {
	return NewExemptions(DefaultLoginPath, DefaultRegisterPath, DefaultRefreshPath)
}

// With returns a new allow-list containing e plus targets.
func (e Exemptions) With(targets ...string) Exemptions {
	out := make(Exemptions, len(e)+len(targets))
	for k := range e {
		out[k] = true
	}
	for _, t := range targets {
		if t = cleanTarget(t); t != "" {
			out[t] = true
		}
	}
	return out
}

// IsExempt reports whether target is on the allow-list.
func (e Exemptions) IsExempt(target string) bool {
	if len(e) == 0 {
		return false
	}
	return e[cleanTarget(target)]
}

func cleanTarget(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if !strings.HasPrefix(t, "/") {
		t = "/" + t
	}
	return path.Clean(t)
}
