// Package grpc runs the tokenpipe request pipeline over gRPC.
//
// UnaryClientInterceptor and StreamClientInterceptor attach the current
// credential as bearer metadata. The server-side interceptors verify that
// metadata and put the caller's user ID in the handler context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/panyam/tokenpipe"
)

// DefaultMetadataKeyAuthorization is the gRPC metadata key carrying the bearer token
const DefaultMetadataKeyAuthorization = "authorization"

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthorization is the gRPC metadata key for the bearer token.
	// Defaults to "authorization".
	MetadataKeyAuthorization string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

// CredentialToOutgoingContext returns ctx with cred's bearer token in the
// outgoing metadata, replacing any token already there. A nil cred returns
// ctx unchanged.
func CredentialToOutgoingContext(ctx context.Context, cred *tokenpipe.Credential, key string) context.Context {
	if cred == nil {
		return ctx
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	md.Set(key, cred.AuthorizationHeader())
	return metadata.NewOutgoingContext(ctx, md)
}

// BearerFromIncomingContext returns the bearer token from the incoming
// metadata, or an empty string.
func BearerFromIncomingContext(ctx context.Context) string {
	return BearerFromIncomingContextWithConfig(ctx, nil)
}

// BearerFromIncomingContextWithConfig returns the bearer token using the specified config.
func BearerFromIncomingContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(config.MetadataKeyAuthorization)
	if len(values) == 0 {
		return ""
	}
	token, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

type userIDKey struct{}

// ContextWithUserID returns ctx carrying the authenticated user ID.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user ID the server interceptors verified.
// Returns empty string if no user is authenticated.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}
