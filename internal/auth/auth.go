// package auth resolves bearer credentials to an [Identity]
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/podtasks/internal/shared"
)

// Authentication methods recorded on an [Identity].
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID int64
	Admin  bool
	Method string
}

// Authenticator resolves a credential to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// Chain sends credentials that look like a JWT (three dot-separated segments) to Tokens and everything
// else to Keys. Either may be nil.
type Chain struct {
	Tokens Authenticator
	Keys   Authenticator
}

// Authenticate implements [Authenticator].
func (c Chain) Authenticate(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: no credential", shared.ErrAuthFailed)
	}

	next := c.Keys
	if strings.Count(credential, ".") == 2 {
		next = c.Tokens
	}
	if next == nil {
		return Identity{}, fmt.Errorf("%w: unsupported credential", shared.ErrAuthFailed)
	}
	return next.Authenticate(ctx, credential)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by [WithIdentity].
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
