package auth

import (
	"context"
	"fmt"

	"github.com/desertthunder/podtasks/internal/shared"
	"golang.org/x/crypto/bcrypt"
)

const keyCost = 12

// HashKey returns the bcrypt hash to store in config for an API key.
func HashKey(key string) (string, error) {
	if len(key) < 16 {
		return "", fmt.Errorf("%w: api key must be at least 16 characters", shared.ErrInvalidArgument)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), keyCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// KeyAuthenticator matches API keys against configured bcrypt hashes.
//
// Keys marked legacy are accepted but never grant admin: they are scoped to their own user.
type KeyAuthenticator struct {
	keys []shared.APIKeyConfig
}

// NewKeyAuthenticator creates a KeyAuthenticator over keys.
func NewKeyAuthenticator(keys []shared.APIKeyConfig) *KeyAuthenticator {
	return &KeyAuthenticator{keys: keys}
}

// Authenticate implements [Authenticator].
func (a *KeyAuthenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(credential)) != nil {
			continue
		}
		return Identity{UserID: k.UserID, Admin: k.Admin && !k.Legacy, Method: MethodAPIKey}, nil
	}
	return Identity{}, fmt.Errorf("%w: unknown api key", shared.ErrAuthFailed)
}
