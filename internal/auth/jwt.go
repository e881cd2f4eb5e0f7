package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/golang-jwt/jwt/v5"
)

const roleAdmin = "admin"

// Claims is the token payload.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies and issues HS256 tokens.
type JWTAuthenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTAuthenticator creates a JWTAuthenticator. Issued tokens expire after ttl.
func NewJWTAuthenticator(secret string, ttl time.Duration) *JWTAuthenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuthenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for userID.
func (a *JWTAuthenticator) Issue(userID int64, admin bool) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("%w: user id must be positive", shared.ErrInvalidArgument)
	}

	now := a.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	if admin {
		claims.Role = roleAdmin
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate implements [Authenticator].
func (a *JWTAuthenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(credential, &claims,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, fmt.Errorf("%w: %w", shared.ErrAuthFailed, shared.ErrTokenExpired)
	case err != nil:
		return Identity{}, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	case claims.UserID <= 0:
		return Identity{}, fmt.Errorf("%w: token has no user", shared.ErrAuthFailed)
	}
	return Identity{UserID: claims.UserID, Admin: claims.Role == roleAdmin, Method: MethodJWT}, nil
}
