// Package identity resolves bearer tokens to user ids. The core only
// consumes the Verify contract; token issuance lives elsewhere.
package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// ErrUnauthorized is returned for any token that does not resolve to a
// user id.
var ErrUnauthorized = eris.New("identity: unauthorized")

// Verifier resolves a bearer token to the calling user's id.
type Verifier interface {
	Verify(ctx context.Context, bearerToken string) (string, error)
}

// JWTVerifier verifies HS256-signed access tokens and returns the
// subject claim as the user id.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the given signing secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, bearerToken string) (string, error) {
	if bearerToken == "" {
		return "", eris.Wrap(ErrUnauthorized, "empty token")
	}

	token, err := jwt.Parse(bearerToken, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", eris.Wrap(ErrUnauthorized, err.Error())
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", eris.Wrap(ErrUnauthorized, "invalid claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", eris.Wrap(ErrUnauthorized, "missing subject")
	}
	return sub, nil
}

// StaticVerifier maps fixed tokens to user ids. Test use only.
type StaticVerifier map[string]string

func (v StaticVerifier) Verify(_ context.Context, bearerToken string) (string, error) {
	if userID, ok := v[bearerToken]; ok {
		return userID, nil
	}
	return "", ErrUnauthorized
}
