package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxJWTLen bounds the token size accepted from a query string before any
// decoding is attempted.
const maxJWTLen = 16 * 1024

type jwtVerifier struct {
	secret []byte
	now    func() time.Time
}

// hmacMethods are the HMAC algorithms accepted for the shared secret.
var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// NewJWTVerifier returns a Verifier for HS256/HS384/HS512 tokens signed with
// secret.
//
// exp and nbf are enforced when present. The `name` claim is required and
// becomes the connection identity.
func NewJWTVerifier(secret string) Verifier {
	return jwtVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

type jwtClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

func (v jwtVerifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingCredentials
	}
	if len(token) > maxJWTLen || len(v.secret) == 0 {
		return Identity{}, ErrInvalidCredentials
	}

	var claims jwtClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods(hmacMethods),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	// The name is passed through as issued; only blank names are refused.
	if strings.TrimSpace(claims.Name) == "" {
		return Identity{}, fmt.Errorf("%w: missing name claim", ErrInvalidCredentials)
	}
	return Identity{Name: claims.Name}, nil
}
