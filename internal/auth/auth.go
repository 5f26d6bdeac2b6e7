package auth

import (
	"errors"
	"net/url"
	"strings"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the verified claim set carried by a relay connection for its
// whole lifetime. Tokens are never re-verified after the handshake.
type Identity struct {
	Name string
}

type Verifier interface {
	Verify(credential string) (Identity, error)
}

// CredentialFromQuery extracts the `token` query parameter from a connection
// request.
func CredentialFromQuery(q url.Values) (string, error) {
	if token := strings.TrimSpace(q.Get("token")); token != "" {
		return token, nil
	}
	return "", ErrMissingCredentials
}

// IsUnauthorized reports whether err should be treated as an authentication failure.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrInvalidCredentials)
}
