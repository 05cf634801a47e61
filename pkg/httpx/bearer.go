package httpx

import (
	"errors"
	"strings"
)

// BearerPrefix is the exact, case-sensitive scheme prefix accepted on the
// Authorization header, including the single separating space.
const BearerPrefix = "Bearer "

var (
	ErrMissingAuthorization   = errors.New("httpx: missing authorization header")
	ErrMalformedAuthorization = errors.New("httpx: malformed authorization header")
)

// BearerToken extracts the token from an Authorization header value. The
// header must start with BearerPrefix and carry a non-empty token after it;
// anything else (other schemes, lowercase "bearer", a bare "Bearer") is
// malformed.
func BearerToken(authorization string) (string, error) {
	if authorization == "" {
		return "", ErrMissingAuthorization
	}

	token, ok := strings.CutPrefix(authorization, BearerPrefix)
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMalformedAuthorization
	}

	return token, nil
}
