package jwtx

import (
	"context"
	"errors"
	"time"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// KeySource resolves a "kid" header to a public key.
type KeySource interface {
	Key(ctx context.Context, kid string) (any, error)
}

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means "don't care".
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf/iat/auth_time.
	Leeway time.Duration

	// RequireAuthTime enforces a past "auth_time" claim.
	RequireAuthTime bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrMissingKID  = errors.New("jwtx: missing kid")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrSubject      = errors.New("jwtx: invalid subject")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")

	// ErrRevoked is returned by verifiers that consult the provider about
	// sessions revoked after the token was minted.
	ErrRevoked = errors.New("jwtx: token revoked")

	// ErrKeysUnavailable means signing keys could not be fetched and none
	// were cached, so the token could not be judged either way.
	ErrKeysUnavailable = errors.New("jwtx: signing keys unavailable")
)
