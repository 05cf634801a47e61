package jwtx

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RS256Verifier validates JWTs signed using RS256.
type RS256Verifier struct {
	keys KeySource
	opts VerifyOptions
}

// NewVerifierRS256 creates a verifier resolving keys from keys.
func NewVerifierRS256(keys KeySource, opts VerifyOptions) *RS256Verifier {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RS256Verifier{keys: keys, opts: opts}
}

// Verify validates the JWT string and returns its parsed Claims.
func (v *RS256Verifier) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.opts.Leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.opts.Now),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKID
		}

		pub, err := v.keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}

		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: kid %q is not an RSA key", ErrAlgMismatch, kid)
		}
		return rsaPub, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaim
	}

	if err := claims.ValidateIssuer(v.opts.Issuer); err != nil {
		return nil, err
	}
	if err := claims.ValidateAudience(v.opts.Audience); err != nil {
		return nil, err
	}
	if err := claims.ValidateSubject(); err != nil {
		return nil, err
	}
	if v.opts.RequireAuthTime {
		if err := claims.ValidateAuthTime(v.opts.Now(), v.opts.Leeway); err != nil {
			return nil, err
		}
	}

	return claims, nil
}

// classifyParseError maps golang-jwt errors onto the jwtx sentinels. Errors
// raised by the key lookup are kept as-is so callers can tell a provider
// outage from a bad token.
func classifyParseError(err error) error {
	for _, keyErr := range []error{ErrKeysUnavailable, ErrUnknownKID, ErrMissingKID, ErrAlgMismatch} {
		if errors.Is(err, keyErr) {
			return err
		}
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing), errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
