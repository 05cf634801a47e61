package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MaxSubjectLength is the longest "sub" an identity provider may issue.
const MaxSubjectLength = 128

// DefaultIDTokenTTL is the lifetime identity providers give ID tokens.
const DefaultIDTokenTTL = time.Hour

// Claims are the claims carried by an identity provider ID token. The field
// set follows the Firebase ID token layout, which is a superset of what
// Google-style OIDC providers emit.
type Claims struct {
	jwt.RegisteredClaims

	// AuthTime is when the user actually authenticated (seconds since epoch),
	// as opposed to when this particular token was minted.
	AuthTime int64 `json:"auth_time,omitempty"`

	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`

	SignIn SignInInfo `json:"firebase"`
}

// SignInInfo describes how the subject signed in.
type SignInInfo struct {
	// SignInProvider is "password", "google.com", "custom", ...
	SignInProvider string `json:"sign_in_provider,omitempty"`

	// Identities maps a provider to the identifiers the subject holds there.
	Identities map[string][]string `json:"identities,omitempty"`
}

// NewIDTokenClaims builds minimally-correct ID token claims.
func NewIDTokenClaims(issuer, audience, subject string, authTime, now time.Time, ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		AuthTime: authTime.Unix(),
		UserID:   subject,
	}
}

// AuthenticatedAt returns AuthTime as a time.Time (zero when absent).
func (c *Claims) AuthenticatedAt() time.Time {
	if c.AuthTime == 0 {
		return time.Time{}
	}
	return time.Unix(c.AuthTime, 0).UTC()
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateSubject requires a non-empty subject no longer than MaxSubjectLength.
func (c *Claims) ValidateSubject() error {
	if c.Subject == "" || len(c.Subject) > MaxSubjectLength {
		return ErrSubject
	}
	return nil
}

// ValidateAuthTime rejects tokens claiming an authentication in the future.
func (c *Claims) ValidateAuthTime(now time.Time, leeway time.Duration) error {
	if c.AuthTime == 0 {
		return ErrInvalidClaim
	}
	if c.AuthenticatedAt().After(now.Add(leeway)) {
		return ErrNotYetValid
	}
	return nil
}
