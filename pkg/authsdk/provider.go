package authsdk

import (
	"context"
	"errors"
	"time"
)

// ErrProviderUnavailable is wrapped by TokenVerifier implementations when the
// provider could not be reached, as opposed to rejecting the token.
var ErrProviderUnavailable = errors.New("authsdk: identity provider unavailable")

// Provider is the client-side identity provider boundary. Adapters live in
// pkg/idp.
//
// Every successful sign-in, registration or sign-out must also be reported
// through Subscribe; callers rely on the subscription, not on return values,
// to learn the current session.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Subject, error)
	RegisterWithPassword(ctx context.Context, email, password string) (*Subject, error)

	// SignInWithFederated runs an interactive sign-in with a third party.
	// A user abandoning the flow is reported as CodePopupClosedByUser.
	SignInWithFederated(ctx context.Context, fp FederatedProvider) (*Subject, error)

	// SignOut ends the current session. Signing out while signed out succeeds.
	SignOut(ctx context.Context) error

	// Subscribe registers fn for auth state changes. fn receives nil on
	// sign-out. Notifications are delivered one at a time, in order.
	Subscribe(fn func(*Subject)) *Subscription

	// IDToken returns a current ID token for subject, refreshing it if needed.
	IDToken(ctx context.Context, subject *Subject) (string, error)
}

// TokenVerifier is the server-side half of the provider boundary.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (*VerifiedToken, error)
}

// VerifiedToken is what a TokenVerifier learned from a valid ID token.
type VerifiedToken struct {
	UID            string
	Email          string
	SignInProvider string
	AuthTime       time.Time
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// FederatedProvider describes a third-party identity provider to sign in
// with.
type FederatedProvider struct {
	// ID is the provider id, e.g. "google.com".
	ID string

	// Scopes requested from the provider.
	Scopes []string

	// Parameters are extra authorization request parameters.
	Parameters map[string]string
}

// GoogleProvider signs in with a Google account, always showing the account
// chooser.
var GoogleProvider = FederatedProvider{
	ID:         "google.com",
	Scopes:     []string{"openid", "email", "profile"},
	Parameters: map[string]string{"prompt": "select_account"},
}
