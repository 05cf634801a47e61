package emulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/jwtx"
)

// RemoteVerifierConfig configures a RemoteVerifier.
type RemoteVerifierConfig struct {
	// ProjectID is the audience and issuer suffix of accepted tokens.
	ProjectID string

	// KeysURL serves an emulator's JWKSHandler.
	KeysURL string

	HTTPClient *http.Client
	Now        func() time.Time
}

// RemoteVerifier checks tokens issued by an emulator running in another
// process, using the keys it publishes. It implements authsdk.TokenVerifier.
type RemoteVerifier struct {
	keys *jwtx.RemoteKeySet
	jwt  *jwtx.RS256Verifier
}

// NewRemoteVerifier builds a verifier. Keys are fetched lazily; call Warm to
// load them up front.
func NewRemoteVerifier(cfg RemoteVerifierConfig) (*RemoteVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("emulator: project id is required")
	}
	if cfg.KeysURL == "" {
		return nil, errors.New("emulator: keys url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	keys := jwtx.NewRemoteKeySet(cfg.KeysURL)
	keys.HTTPClient = cfg.HTTPClient
	keys.Now = cfg.Now

	return &RemoteVerifier{
		keys: keys,
		jwt: jwtx.NewVerifierRS256(keys, jwtx.VerifyOptions{
			Issuer:          "https://securetoken.google.com/" + cfg.ProjectID,
			Audience:        []string{cfg.ProjectID},
			Leeway:          5 * time.Minute,
			RequireAuthTime: true,
			Now:             cfg.Now,
		}),
	}, nil
}

// Warm loads the signing keys.
func (v *RemoteVerifier) Warm(ctx context.Context) error {
	return v.keys.Refresh(ctx)
}

// Ready reports whether signing keys are loaded.
func (v *RemoteVerifier) Ready() bool {
	return v.keys.IsReady()
}

// VerifyIDToken implements authsdk.TokenVerifier. Errors wrap jwtx
// sentinels; a key outage also wraps authsdk.ErrProviderUnavailable.
func (v *RemoteVerifier) VerifyIDToken(ctx context.Context, token string) (*authsdk.VerifiedToken, error) {
	claims, err := v.jwt.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, jwtx.ErrKeysUnavailable) {
			return nil, fmt.Errorf("%w: %w", authsdk.ErrProviderUnavailable, err)
		}
		return nil, err
	}

	return &authsdk.VerifiedToken{
		UID:            claims.Subject,
		Email:          claims.Email,
		SignInProvider: claims.SignIn.SignInProvider,
		AuthTime:       claims.AuthenticatedAt(),
		IssuedAt:       claims.IssuedAt.Time,
		ExpiresAt:      claims.ExpiresAt.Time,
	}, nil
}
