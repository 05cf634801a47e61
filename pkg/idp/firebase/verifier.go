package firebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	fb "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/errorutils"
	"google.golang.org/api/option"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/jwtx"
)

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// ProjectID is the audience and issuer suffix of accepted tokens.
	ProjectID string

	// CheckRevoked asks Firebase, per token, whether the user was disabled,
	// deleted or had sessions revoked. Needs Credentials.
	CheckRevoked bool
	Credentials  ServiceAccount

	Logger *slog.Logger
}

// Verifier verifies Firebase ID tokens with the Firebase Admin SDK. It
// implements authsdk.TokenVerifier.
type Verifier struct {
	client       *fbauth.Client
	checkRevoked bool
	logger       *slog.Logger
}

// NewVerifier builds a verifier. Signing keys are fetched and cached by the
// SDK on first use. FIREBASE_AUTH_EMULATOR_HOST is honoured by the SDK.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase: project id is required")
	}
	if cfg.Credentials.ProjectID != "" && cfg.Credentials.ProjectID != cfg.ProjectID {
		return nil, errors.New("firebase: credentials belong to a different project")
	}
	if cfg.CheckRevoked && !cfg.Credentials.Complete() {
		return nil, ErrNoCredentials
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opt option.ClientOption
	if cfg.Credentials.Complete() {
		creds, err := cfg.Credentials.credentialsJSON(cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		opt = option.WithCredentialsJSON(creds)
	} else {
		// Signature checks only need Google's public certificates.
		opt = option.WithoutAuthentication()
	}

	app, err := fb.NewApp(ctx, &fb.Config{ProjectID: cfg.ProjectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("firebase: init app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: init auth client: %w", err)
	}

	return &Verifier{
		client:       client,
		checkRevoked: cfg.CheckRevoked,
		logger:       cfg.Logger.With(slog.String("component", "firebase_verifier")),
	}, nil
}

// VerifyIDToken implements authsdk.TokenVerifier. Errors wrap jwtx.ErrExpired,
// jwtx.ErrRevoked or authsdk.ErrProviderUnavailable where one applies.
func (v *Verifier) VerifyIDToken(ctx context.Context, token string) (*authsdk.VerifiedToken, error) {
	var (
		tok *fbauth.Token
		err error
	)
	if v.checkRevoked {
		tok, err = v.client.VerifyIDTokenAndCheckRevoked(ctx, token)
	} else {
		tok, err = v.client.VerifyIDToken(ctx, token)
	}
	if err != nil {
		err = verifyError(ctx, err)
		if errors.Is(err, authsdk.ErrProviderUnavailable) {
			v.logger.Warn("firebase unreachable during token verification", "err", err)
		}
		return nil, err
	}

	email, _ := tok.Claims["email"].(string)
	return &authsdk.VerifiedToken{
		UID:            tok.UID,
		Email:          email,
		SignInProvider: tok.Firebase.SignInProvider,
		AuthTime:       time.Unix(tok.AuthTime, 0),
		IssuedAt:       time.Unix(tok.IssuedAt, 0),
		ExpiresAt:      time.Unix(tok.Expires, 0),
	}, nil
}

// verifyError maps SDK failures onto the sentinels verification outcomes are
// derived from.
func verifyError(ctx context.Context, err error) error {
	switch {
	case fbauth.IsIDTokenExpired(err):
		return fmt.Errorf("%w: %w", jwtx.ErrExpired, err)
	case fbauth.IsIDTokenRevoked(err), fbauth.IsUserDisabled(err), fbauth.IsUserNotFound(err):
		return fmt.Errorf("%w: %w", jwtx.ErrRevoked, err)
	case fbauth.IsCertificateFetchFailed(err):
		return fmt.Errorf("%w: %w: %w", authsdk.ErrProviderUnavailable, jwtx.ErrKeysUnavailable, err)
	case ctx.Err() != nil,
		errors.Is(err, context.DeadlineExceeded),
		errorutils.IsUnavailable(err),
		errorutils.IsDeadlineExceeded(err),
		errorutils.IsInternal(err):
		return fmt.Errorf("%w: %w", authsdk.ErrProviderUnavailable, err)
	default:
		return fmt.Errorf("firebase: %w", err)
	}
}
