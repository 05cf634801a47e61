// Package emulator is an in-memory identity provider for development and
// tests. It implements authsdk.Provider and authsdk.TokenVerifier and issues
// RS256 ID tokens shaped like Firebase's, so the production verifier accepts
// them when pointed at JWKSHandler.
package emulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/cryptox"
	"github.com/aussiebroadwan/authsync/pkg/idx"
	"github.com/aussiebroadwan/authsync/pkg/jwtx"
	"golang.org/x/time/rate"
)

const (
	minPasswordLength = 6
	rsaKeyBits        = 2048
)

// Emulator is an in-memory identity provider. The zero value is not usable;
// create one with New.
type Emulator struct {
	authsdk.Notifier

	opts     options
	logger   *slog.Logger
	issuer   string
	signer   jwtx.Signer
	keys     *jwtx.KeySet
	verifier *jwtx.RS256Verifier

	mu       sync.Mutex
	byEmail  map[string]*account
	byUID    map[string]*account
	current  *signedIn
	attempts map[string]*rate.Limiter
}

type account struct {
	uid         string
	email       string
	hash        string // empty for federated accounts
	displayName string
	photoURL    string
	providerID  string
	federatedID string
	disabled    bool
	validSince  time.Time
}

type signedIn struct {
	subject  *authsdk.Subject
	authTime time.Time
}

// New starts an emulator with a fresh signing key.
func New(opts ...Option) (*Emulator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	pemKey, err := cryptox.GenerateRSAKey(rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("emulator: generate key: %w", err)
	}
	signer, err := jwtx.NewSignerRS256(idx.New().Lower(), pemKey)
	if err != nil {
		return nil, fmt.Errorf("emulator: signer: %w", err)
	}

	keys := jwtx.NewKeySet()
	if err := keys.AddSigner(signer); err != nil {
		return nil, fmt.Errorf("emulator: key set: %w", err)
	}

	issuer := "https://securetoken.google.com/" + o.projectID
	e := &Emulator{
		opts:   o,
		logger: o.logger.With(slog.String("component", "idp_emulator")),
		issuer: issuer,
		signer: signer,
		keys:   keys,
		verifier: jwtx.NewVerifierRS256(keys, jwtx.VerifyOptions{
			Issuer:          issuer,
			Audience:        []string{o.projectID},
			Leeway:          5 * time.Minute,
			RequireAuthTime: true,
			Now:             o.now,
		}),
		byEmail:  map[string]*account{},
		byUID:    map[string]*account{},
		attempts: map[string]*rate.Limiter{},
	}

	if !o.skipInitial {
		e.Publish(nil)
	}
	return e, nil
}

// ProjectID returns the project tokens are issued for.
func (e *Emulator) ProjectID() string { return e.opts.projectID }

// Issuer returns the "iss" of issued tokens.
func (e *Emulator) Issuer() string { return e.issuer }

// JWKSHandler serves the emulator's public signing keys.
func (e *Emulator) JWKSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(e.keys.PublicJWKS())
	})
}

// SignInWithPassword implements authsdk.Provider.
func (e *Emulator) SignInWithPassword(ctx context.Context, email, password string) (*authsdk.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	lim := e.limiterLocked(key)
	now := e.opts.now()
	if lim.TokensAt(now) < 1 {
		e.mu.Unlock()
		return nil, authsdk.NewAuthFailure(authsdk.CodeTooManyRequests)
	}

	acct, ok := e.byEmail[key]
	e.mu.Unlock()

	switch {
	case !ok:
		lim.AllowN(now, 1)
		return nil, authsdk.NewAuthFailure(authsdk.CodeUserNotFound)
	case acct.hash == "":
		lim.AllowN(now, 1)
		return nil, authsdk.NewAuthFailure(authsdk.CodeWrongPassword)
	}

	if err := cryptox.VerifyPassword(password, acct.hash); err != nil {
		lim.AllowN(now, 1)
		return nil, authsdk.NewAuthFailure(authsdk.CodeWrongPassword)
	}

	return e.signIn(acct)
}

// RegisterWithPassword implements authsdk.Provider.
func (e *Emulator) RegisterWithPassword(ctx context.Context, email, password string) (*authsdk.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, &authsdk.AuthFailure{
			Code:    authsdk.CodeWeakPassword,
			Message: "Firebase: Password should be at least 6 characters (auth/weak-password).",
		}
	}

	hash, err := e.opts.hash.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("emulator: hash password: %w", err)
	}

	e.mu.Lock()
	if _, exists := e.byEmail[key]; exists {
		e.mu.Unlock()
		return nil, authsdk.NewAuthFailure(authsdk.CodeEmailAlreadyInUse)
	}
	acct := &account{
		uid:        idx.New().String(),
		email:      key,
		hash:       hash,
		providerID: "password",
	}
	e.byEmail[key] = acct
	e.byUID[acct.uid] = acct
	e.mu.Unlock()

	e.logger.Debug("account created", slog.String("uid", acct.uid))
	return e.signIn(acct)
}

// SignInWithFederated implements authsdk.Provider. The "interactive" part is
// replaced by the identity configured with WithFederatedIdentity.
func (e *Emulator) SignInWithFederated(ctx context.Context, fp authsdk.FederatedProvider) (*authsdk.Subject, error) {
	id, ok := e.opts.federated[fp.ID]
	if !ok {
		return nil, authsdk.NewAuthFailure(authsdk.CodeOperationNotAllowed)
	}
	if id.Deny || ctx.Err() != nil {
		return nil, authsdk.NewAuthFailure(authsdk.CodePopupClosedByUser)
	}

	key, err := normalizeEmail(id.Email)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	acct, exists := e.byEmail[key]
	switch {
	case exists && acct.providerID != fp.ID:
		e.mu.Unlock()
		return nil, authsdk.NewAuthFailure(authsdk.CodeAccountExistsWithOtherID)
	case !exists:
		acct = &account{
			uid:         idx.New().String(),
			email:       key,
			displayName: id.DisplayName,
			photoURL:    id.PhotoURL,
			providerID:  fp.ID,
			federatedID: id.Subject,
		}
		e.byEmail[key] = acct
		e.byUID[acct.uid] = acct
	}
	e.mu.Unlock()

	return e.signIn(acct)
}

// SignOut implements authsdk.Provider. Signing out twice is fine and reports
// the signed-out state twice.
func (e *Emulator) SignOut(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = nil
	e.Publish(nil)
	return nil
}

// IDToken implements authsdk.Provider. Only the signed-in subject has a token.
func (e *Emulator) IDToken(ctx context.Context, subject *authsdk.Subject) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if subject == nil {
		return "", authsdk.NewAuthFailure(authsdk.CodeUserTokenExpired)
	}

	e.mu.Lock()
	cur := e.current
	var acct *account
	if cur != nil && cur.subject.UID == subject.UID {
		acct = e.byUID[subject.UID]
	}
	e.mu.Unlock()

	if acct == nil {
		return "", authsdk.NewAuthFailure(authsdk.CodeUserTokenExpired)
	}
	return e.mint(acct, cur.authTime)
}

// VerifyIDToken implements authsdk.TokenVerifier, including the revocation
// check the production verifier makes when asked to.
func (e *Emulator) VerifyIDToken(ctx context.Context, token string) (*authsdk.VerifiedToken, error) {
	claims, err := e.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	acct, ok := e.byUID[claims.Subject]
	revoked := !ok || acct.disabled || claims.IssuedAt.Time.Before(acct.validSince)
	e.mu.Unlock()

	if revoked {
		return nil, jwtx.ErrRevoked
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

// Revoke invalidates every token issued to uid so far.
func (e *Emulator) Revoke(uid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.byUID[uid]
	if !ok {
		return authsdk.NewAuthFailure(authsdk.CodeUserNotFound)
	}
	// Token iat has second precision.
	acct.validSince = e.opts.now().Truncate(time.Second).Add(time.Second)
	return nil
}

// Disable blocks sign-in for uid and revokes its tokens.
func (e *Emulator) Disable(uid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.byUID[uid]
	if !ok {
		return authsdk.NewAuthFailure(authsdk.CodeUserNotFound)
	}
	acct.disabled = true
	return nil
}

// MintToken signs a token for uid without a sign-in, for tests of the
// verification side.
func (e *Emulator) MintToken(uid string) (string, error) {
	e.mu.Lock()
	acct, ok := e.byUID[uid]
	e.mu.Unlock()
	if !ok {
		return "", authsdk.NewAuthFailure(authsdk.CodeUserNotFound)
	}
	return e.mint(acct, e.opts.now())
}

func (e *Emulator) signIn(acct *account) (*authsdk.Subject, error) {
	e.mu.Lock()
	if acct.disabled {
		e.mu.Unlock()
		return nil, authsdk.NewAuthFailure(authsdk.CodeUserDisabled)
	}

	subject := &authsdk.Subject{
		UID:         acct.uid,
		Email:       acct.email,
		DisplayName: acct.displayName,
		PhotoURL:    acct.photoURL,
		ProviderID:  acct.providerID,
		// Federated providers vouch for the address; password accounts
		// never verify it here.
		EmailVerified: acct.providerID != "password",
	}
	e.current = &signedIn{subject: subject, authTime: e.opts.now()}

	// Publishing under e.mu keeps notifications in the order sessions change.
	e.Publish(subject)
	e.mu.Unlock()

	return subject, nil
}

func (e *Emulator) mint(acct *account, authTime time.Time) (string, error) {
	claims := jwtx.NewIDTokenClaims(e.issuer, e.opts.projectID, acct.uid, authTime, e.opts.now(), e.opts.tokenTTL)
	claims.Email = acct.email
	claims.EmailVerified = acct.providerID != "password"
	claims.Name = acct.displayName
	claims.Picture = acct.photoURL
	claims.SignIn = jwtx.SignInInfo{
		SignInProvider: acct.providerID,
		Identities:     map[string][]string{"email": {acct.email}},
	}
	if acct.federatedID != "" {
		claims.SignIn.Identities[acct.providerID] = []string{acct.federatedID}
	}

	token, err := e.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("emulator: sign token: %w", err)
	}
	return token, nil
}

func (e *Emulator) limiterLocked(email string) *rate.Limiter {
	lim, ok := e.attempts[email]
	if !ok {
		lim = rate.NewLimiter(e.opts.attemptRate, e.opts.attemptBurst)
		e.attempts[email] = lim
	}
	return lim
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", authsdk.NewAuthFailure(authsdk.CodeInvalidEmail)
	}
	return strings.ToLower(email), nil
}
