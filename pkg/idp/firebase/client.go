// Package firebase adapts Firebase Authentication to the authsdk provider
// boundary: a Client for the end-user side (Identity Toolkit REST, Secure
// Token refresh, Google sign-in over a loopback redirect) and a Verifier for
// the server side (ID token signature checks plus optional revocation checks).
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com"

	// refreshBefore is how long before expiry IDToken mints a new token.
	refreshBefore = 5 * time.Minute
)

// Config configures a Client.
type Config struct {
	// APIKey is the web API key of the Firebase project.
	APIKey string

	// IdentityToolkitURL and SecureTokenURL override the Google endpoints,
	// e.g. for the Firebase Auth emulator or tests.
	IdentityToolkitURL string
	SecureTokenURL     string

	HTTPClient *http.Client
	Federated  FederatedConfig
	Logger     *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Client is an end-user Firebase Authentication session. It holds the
// signed-in user in memory only.
type Client struct {
	authsdk.Notifier

	apiKey     string
	toolkitURL string
	tokenURL   string
	http       *http.Client
	federated  FederatedConfig
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	current *currentUser
	refresh singleflight.Group
}

type currentUser struct {
	subject      *authsdk.Subject
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

// NewClient returns a client. It reports the signed-out state immediately,
// since nothing is persisted between runs.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("firebase: API key is required")
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		toolkitURL: cfg.IdentityToolkitURL,
		tokenURL:   cfg.SecureTokenURL,
		http:       cfg.HTTPClient,
		federated:  cfg.Federated,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if c.toolkitURL == "" {
		c.toolkitURL = DefaultIdentityToolkitURL
	}
	if c.tokenURL == "" {
		c.tokenURL = DefaultSecureTokenURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.logger = c.logger.With(slog.String("component", "firebase_client"))

	c.Publish(nil)
	return c, nil
}

// accountResponse is the user part shared by signInWithPassword, signUp and
// signInWithIdp responses.
type accountResponse struct {
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoUrl"`
	EmailVerified bool   `json:"emailVerified"`
	ProviderID    string `json:"providerId"`
	IDToken       string `json:"idToken"`
	RefreshToken  string `json:"refreshToken"`
	ExpiresIn     string `json:"expiresIn"`
}

// post sends a JSON request to an Identity Toolkit endpoint and decodes the
// response into out. Errors are AuthFailures.
func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("firebase: encode request: %w", err)
	}

	u := c.toolkitURL + "/v1/" + endpoint + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("firebase: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn("identity toolkit unreachable", slog.String("endpoint", endpoint), slog.String("error", err.Error()))
		return networkFailure()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return networkFailure()
	}

	if resp.StatusCode != http.StatusOK {
		f := parseRESTError(resp.StatusCode, respBody)
		c.logger.Debug("identity toolkit error",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("code", f.Code),
		)
		return f
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return authsdk.NewAuthFailure(authsdk.CodeInternalError)
	}
	return nil
}

// establish records a fresh session and reports it to subscribers.
func (c *Client) establish(acct accountResponse, providerID string) (*authsdk.Subject, error) {
	if acct.LocalID == "" || acct.IDToken == "" {
		return nil, authsdk.NewAuthFailure(authsdk.CodeInternalError)
	}

	if acct.ProviderID != "" {
		providerID = acct.ProviderID
	}
	subject := &authsdk.Subject{
		UID:           acct.LocalID,
		Email:         acct.Email,
		EmailVerified: acct.EmailVerified,
		DisplayName:   acct.DisplayName,
		PhotoURL:      acct.PhotoURL,
		ProviderID:    providerID,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = &currentUser{
		subject:      subject,
		idToken:      acct.IDToken,
		refreshToken: acct.RefreshToken,
		expiresAt:    c.now().Add(parseExpiresIn(acct.ExpiresIn)),
	}
	c.Publish(subject)

	return subject, nil
}

// SignOut implements authsdk.Provider. The session is dropped locally; ID
// tokens already handed out stay valid until they expire.
func (c *Client) SignOut(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
	c.Publish(nil)
	return nil
}

// IDToken implements authsdk.Provider. Tokens within five minutes of expiry
// are refreshed through the Secure Token service first.
func (c *Client) IDToken(ctx context.Context, subject *authsdk.Subject) (string, error) {
	if subject == nil {
		return "", authsdk.NewAuthFailure(authsdk.CodeUserTokenExpired)
	}

	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur == nil || cur.subject.UID != subject.UID {
		return "", authsdk.NewAuthFailure(authsdk.CodeUserTokenExpired)
	}
	if c.now().Before(cur.expiresAt.Add(-refreshBefore)) {
		return cur.idToken, nil
	}

	ch := c.refresh.DoChan(subject.UID, func() (any, error) {
		return c.refreshToken(context.WithoutCancel(ctx), cur)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) refreshToken(ctx context.Context, cur *currentUser) (string, error) {
	// Another caller may have refreshed while we waited.
	c.mu.Lock()
	latest := c.current
	c.mu.Unlock()
	if latest == nil || latest.subject.UID != cur.subject.UID {
		return "", authsdk.NewAuthFailure(authsdk.CodeUserTokenExpired)
	}
	if c.now().Before(latest.expiresAt.Add(-refreshBefore)) {
		return latest.idToken, nil
	}

	conf := oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL + "/v1/token?key=" + url.QueryEscape(c.apiKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: latest.refreshToken}).Token()
	if err != nil {
		return "", refreshFailure(err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return "", authsdk.NewAuthFailure(authsdk.CodeInternalError)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Signed out or switched user during the refresh.
	if c.current != latest {
		return "", authsdk.NewAuthFailure(authsdk.CodeUserTokenExpired)
	}
	next := *latest
	next.idToken = idToken
	if tok.RefreshToken != "" {
		next.refreshToken = tok.RefreshToken
	}
	next.expiresAt = tok.Expiry
	if next.expiresAt.IsZero() {
		next.expiresAt = c.now().Add(time.Hour)
	}
	c.current = &next

	return idToken, nil
}

// refreshFailure maps a Secure Token error onto an AuthFailure. A revoked or
// expired refresh token signs the user out on the provider side, so the
// caller sees user-token-expired.
func refreshFailure(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return networkFailure()
	}

	status := http.StatusBadRequest
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	if status >= http.StatusInternalServerError {
		return networkFailure()
	}
	if f := parseRESTError(status, re.Body); f.Code != authsdk.CodeInternalError {
		return f
	}
	return authsdk.NewAuthFailure(authsdk.CodeUserTokenExpired)
}

func parseExpiresIn(s string) time.Duration {
	var secs int
	if _, err := fmt.Sscanf(s, "%d", &secs); err != nil || secs <= 0 {
		return time.Hour
	}
	return time.Duration(secs) * time.Second
}
