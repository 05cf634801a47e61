package firebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/cryptox"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleIssuer is the OIDC issuer for Google accounts.
const GoogleIssuer = "https://accounts.google.com"

// FederatedConfig configures Google sign-in for installed applications: the
// user consents in a browser and Google redirects back to a loopback
// listener (RFC 8252).
type FederatedConfig struct {
	ClientID     string
	ClientSecret string

	// Issuer defaults to GoogleIssuer.
	Issuer string

	// ListenAddr for the redirect listener. Defaults to 127.0.0.1:0.
	ListenAddr string

	// OpenBrowser shows the consent page. Required for federated sign-in.
	OpenBrowser func(authURL string) error
}

type callbackResult struct {
	code string
	err  string
}

// SignInWithFederated implements authsdk.Provider for Google. Cancelling
// ctx or denying consent yields CodePopupClosedByUser.
func (c *Client) SignInWithFederated(ctx context.Context, fp authsdk.FederatedProvider) (*authsdk.Subject, error) {
	cfg := c.federated
	if fp.ID != authsdk.GoogleProvider.ID || cfg.ClientID == "" || cfg.OpenBrowser == nil {
		return nil, authsdk.NewAuthFailure(authsdk.CodeOperationNotAllowed)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = GoogleIssuer
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}

	ctx = oidc.ClientContext(ctx, c.http)

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		if ctx.Err() != nil {
			return nil, popupClosed()
		}
		c.logger.Warn("oidc discovery failed", slog.String("issuer", cfg.Issuer), slog.String("error", err.Error()))
		return nil, networkFailure()
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("firebase: listen for redirect: %w", err)
	}
	redirectURL := "http://" + ln.Addr().String() + "/callback"

	conf := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       fp.Scopes,
	}
	if len(conf.Scopes) == 0 {
		conf.Scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	state, err := cryptox.GenerateToken(16)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	nonce, err := cryptox.GenerateToken(16)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	}
	for k, v := range fp.Parameters {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := cfg.OpenBrowser(conf.AuthCodeURL(state, opts...)); err != nil {
		return nil, fmt.Errorf("firebase: open browser: %w", err)
	}

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, popupClosed()
	case res = <-results:
	}
	if res.err != "" {
		c.logger.Debug("federated sign-in abandoned", slog.String("reason", res.err))
		return nil, popupClosed()
	}

	tok, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		if ctx.Err() != nil {
			return nil, popupClosed()
		}
		c.logger.Warn("authorization code exchange failed", slog.String("error", err.Error()))
		return nil, authsdk.NewAuthFailure(authsdk.CodeInvalidCredential)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, authsdk.NewAuthFailure(authsdk.CodeInvalidCredential)
	}

	idToken, err := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}).Verify(ctx, rawIDToken)
	if err != nil {
		c.logger.Warn("google id token rejected", slog.String("error", err.Error()))
		return nil, authsdk.NewAuthFailure(authsdk.CodeInvalidCredential)
	}
	if idToken.Nonce != nonce {
		return nil, authsdk.NewAuthFailure(authsdk.CodeInvalidCredential)
	}

	return c.signInWithIdp(ctx, fp.ID, rawIDToken, redirectURL)
}

func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		res := callbackResult{code: q.Get("code"), err: q.Get("error")}
		if res.code == "" && res.err == "" {
			res.err = "missing code"
		}

		select {
		case results <- res:
		default:
			// Already answered; a refresh of the page must not block.
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if res.err != "" {
			_, _ = w.Write([]byte("Sign-in was cancelled. You can close this window."))
			return
		}
		_, _ = w.Write([]byte("Signed in. You can close this window."))
	})
	return mux
}

func popupClosed() error {
	return authsdk.NewAuthFailure(authsdk.CodePopupClosedByUser)
}

// errNoBrowser is returned by OpenBrowser implementations that cannot show
// the consent page.
var errNoBrowser = errors.New("firebase: no browser available")

// PrintURL is an OpenBrowser implementation that asks the user to open the
// consent page themselves.
func PrintURL(print func(string)) func(string) error {
	return func(authURL string) error {
		if print == nil {
			return errNoBrowser
		}
		print("Open this link to sign in:\n\n  " + authURL + "\n")
		return nil
	}
}
