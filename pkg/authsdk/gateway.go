package authsdk

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Gateway runs credential operations against a Provider and folds every
// outcome into a Result. It never returns an error and never panics: provider
// errors become Failure values the caller can pass to Classify.
//
// A Result says nothing about the session state. The provider reports the
// change through its subscription, which the Observer consumes.
type Gateway struct {
	provider  Provider
	federated FederatedProvider
	logger    *slog.Logger
}

// NewGateway returns a gateway over p. A zero federated descriptor selects
// GoogleProvider; a nil logger uses slog.Default.
func NewGateway(p Provider, federated FederatedProvider, logger *slog.Logger) *Gateway {
	if federated.ID == "" {
		federated = GoogleProvider
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{provider: p, federated: federated, logger: logger}
}

// SignInWithPassword signs in an existing account.
func (g *Gateway) SignInWithPassword(ctx context.Context, email, password string) Result {
	email = strings.TrimSpace(email)
	if f := checkCredentials(email, password); f != nil {
		return Result{Failure: f}
	}

	return g.run("sign_in_password", func() (*Subject, error) {
		return g.provider.SignInWithPassword(ctx, email, password)
	})
}

// RegisterWithPassword creates an account and signs it in. Uniqueness and
// password strength are the provider's call.
func (g *Gateway) RegisterWithPassword(ctx context.Context, email, password string) Result {
	email = strings.TrimSpace(email)
	if f := checkCredentials(email, password); f != nil {
		return Result{Failure: f}
	}

	return g.run("register_password", func() (*Subject, error) {
		return g.provider.RegisterWithPassword(ctx, email, password)
	})
}

// SignInWithFederatedProvider runs the interactive flow for the configured
// federated provider. Abandoning the flow, including cancelling ctx, is an
// ordinary CodePopupClosedByUser failure.
func (g *Gateway) SignInWithFederatedProvider(ctx context.Context) Result {
	return g.run("sign_in_federated", func() (*Subject, error) {
		subject, err := g.provider.SignInWithFederated(ctx, g.federated)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, NewAuthFailure(CodePopupClosedByUser)
		}
		return subject, err
	})
}

// SignOut ends the session. Signing out without a session succeeds.
func (g *Gateway) SignOut(ctx context.Context) (res SignOutResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("auth provider panicked", slog.String("op", "sign_out"), slog.Any("panic", r))
			res = SignOutResult{Failure: &AuthFailure{Message: GenericFailureMessage}}
		}
	}()

	if err := g.provider.SignOut(ctx); err != nil {
		f := AsFailure(err)
		g.logger.Debug("sign out failed", slog.String("code", f.Code), slog.String("error", f.Message))
		return SignOutResult{Failure: f}
	}
	return SignOutResult{}
}

func (g *Gateway) run(op string, call func() (*Subject, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("auth provider panicked", slog.String("op", op), slog.Any("panic", r))
			res = Result{Failure: &AuthFailure{Message: GenericFailureMessage}}
		}
	}()

	subject, err := call()
	if err != nil {
		f := AsFailure(err)
		g.logger.Debug("auth operation failed",
			slog.String("op", op),
			slog.String("code", f.Code),
			slog.String("error", f.Message),
		)
		return Result{Failure: f}
	}
	if subject == nil {
		g.logger.Error("auth provider returned no subject", slog.String("op", op))
		return Result{Failure: &AuthFailure{Message: GenericFailureMessage}}
	}

	return Result{Subject: subject}
}

func checkCredentials(email, password string) *AuthFailure {
	switch {
	case email == "":
		return NewAuthFailure(CodeInvalidEmail)
	case password == "":
		return &AuthFailure{Code: CodeMissingPassword, Message: "Please enter your password."}
	}
	return nil
}
