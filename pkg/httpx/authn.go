package httpx

import (
	"context"
	"net/http"
)

// Principal is the caller an AuthnMiddleware has verified.
type Principal struct {
	Subject string
	Token   string
}

// Authenticator verifies a raw Authorization header value.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (Principal, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, authorization string) (Principal, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, authorization string) (Principal, error) {
	return f(ctx, authorization)
}

// RejectFunc writes the response for a request that failed authentication.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

// AuthnMiddleware authenticates the Authorization header and puts the
// Principal on the request context. Failed requests go to reject and never
// reach next.
func AuthnMiddleware(a Authenticator, reject RejectFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			p, err := a.Authenticate(ctx, r.Header.Get("Authorization"))
			if err != nil {
				reject(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(ctx, p)))
		})
	}
}

type ctxKey string

const ctxKeyPrincipal ctxKey = "principal"

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFromContext returns the Principal set by AuthnMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok
}
