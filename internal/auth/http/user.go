package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/authsync/internal/auth/service"
	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/httpx"
	"github.com/aussiebroadwan/authsync/pkg/slogx"
)

// UserHandler answers for the principal AuthnMiddleware put on the context.
type UserHandler struct{}

// ServeHTTP echoes the verified caller and the token it presented.
//
//	@Summary		Verify the caller's identity token
//	@Description	Verifies the bearer ID token with the identity provider and returns the subject it was issued to.
//	@Description	Every failure (missing or malformed header, bad signature, expired or revoked token, provider outage) returns the same 401 body.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.UserResponse	"Verified subject id and the token that was presented"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Not authorized"
//	@Failure		429	{object}	authsdk.ErrorResponse	"Rate limit exceeded"
//	@Router			/api/auth/user [get].
func (UserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFromContext(r.Context())
	if !ok {
		authsdk.ErrNotAuthorized.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.UserResponse{
		UserID: p.Subject,
		Token:  p.Token,
	})
}

// verifyAuthenticator runs the bearer header through the verify service.
func verifyAuthenticator(svc *service.VerifyService) httpx.Authenticator {
	return httpx.AuthenticatorFunc(func(ctx context.Context, authorization string) (httpx.Principal, error) {
		v, err := svc.Verify(ctx, authorization)
		if err != nil {
			return httpx.Principal{}, err
		}
		return httpx.Principal{Subject: v.SubjectID, Token: v.Token}, nil
	})
}

// rejectUnauthorized answers every authentication failure with the same 401.
func rejectUnauthorized(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, service.ErrNotAuthorized) {
		slogx.FromContext(r.Context()).Error("unexpected verification error", "err", err)
	}
	authsdk.ErrNotAuthorized.WriteError(w)
}

// withRemoteAddr records the peer address for the audit trail.
func withRemoteAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(service.WithRemoteAddr(r.Context(), r.RemoteAddr)))
	})
}
