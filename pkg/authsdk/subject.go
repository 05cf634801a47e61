package authsdk

import (
	"errors"
	"strings"
)

// Subject is the identity snapshot an identity provider reports for a signed
// in user. Values are shared between the provider, the observer and its
// listeners, so treat them as read-only.
type Subject struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	PhotoURL      string `json:"photoURL,omitempty"`

	// ProviderID names how the subject signed in: "password", "google.com".
	ProviderID string `json:"providerId,omitempty"`
}

// Provider failure codes. Adapters report codes without the "auth/"
// namespace; Classify accepts both forms.
const (
	CodeEmailAlreadyInUse        = "email-already-in-use"
	CodeInvalidEmail             = "invalid-email"
	CodeWeakPassword             = "weak-password"
	CodeUserNotFound             = "user-not-found"
	CodeWrongPassword            = "wrong-password"
	CodeTooManyRequests          = "too-many-requests"
	CodeInvalidCredential        = "invalid-credential"
	CodeInvalidLoginCredentials  = "invalid-login-credentials"
	CodeMissingPassword          = "missing-password"
	CodeUserDisabled             = "user-disabled"
	CodeOperationNotAllowed      = "operation-not-allowed"
	CodePopupClosedByUser        = "popup-closed-by-user"
	CodeNetworkRequestFailed     = "network-request-failed"
	CodeUserTokenExpired         = "user-token-expired"
	CodeInternalError            = "internal-error"
	CodeAccountExistsWithOtherID = "account-exists-with-different-credential"
)

// AuthFailure is a provider failure as reported to callers. Either field may
// be empty.
type AuthFailure struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewAuthFailure builds a failure in the shape identity providers use for
// their messages, e.g. "Firebase: Error (auth/invalid-email).".
func NewAuthFailure(code string) *AuthFailure {
	return &AuthFailure{
		Code:    code,
		Message: "Firebase: Error (auth/" + code + ").",
	}
}

func (f *AuthFailure) Error() string {
	switch {
	case f.Message != "":
		return f.Message
	case f.Code != "":
		return "auth/" + NormalizeCode(f.Code)
	default:
		return GenericFailureMessage
	}
}

// Is matches failures by normalized code so errors.Is(err, &AuthFailure{Code: CodeWeakPassword})
// works regardless of message text.
func (f *AuthFailure) Is(target error) bool {
	t, ok := target.(*AuthFailure)
	if !ok || t.Code == "" {
		return false
	}
	return NormalizeCode(f.Code) == NormalizeCode(t.Code)
}

// NormalizeCode strips the "auth/" namespace from a provider code.
func NormalizeCode(code string) string {
	return strings.TrimPrefix(strings.TrimSpace(code), "auth/")
}

// AsFailure converts any error into an AuthFailure, keeping provider codes
// when err wraps one.
func AsFailure(err error) *AuthFailure {
	if err == nil {
		return nil
	}

	var f *AuthFailure
	if errors.As(err, &f) && f != nil {
		return f
	}
	return &AuthFailure{Message: err.Error()}
}

// Result is the outcome of a sign-in style operation. Exactly one of Subject
// and Failure is set.
type Result struct {
	Subject *Subject
	Failure *AuthFailure
}

// OK reports whether the operation produced a subject.
func (r Result) OK() bool { return r.Failure == nil && r.Subject != nil }

// SignOutResult is the outcome of SignOut.
type SignOutResult struct {
	Failure *AuthFailure
}
