package firebase

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
)

// restCodes maps Identity Toolkit REST error identifiers onto the codes the
// client SDKs report.
var restCodes = map[string]string{
	"EMAIL_EXISTS":                     authsdk.CodeEmailAlreadyInUse,
	"INVALID_EMAIL":                    authsdk.CodeInvalidEmail,
	"MISSING_EMAIL":                    authsdk.CodeInvalidEmail,
	"WEAK_PASSWORD":                    authsdk.CodeWeakPassword,
	"EMAIL_NOT_FOUND":                  authsdk.CodeUserNotFound,
	"USER_NOT_FOUND":                   authsdk.CodeUserNotFound,
	"INVALID_PASSWORD":                 authsdk.CodeWrongPassword,
	"MISSING_PASSWORD":                 authsdk.CodeMissingPassword,
	"TOO_MANY_ATTEMPTS_TRY_LATER":      authsdk.CodeTooManyRequests,
	"INVALID_LOGIN_CREDENTIALS":        authsdk.CodeInvalidCredential,
	"INVALID_IDP_RESPONSE":             authsdk.CodeInvalidCredential,
	"USER_DISABLED":                    authsdk.CodeUserDisabled,
	"OPERATION_NOT_ALLOWED":            authsdk.CodeOperationNotAllowed,
	"PASSWORD_LOGIN_DISABLED":          authsdk.CodeOperationNotAllowed,
	"TOKEN_EXPIRED":                    authsdk.CodeUserTokenExpired,
	"INVALID_REFRESH_TOKEN":            "invalid-user-token",
	"USER_MISMATCH":                    "user-mismatch",
	"FEDERATED_USER_ID_ALREADY_LINKED": "credential-already-in-use",
}

type restErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseRESTError converts an Identity Toolkit error response into an
// AuthFailure. Messages look like "WEAK_PASSWORD : Password should be at
// least 6 characters".
func parseRESTError(status int, body []byte) *authsdk.AuthFailure {
	var b restErrorBody
	if err := json.Unmarshal(body, &b); err != nil || b.Error.Message == "" {
		if status >= http.StatusInternalServerError {
			return networkFailure()
		}
		return authsdk.NewAuthFailure(authsdk.CodeInternalError)
	}

	ident, detail, _ := strings.Cut(b.Error.Message, ":")
	ident = strings.TrimSpace(ident)
	detail = strings.TrimSpace(detail)

	code, ok := restCodes[ident]
	if !ok {
		code = strings.ToLower(strings.ReplaceAll(ident, "_", "-"))
	}

	if detail == "" {
		return authsdk.NewAuthFailure(code)
	}
	return &authsdk.AuthFailure{
		Code:    code,
		Message: "Firebase: " + detail + " (auth/" + code + ").",
	}
}

func networkFailure() *authsdk.AuthFailure {
	return authsdk.NewAuthFailure(authsdk.CodeNetworkRequestFailed)
}
