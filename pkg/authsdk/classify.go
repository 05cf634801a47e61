package authsdk

import (
	"regexp"
	"strings"
)

// GenericFailureMessage is shown when nothing more specific is known.
const GenericFailureMessage = "An error occurred during authentication."

var failureMessages = map[string]string{
	CodeEmailAlreadyInUse:       "An account with this email already exists. Please try logging in instead.",
	CodeInvalidEmail:            "Please enter a valid email address.",
	CodeWeakPassword:            "Password should be at least 6 characters long.",
	CodeUserNotFound:            "No account found with this email. Please sign up instead.",
	CodeWrongPassword:           "Incorrect password. Please try again.",
	CodeTooManyRequests:         "Too many failed attempts. Please try again later.",
	CodeInvalidCredential:       "Invalid email or password. Please check your credentials and try again.",
	CodeInvalidLoginCredentials: "Invalid email or password. Please check your credentials and try again.",
}

var (
	// "Firebase: Password should be at least 6 characters (auth/weak-password)."
	providerPrefix = regexp.MustCompile(`^Firebase:\s*`)
	codeSuffix     = regexp.MustCompile(`\s*\(auth/[^)]*\)\.?$`)
)

// Classify turns a provider failure into one sentence fit to show a user.
// Known codes map to fixed sentences whatever the message says; other
// failures fall back to the provider message with its "Firebase: " prefix
// and trailing "(auth/code)" removed. Other parentheses are kept.
func Classify(f *AuthFailure) string {
	if f == nil {
		return GenericFailureMessage
	}

	if f.Code == "" {
		if strings.TrimSpace(f.Message) == "" {
			return GenericFailureMessage
		}
		return f.Message
	}

	if msg, ok := failureMessages[NormalizeCode(f.Code)]; ok {
		return msg
	}

	return cleanMessage(f.Message)
}

// ClassifyError classifies any error, see AsFailure.
func ClassifyError(err error) string {
	return Classify(AsFailure(err))
}

func cleanMessage(msg string) string {
	cleaned := providerPrefix.ReplaceAllString(strings.TrimSpace(msg), "")
	cleaned = strings.TrimSpace(codeSuffix.ReplaceAllString(cleaned, ""))
	if cleaned == "" {
		return GenericFailureMessage
	}
	return cleaned
}
