package firebase

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
)

// GoogleTokenURL is the OAuth 2.0 token endpoint for service accounts.
const GoogleTokenURL = "https://oauth2.googleapis.com/token"

// ErrNoCredentials is returned when revocation checks are requested without
// a service account.
var ErrNoCredentials = errors.New("firebase: service account credentials are required")

// ServiceAccount holds Firebase Admin credentials. None of its fields are
// ever logged.
type ServiceAccount struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string // PEM
}

// UnescapePrivateKey turns the literal "\n" sequences deployment platforms
// leave in single-line secrets back into newlines.
func UnescapePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

// Complete reports whether the account can authenticate admin calls.
func (s ServiceAccount) Complete() bool {
	return s.ClientEmail != "" && s.PrivateKey != ""
}

// LogValue implements slog.LogValuer. Only the presence of each field is
// reported.
func (s ServiceAccount) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("project_id_set", s.ProjectID != ""),
		slog.Bool("client_email_set", s.ClientEmail != ""),
		slog.Bool("private_key_set", s.PrivateKey != ""),
	)
}

// credentialsJSON renders the account as a Google service account key file.
func (s ServiceAccount) credentialsJSON(projectID string) ([]byte, error) {
	if !s.Complete() {
		return nil, ErrNoCredentials
	}
	if s.ProjectID != "" {
		projectID = s.ProjectID
	}
	return json.Marshal(serviceAccountFile{
		Type:        "service_account",
		ProjectID:   projectID,
		ClientEmail: s.ClientEmail,
		PrivateKey:  UnescapePrivateKey(s.PrivateKey),
		TokenURI:    GoogleTokenURL,
	})
}

type serviceAccountFile struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}
