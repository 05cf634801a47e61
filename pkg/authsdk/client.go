package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrSubjectMismatch is returned by VerifySubject when the backend resolved
// the token to a different subject than expected.
var ErrSubjectMismatch = errors.New("authsdk: backend resolved a different subject")

// SDKClient is a client for the auth service backend.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new auth service client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetUser resolves an ID token through GET /api/auth/user. A rejected token
// yields an error matching ErrNotAuthorized.
func (c *SDKClient) GetUser(ctx context.Context, token string) (*UserResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/auth/user", token, nil)
	if err != nil {
		return nil, err
	}

	var user UserResponse
	if err := decodeJSON(resp, &user, http.StatusOK); err != nil {
		return nil, err
	}

	return &user, nil
}

// VerifySubject implements BackendVerifier: it asks the backend who token
// belongs to and returns the subject id.
func (c *SDKClient) VerifySubject(ctx context.Context, token string) (string, error) {
	user, err := c.GetUser(ctx, token)
	if err != nil {
		return "", err
	}
	if user.UserID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrSubjectMismatch)
	}
	return user.UserID, nil
}
