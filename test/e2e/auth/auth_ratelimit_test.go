package auth_test

import (
	"testing"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRateLimitUserEndpoint verifies that /api/auth/user is rate limited per
// client, whatever the outcome of each request.
func TestRateLimitUserEndpoint(t *testing.T) {
	id := newIdentity(t)
	baseURL, cleanup := setupAuthContainer(t, id, map[string]string{
		"RATELIMIT_VERIFY_REQUESTS": "3",
		"RATELIMIT_VERIFY_WINDOW":   "1m",
		"RATELIMIT_VERIFY_BURST":    "3",
	})
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	_, token := id.signUp(t, "limited@example.com")

	for i := range 3 {
		_, err := client.GetUser(t.Context(), token)
		require.NoError(t, err, "request %d should not be rate limited", i+1)
	}

	_, err := client.GetUser(t.Context(), token)
	require.Error(t, err)
	require.Contains(t, err.Error(), "429", "Should be rate limited after 3 requests")

	// Health endpoints have their own budget.
	health, err := client.GetLiveness(t.Context())
	assertHealthy(t, health, err)
}
