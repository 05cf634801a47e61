package auth_test

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestLivezEndpoint verifies the liveness check endpoint.
func TestLivezEndpoint(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t, newIdentity(t), nil)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)

	health, err := client.GetLiveness(t.Context())
	assertHealthy(t, health, err)
}

// TestReadyzEndpoint verifies readiness once the signing keys are loaded.
func TestReadyzEndpoint(t *testing.T) {
	id := newIdentity(t)
	baseURL, cleanup := setupAuthContainer(t, id, nil)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)

	// Keys are loaded at startup, or at the latest by the first verification.
	_, token := id.signUp(t, "ready@example.com")
	_, err := client.GetUser(t.Context(), token)
	require.NoError(t, err)

	health, err := client.GetReadiness(t.Context())
	assertHealthy(t, health, err)
	require.NotNil(t, health.Checks)
	require.Equal(t, "ok", health.Checks.Database)
	require.Equal(t, "ok", health.Checks.SigningKeys)
}

// TestMetricsEndpoint verifies verification outcomes are exported.
func TestMetricsEndpoint(t *testing.T) {
	id := newIdentity(t)
	baseURL, cleanup := setupAuthContainer(t, id, nil)
	defer cleanup()

	_, token := id.signUp(t, "metrics@example.com")
	_, err := authsdk.NewSDKClient(baseURL).GetUser(t.Context(), token)
	require.NoError(t, err)

	resp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body), `outcome="verified"`), "metrics should count the verified request")
}
