package auth_test

import (
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/cryptox"
	"github.com/aussiebroadwan/authsync/pkg/idp/emulator"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common constants and helper functions for auth service end-to-end tests.
 * The service runs in a container and trusts tokens from an in-process
 * emulator whose public keys are served from the host.
 */

const testImageName = "authsync-auth-test:latest"

var cheapHash = cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}

// TestMain builds the Docker image once before all tests and cleans it up
// after all tests complete.
func TestMain(m *testing.M) {
	if _, err := exec.LookPath("docker"); err != nil {
		fmt.Fprintln(os.Stdout, "docker not found, skipping auth service end-to-end tests")
		os.Exit(0)
	}

	fmt.Fprintf(os.Stdout, "Building Auth Service Docker image...")
	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Cleaning up Auth Service Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

func buildDockerImage() error {
	cmd := exec.CommandContext(context.Background(), "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/auth/Dockerfile",
		"../../../")
	cmd.Stdout = os.Stdout
	cmd.Stderr = nil
	return cmd.Run()
}

func cleanupDockerImage() {
	_ = exec.CommandContext(context.Background(), "docker", "rmi", "-f", testImageName).Run()
}

// clock is a settable emulator clock.
type clock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *clock) Set(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = offset
}

// identity is the token issuer the containerised service trusts.
type identity struct {
	*emulator.Emulator
	clock    *clock
	keysPort int
}

// newIdentity starts an emulator and serves its keys on a host port the
// container can reach.
func newIdentity(t *testing.T) *identity {
	t.Helper()

	clk := &clock{}
	idp, err := emulator.New(
		emulator.WithPasswordHashing(cheapHash),
		emulator.WithClock(clk.Now),
		emulator.WithTokenTTL(time.Hour),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(idp.JWKSHandler())
	t.Cleanup(srv.Close)

	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	return &identity{Emulator: idp, clock: clk, keysPort: p}
}

// signUp registers email and returns a fresh ID token for it.
func (id *identity) signUp(t *testing.T, email string) (*authsdk.Subject, string) {
	t.Helper()

	subject, err := id.RegisterWithPassword(context.Background(), email, "hunter22")
	require.NoError(t, err)
	token, err := id.IDToken(context.Background(), subject)
	require.NoError(t, err)
	return subject, token
}

// setupAuthContainer starts the auth service trusting id and returns the base
// URL. extraEnv overrides the defaults.
func setupAuthContainer(t *testing.T, id *identity, extraEnv map[string]string) (string, func()) {
	t.Helper()
	ctx := context.Background()

	env := map[string]string{
		"ENV":                       "test",
		"LOG_LEVEL":                 "info",
		"LOG_FORMAT":                "json",
		"AUTH_DATABASE_FILE":        "/tmp/auth.db",
		"FIREBASE_ADMIN_PROJECT_ID": id.ProjectID(),
		"AUTH_KEYS_URL":             fmt.Sprintf("http://%s:%d/", testcontainers.HostInternal, id.keysPort),
		"AUTH_VERIFY_TIMEOUT":       "5s",
		// Tests make many rapid requests which would otherwise hit the
		// production limits.
		"RATELIMIT_VERIFY_REQUESTS": "1000",
		"RATELIMIT_VERIFY_BURST":    "1000",
	}
	for k, v := range extraEnv {
		env[k] = v
	}

	req := testcontainers.ContainerRequest{
		Image:           testImageName,
		ExposedPorts:    []string{"8080/tcp"},
		Env:             env,
		HostAccessPorts: []int{id.keysPort},
		WaitingFor: wait.ForHTTP("/livez").
			WithPort("8080/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	baseURL := fmt.Sprintf("http://%s:%s", host, mappedPort.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return baseURL, cleanup
}

// assertHealthy verifies a health check response is OK.
func assertHealthy(t *testing.T, health *authsdk.HealthResponse, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, health)
	require.Equal(t, "ok", health.Status)
}

// assertRejected checks err is the uniform 401 the service answers every
// rejected token with.
func assertRejected(t *testing.T, err error, context string) {
	t.Helper()
	require.Error(t, err, context)
	require.ErrorIs(t, err, authsdk.ErrNotAuthorized, context)
}
