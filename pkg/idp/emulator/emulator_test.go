package emulator_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/cryptox"
	"github.com/aussiebroadwan/authsync/pkg/idp/emulator"
	"github.com/aussiebroadwan/authsync/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var cheapHash = cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEmulator(t *testing.T, opts ...emulator.Option) (*emulator.Emulator, *clock) {
	t.Helper()

	clk := &clock{now: time.Now().Truncate(time.Second)}
	opts = append([]emulator.Option{
		emulator.WithPasswordHashing(cheapHash),
		emulator.WithClock(clk.Now),
	}, opts...)

	e, err := emulator.New(opts...)
	require.NoError(t, err)
	return e, clk
}

func failureCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return authsdk.AsFailure(err).Code
}

func TestEmulator_RegisterAndSignIn(t *testing.T) {
	t.Parallel()

	e, _ := newEmulator(t)
	ctx := context.Background()

	s, err := e.RegisterWithPassword(ctx, "Alice@Example.com", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, s.UID)
	require.Equal(t, "alice@example.com", s.Email)
	require.Equal(t, "password", s.ProviderID)

	require.NoError(t, e.SignOut(ctx))

	again, err := e.SignInWithPassword(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, s.UID, again.UID)
}

func TestEmulator_PasswordFailures(t *testing.T) {
	t.Parallel()

	e, _ := newEmulator(t)
	ctx := context.Background()

	_, err := e.RegisterWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	_, err = e.RegisterWithPassword(ctx, "a@b.com", "secret1")
	require.Equal(t, authsdk.CodeEmailAlreadyInUse, failureCode(t, err))

	_, err = e.RegisterWithPassword(ctx, "c@d.com", "12345")
	require.Equal(t, authsdk.CodeWeakPassword, failureCode(t, err))
	require.Equal(t, "Password should be at least 6 characters long.", authsdk.ClassifyError(err))

	_, err = e.RegisterWithPassword(ctx, "not-an-email", "secret1")
	require.Equal(t, authsdk.CodeInvalidEmail, failureCode(t, err))

	_, err = e.RegisterWithPassword(ctx, "Bob <bob@b.com>", "secret1")
	require.Equal(t, authsdk.CodeInvalidEmail, failureCode(t, err))

	_, err = e.SignInWithPassword(ctx, "nobody@b.com", "secret1")
	require.Equal(t, authsdk.CodeUserNotFound, failureCode(t, err))

	_, err = e.SignInWithPassword(ctx, "a@b.com", "wrong!")
	require.Equal(t, authsdk.CodeWrongPassword, failureCode(t, err))
}

func TestEmulator_TooManyAttempts(t *testing.T) {
	t.Parallel()

	e, clk := newEmulator(t, emulator.WithAttemptLimit(time.Minute, 2))
	ctx := context.Background()

	_, err := e.RegisterWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	for range 2 {
		_, err = e.SignInWithPassword(ctx, "a@b.com", "wrong!")
		require.Equal(t, authsdk.CodeWrongPassword, failureCode(t, err))
	}

	_, err = e.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.Equal(t, authsdk.CodeTooManyRequests, failureCode(t, err))

	clk.Advance(time.Minute)
	_, err = e.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
}

func TestEmulator_Federated(t *testing.T) {
	t.Parallel()

	e, _ := newEmulator(t,
		emulator.WithFederatedIdentity("google.com", emulator.FederatedIdentity{
			Subject:     "1234567890",
			Email:       "bob@gmail.com",
			DisplayName: "Bob",
		}),
		emulator.WithFederatedIdentity("github.com", emulator.FederatedIdentity{Deny: true}),
	)
	ctx := context.Background()

	s, err := e.SignInWithFederated(ctx, authsdk.GoogleProvider)
	require.NoError(t, err)
	require.Equal(t, "google.com", s.ProviderID)
	require.Equal(t, "Bob", s.DisplayName)
	require.True(t, s.EmailVerified)

	again, err := e.SignInWithFederated(ctx, authsdk.GoogleProvider)
	require.NoError(t, err)
	require.Equal(t, s.UID, again.UID)

	_, err = e.SignInWithFederated(ctx, authsdk.FederatedProvider{ID: "github.com"})
	require.Equal(t, authsdk.CodePopupClosedByUser, failureCode(t, err))

	_, err = e.SignInWithFederated(ctx, authsdk.FederatedProvider{ID: "apple.com"})
	require.Equal(t, authsdk.CodeOperationNotAllowed, failureCode(t, err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.SignInWithFederated(cancelled, authsdk.GoogleProvider)
	require.Equal(t, authsdk.CodePopupClosedByUser, failureCode(t, err))

	_, err = e.SignInWithPassword(ctx, "bob@gmail.com", "secret1")
	require.Equal(t, authsdk.CodeWrongPassword, failureCode(t, err))
}

func TestEmulator_NotifiesStateChanges(t *testing.T) {
	t.Parallel()

	e, _ := newEmulator(t)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []string
	)
	sub := e.Subscribe(func(s *authsdk.Subject) {
		mu.Lock()
		defer mu.Unlock()
		if s == nil {
			got = append(got, "out")
		} else {
			got = append(got, s.Email)
		}
	})
	defer sub.Unsubscribe()

	_, err := e.RegisterWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, e.SignOut(ctx))
	require.NoError(t, e.SignOut(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"out", "a@b.com", "out", "out"}, got)
}

func TestEmulator_WithoutInitialState(t *testing.T) {
	t.Parallel()

	e, _ := newEmulator(t, emulator.WithoutInitialState())
	_, primed := e.Current()
	require.False(t, primed)
}

func TestEmulator_TokensVerify(t *testing.T) {
	t.Parallel()

	e, clk := newEmulator(t, emulator.WithProjectID("demo-test"))
	ctx := context.Background()

	s, err := e.RegisterWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	token, err := e.IDToken(ctx, s)
	require.NoError(t, err)

	vt, err := e.VerifyIDToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, s.UID, vt.UID)
	require.Equal(t, "a@b.com", vt.Email)
	require.Equal(t, "password", vt.SignInProvider)
	require.Equal(t, "https://securetoken.google.com/demo-test", e.Issuer())

	clk.Advance(2 * time.Hour)
	_, err = e.VerifyIDToken(ctx, token)
	require.ErrorIs(t, err, jwtx.ErrExpired)

	_, err = e.VerifyIDToken(ctx, token+"x")
	require.Error(t, err)
}

func TestEmulator_IDTokenRequiresSession(t *testing.T) {
	t.Parallel()

	e, _ := newEmulator(t)
	ctx := context.Background()

	s, err := e.RegisterWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, e.SignOut(ctx))

	_, err = e.IDToken(ctx, s)
	require.Equal(t, authsdk.CodeUserTokenExpired, failureCode(t, err))

	_, err = e.IDToken(ctx, nil)
	require.Equal(t, authsdk.CodeUserTokenExpired, failureCode(t, err))
}

func TestEmulator_RevokeAndDisable(t *testing.T) {
	t.Parallel()

	e, clk := newEmulator(t)
	ctx := context.Background()

	s, err := e.RegisterWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	old, err := e.MintToken(s.UID)
	require.NoError(t, err)

	require.NoError(t, e.Revoke(s.UID))
	_, err = e.VerifyIDToken(ctx, old)
	require.ErrorIs(t, err, jwtx.ErrRevoked)

	clk.Advance(time.Second)
	fresh, err := e.IDToken(ctx, s)
	require.NoError(t, err)
	_, err = e.VerifyIDToken(ctx, fresh)
	require.NoError(t, err)

	require.NoError(t, e.Disable(s.UID))
	_, err = e.VerifyIDToken(ctx, fresh)
	require.ErrorIs(t, err, jwtx.ErrRevoked)

	_, err = e.SignInWithPassword(ctx, "a@b.com", "secret1")
	require.Equal(t, authsdk.CodeUserDisabled, failureCode(t, err))

	require.Error(t, e.Revoke("missing"))
}

func TestEmulator_JWKSVerifiesThroughRemoteKeySet(t *testing.T) {
	t.Parallel()

	e, clk := newEmulator(t)
	ctx := context.Background()

	srv := httptest.NewServer(e.JWKSHandler())
	t.Cleanup(srv.Close)

	s, err := e.RegisterWithPassword(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	token, err := e.IDToken(ctx, s)
	require.NoError(t, err)

	v := jwtx.NewVerifierRS256(jwtx.NewRemoteKeySet(srv.URL), jwtx.VerifyOptions{
		Issuer:   e.Issuer(),
		Audience: []string{e.ProjectID()},
		Now:      clk.Now,
	})
	claims, err := v.Verify(ctx, token)
	require.NoError(t, err)
	require.Equal(t, s.UID, claims.Subject)
	require.Equal(t, "password", claims.SignIn.SignInProvider)
}
