package jwtx_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const (
	exampleIssuer   = "https://securetoken.google.com/demo-project"
	exampleAudience = "demo-project"
)

func newSigner(t *testing.T, kid string) jwtx.Signer {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privKey),
	})

	signer, err := jwtx.NewSignerRS256(kid, privPEM)
	require.NoError(t, err)
	return signer
}

func newVerifier(keys jwtx.KeySource, now time.Time) *jwtx.RS256Verifier {
	return jwtx.NewVerifierRS256(keys, jwtx.VerifyOptions{
		Issuer:          exampleIssuer,
		Audience:        []string{exampleAudience},
		Leeway:          5 * time.Minute,
		RequireAuthTime: true,
		Now:             func() time.Time { return now },
	})
}

func TestRS256SignAndVerify(t *testing.T) {
	signer := newSigner(t, "k1")
	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(signer))

	now := time.Now().UTC().Truncate(time.Second)
	claims := jwtx.NewIDTokenClaims(exampleIssuer, exampleAudience, "42", now.Add(-time.Minute), now, time.Hour)
	claims.Email = "a@b.com"
	claims.SignIn.SignInProvider = "password"

	token, err := signer.Sign(claims)
	require.NoError(t, err)

	parsed, err := newVerifier(keys, now).Verify(t.Context(), token)
	require.NoError(t, err)
	require.Equal(t, "42", parsed.Subject)
	require.Equal(t, "42", parsed.UserID)
	require.Equal(t, "a@b.com", parsed.Email)
	require.Equal(t, "password", parsed.SignIn.SignInProvider)
	require.Equal(t, now.Add(-time.Minute), parsed.AuthenticatedAt())
}

func TestRS256VerifyFailures(t *testing.T) {
	signer := newSigner(t, "k1")
	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(signer))

	now := time.Now().UTC().Truncate(time.Second)
	sign := func(mutate func(*jwtx.Claims)) string {
		c := jwtx.NewIDTokenClaims(exampleIssuer, exampleAudience, "42", now.Add(-time.Minute), now, time.Hour)
		mutate(&c)
		token, err := signer.Sign(c)
		require.NoError(t, err)
		return token
	}

	t.Run("expired", func(t *testing.T) {
		token := sign(func(*jwtx.Claims) {})
		_, err := newVerifier(keys, now.Add(2*time.Hour)).Verify(t.Context(), token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("issued in the future", func(t *testing.T) {
		token := sign(func(*jwtx.Claims) {})
		_, err := newVerifier(keys, now.Add(-time.Hour)).Verify(t.Context(), token)
		require.ErrorIs(t, err, jwtx.ErrNotYetValid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token := sign(func(c *jwtx.Claims) { c.Issuer = "https://evil.example" })
		_, err := newVerifier(keys, now).Verify(t.Context(), token)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})

	t.Run("wrong audience", func(t *testing.T) {
		token := sign(func(c *jwtx.Claims) { c.Audience = []string{"other-project"} })
		_, err := newVerifier(keys, now).Verify(t.Context(), token)
		require.ErrorIs(t, err, jwtx.ErrAudience)
	})

	t.Run("empty subject", func(t *testing.T) {
		token := sign(func(c *jwtx.Claims) { c.Subject = "" })
		_, err := newVerifier(keys, now).Verify(t.Context(), token)
		require.ErrorIs(t, err, jwtx.ErrSubject)
	})

	t.Run("missing auth_time", func(t *testing.T) {
		token := sign(func(c *jwtx.Claims) { c.AuthTime = 0 })
		_, err := newVerifier(keys, now).Verify(t.Context(), token)
		require.ErrorIs(t, err, jwtx.ErrInvalidClaim)
	})

	t.Run("tampered payload", func(t *testing.T) {
		token := sign(func(*jwtx.Claims) {})
		other := sign(func(c *jwtx.Claims) { c.Subject = "43" })

		parts := strings.Split(token, ".")
		otherParts := strings.Split(other, ".")
		forged := parts[0] + "." + otherParts[1] + "." + parts[2]

		_, err := newVerifier(keys, now).Verify(t.Context(), forged)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := newVerifier(keys, now).Verify(t.Context(), "not-a-jwt")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})
}

func TestRS256VerifyFailsForUnknownKey(t *testing.T) {
	signer1 := newSigner(t, "key1")
	signer2 := newSigner(t, "key2")

	now := time.Now().UTC().Truncate(time.Second)
	token, err := signer1.Sign(jwtx.NewIDTokenClaims(exampleIssuer, exampleAudience, "42", now, now, time.Hour))
	require.NoError(t, err)

	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(signer2))

	_, err = newVerifier(keys, now).Verify(t.Context(), token)
	require.ErrorIs(t, err, jwtx.ErrUnknownKID)
}

func TestParseRSAPrivateKeyPKCS8(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(privKey)
	require.NoError(t, err)

	parsed, err := jwtx.ParseRSAPrivateKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	require.NoError(t, err)
	require.True(t, privKey.Equal(parsed))

	_, err = jwtx.ParseRSAPrivateKey([]byte("not pem"))
	require.Error(t, err)
}

func TestKeySetResetKeepsKeysOnEmptySet(t *testing.T) {
	signer := newSigner(t, "k1")
	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(signer))

	require.Zero(t, keys.ResetFromJWKS(jwtx.JWKS{Keys: []jwtx.JWK{{Kty: "EC", Kid: "ec"}}}))
	_, err := keys.Get("k1")
	require.NoError(t, err)

	require.Equal(t, 1, keys.ResetFromJWKS(jwtx.JWKS{Keys: []jwtx.JWK{newSigner(t, "k2").PublicJWK()}}))
	_, err = keys.Get("k1")
	require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	require.Len(t, keys.PublicJWKS().Keys, 1)
}
