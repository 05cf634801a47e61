package cryptox_test

import (
	"encoding/pem"
	"strings"
	"testing"

	"github.com/aussiebroadwan/authsync/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

// cheap keeps the suite fast; production callers use DefaultArgon2.
var cheap = cryptox.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32, SaltLength: 16}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	hash, err := cheap.Hash("secret1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	require.NoError(t, cryptox.VerifyPassword("secret1", hash))
	require.ErrorIs(t, cryptox.VerifyPassword("secret2", hash), cryptox.ErrPasswordMismatch)
}

func TestHashUsesUniqueSalts(t *testing.T) {
	t.Parallel()

	a, err := cheap.Hash("same")
	require.NoError(t, err)
	b, err := cheap.Hash("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	t.Parallel()

	for _, h := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=16$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$!!$aGFzaA",
	} {
		require.ErrorIs(t, cryptox.VerifyPassword("x", h), cryptox.ErrHashFormat, "hash %q", h)
	}
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	a, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)
	require.Len(t, a, 43)

	b, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	_, err = cryptox.GenerateToken(0)
	require.Error(t, err)
}

func TestFingerprintTokenIsDeterministic(t *testing.T) {
	t.Parallel()

	require.Equal(t, cryptox.FingerprintToken("abc"), cryptox.FingerprintToken("abc"))
	require.NotEqual(t, cryptox.FingerprintToken("abc"), cryptox.FingerprintToken("abd"))
}

func TestGenerateRSAKey(t *testing.T) {
	t.Parallel()

	_, err := cryptox.GenerateRSAKey(1024)
	require.Error(t, err)

	pemKey, err := cryptox.GenerateRSAKey(2048)
	require.NoError(t, err)
	block, _ := pem.Decode(pemKey)
	require.NotNil(t, block)
	require.Equal(t, "RSA PRIVATE KEY", block.Type)
}
