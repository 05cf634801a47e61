package httpx_test

import (
	"testing"

	"github.com/aussiebroadwan/authsync/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		token  string
		err    error
	}{
		{"absent", "", "", httpx.ErrMissingAuthorization},
		{"bare scheme", "Bearer", "", httpx.ErrMalformedAuthorization},
		{"scheme with space only", "Bearer ", "", httpx.ErrMalformedAuthorization},
		{"lowercase scheme", "bearer abc", "", httpx.ErrMalformedAuthorization},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", httpx.ErrMalformedAuthorization},
		{"no space", "Bearerabc", "", httpx.ErrMalformedAuthorization},
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			token, err := httpx.BearerToken(tc.header)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Empty(t, token)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.token, token)
		})
	}
}
