package firebase_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeToolkit mimics the Identity Toolkit and Secure Token REST APIs.
type fakeToolkit struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	accounts  map[string]string // email -> password
	refreshes int
	idpBodies []string
	down      bool
}

func newFakeToolkit(t *testing.T) *fakeToolkit {
	t.Helper()

	f := &fakeToolkit{t: t, accounts: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/accounts:signUp", f.signUp)
	mux.HandleFunc("POST /v1/accounts:signInWithPassword", f.signIn)
	mux.HandleFunc("POST /v1/accounts:signInWithIdp", f.signInWithIdp)
	mux.HandleFunc("POST /v1/token", f.token)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		down := f.down
		f.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeToolkit) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeToolkit) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func restError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": 400, "message": msg},
	})
}

func account(email string, expiresIn string) map[string]any {
	return map[string]any{
		"localId":      "uid-" + strings.Split(email, "@")[0],
		"email":        email,
		"idToken":      "id-token-1",
		"refreshToken": "refresh-1",
		"expiresIn":    expiresIn,
	}
}

func (f *fakeToolkit) signUp(w http.ResponseWriter, r *http.Request) {
	var in struct{ Email, Password string }
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&in))

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case len(in.Password) < 6:
		restError(w, "WEAK_PASSWORD : Password should be at least 6 characters")
	case f.accounts[in.Email] != "":
		restError(w, "EMAIL_EXISTS")
	default:
		f.accounts[in.Email] = in.Password
		_ = json.NewEncoder(w).Encode(account(in.Email, "3600"))
	}
}

func (f *fakeToolkit) signIn(w http.ResponseWriter, r *http.Request) {
	var in struct{ Email, Password string }
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&in))

	f.mu.Lock()
	defer f.mu.Unlock()

	if pw, ok := f.accounts[in.Email]; !ok || pw != in.Password {
		restError(w, "INVALID_LOGIN_CREDENTIALS")
		return
	}
	// Expires within the refresh window so IDToken refreshes at once.
	_ = json.NewEncoder(w).Encode(account(in.Email, "60"))
}

func (f *fakeToolkit) signInWithIdp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PostBody   string `json:"postBody"`
		RequestURI string `json:"requestUri"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&in))

	f.mu.Lock()
	f.idpBodies = append(f.idpBodies, in.PostBody)
	f.mu.Unlock()

	acct := account("bob@gmail.com", "3600")
	acct["providerId"] = "google.com"
	acct["displayName"] = "Bob"
	acct["emailVerified"] = true
	_ = json.NewEncoder(w).Encode(acct)
}

func (f *fakeToolkit) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())
	require.Equal(f.t, "refresh_token", r.PostForm.Get("grant_type"))

	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()

	if r.PostForm.Get("refresh_token") != "refresh-1" {
		restError(w, "INVALID_REFRESH_TOKEN")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "id-token-2",
		"id_token":      "id-token-2",
		"refresh_token": "refresh-2",
		"token_type":    "Bearer",
		"expires_in":    "3600",
		"user_id":       "uid-alice",
	})
}
