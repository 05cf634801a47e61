package jwtx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultKeyCacheTTL applies when the key endpoint sends no max-age.
	DefaultKeyCacheTTL = time.Hour

	// DefaultMinRefreshInterval bounds how often an unknown kid may force a
	// refetch, so garbage tokens cannot hammer the key endpoint.
	DefaultMinRefreshInterval = time.Minute
)

// RemoteKeySet is a KeySource backed by a JWKS URL. Keys are cached for the
// max-age the endpoint advertises, refreshes are coalesced, and the last good
// key set keeps serving when a refresh fails.
type RemoteKeySet struct {
	URL        string
	HTTPClient *http.Client

	// CacheTTL is used when the response carries no Cache-Control max-age.
	CacheTTL time.Duration

	// MinRefreshInterval is the minimum gap between refreshes triggered by
	// an unknown kid.
	MinRefreshInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time

	keys *KeySet

	mu          sync.RWMutex
	expiresAt   time.Time
	lastAttempt time.Time
	loaded      bool
	lastErr     error
	sfGroup     singleflight.Group
}

// NewRemoteKeySet returns a RemoteKeySet for url with default settings.
func NewRemoteKeySet(url string) *RemoteKeySet {
	return &RemoteKeySet{
		URL:                url,
		HTTPClient:         &http.Client{Timeout: 30 * time.Second},
		CacheTTL:           DefaultKeyCacheTTL,
		MinRefreshInterval: DefaultMinRefreshInterval,
		Now:                time.Now,
		keys:               NewKeySet(),
	}
}

// Key implements KeySource.
func (r *RemoteKeySet) Key(ctx context.Context, kid string) (any, error) {
	r.mu.RLock()
	now := r.Now()
	fresh := r.loaded && now.Before(r.expiresAt)
	canRetry := now.Sub(r.lastAttempt) >= r.MinRefreshInterval
	failing := !r.loaded || r.lastErr != nil
	r.mu.RUnlock()

	key, err := r.keys.Get(kid)
	switch {
	case err == nil && (fresh || !canRetry):
		return key, nil
	case err != nil && !canRetry:
		if failing {
			return nil, fmt.Errorf("%w: refresh backing off", ErrKeysUnavailable)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}

	if err := r.Refresh(ctx); err != nil {
		// Serve the stale copy rather than failing every request while the
		// endpoint is down.
		if key, kerr := r.keys.Get(kid); kerr == nil {
			return key, nil
		}
		return nil, err
	}

	key, err = r.keys.Get(kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}
	return key, nil
}

// Refresh fetches the key set now. Concurrent callers share one request.
func (r *RemoteKeySet) Refresh(ctx context.Context) error {
	ch := r.sfGroup.DoChan("refresh", func() (any, error) {
		// Detach from the first caller's cancellation; the shared fetch
		// still has the HTTP client timeout.
		return nil, r.fetch(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, ctx.Err())
	}
}

// IsReady reports whether a key set has been loaded at least once.
func (r *RemoteKeySet) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

func (r *RemoteKeySet) fetch(ctx context.Context) error {
	r.mu.Lock()
	r.lastAttempt = r.Now()
	r.mu.Unlock()

	err := r.load(ctx)

	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	return err
}

func (r *RemoteKeySet) load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrKeysUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetch: %v", ErrKeysUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrKeysUnavailable, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrKeysUnavailable, err)
	}

	if r.keys.ResetFromJWKS(jwks) == 0 {
		return errors.Join(ErrKeysUnavailable, errors.New("jwtx: key set contained no usable RSA keys"))
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = r.CacheTTL
	}

	r.mu.Lock()
	r.loaded = true
	r.expiresAt = r.Now().Add(ttl)
	r.mu.Unlock()

	return nil
}

// maxAge extracts the max-age directive from a Cache-Control header.
func maxAge(cacheControl string) time.Duration {
	for directive := range strings.SplitSeq(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}
