package httpx

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/slogx"
	"github.com/caarlos0/env/v11"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// Requests allowed per Window.
	Requests int `env:"REQUESTS"`
	// Window over which Requests are counted.
	Window time.Duration `env:"WINDOW"`
	// Burst allows short spikes above the steady rate.
	Burst int `env:"BURST"`
}

// Rate limit profiles. Each can be overridden with RATELIMIT_<PROFILE>_REQUESTS,
// RATELIMIT_<PROFILE>_WINDOW (a Go duration) and RATELIMIT_<PROFILE>_BURST.
var (
	// VerifyLimit guards token verification, which costs a signature check
	// and possibly an upstream call per request.
	VerifyLimit = RateLimitConfig{
		Requests: 120,
		Window:   time.Minute,
		Burst:    30,
	}

	// HealthLimit guards health and metrics endpoints.
	HealthLimit = RateLimitConfig{
		Requests: 600,
		Window:   time.Minute,
		Burst:    100,
	}
)

func init() {
	VerifyLimit = RateLimitFromEnv("VERIFY", VerifyLimit)
	HealthLimit = RateLimitFromEnv("HEALTH", HealthLimit)
}

// RateLimitFromEnv overlays RATELIMIT_<profile>_* variables on def. Invalid or
// non-positive values leave the default in place.
func RateLimitFromEnv(profile string, def RateLimitConfig) RateLimitConfig {
	var override RateLimitConfig
	if err := env.ParseWithOptions(&override, env.Options{
		Prefix: "RATELIMIT_" + strings.ToUpper(profile) + "_",
	}); err != nil {
		return def
	}

	cfg := def
	if override.Requests > 0 {
		cfg.Requests = override.Requests
	}
	if override.Window > 0 {
		cfg.Window = override.Window
	}
	if override.Burst > 0 {
		cfg.Burst = override.Burst
	}
	return cfg
}

// KeyExtractor picks the bucket a request is counted against.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor keys on the connecting peer's address. Forwarding headers
// are ignored; use TrustedProxies.KeyExtractor behind a reverse proxy.
func IPKeyExtractor(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP
// headers are believed. An empty list trusts nobody.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies accepts CIDRs ("10.0.0.0/8") and bare addresses.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("httpx: trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("httpx: trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// Trusts reports whether addr falls inside one of the prefixes.
func (t TrustedProxies) Trusts(addr string) bool {
	a, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range t {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIP returns the client address for r. Forwarding headers are only
// read when the peer is trusted; X-Forwarded-For is walked from the right
// and the first hop that is not itself a trusted proxy wins.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := IPKeyExtractor(r)
	if !t.Trusts(peer) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !t.Trusts(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// KeyExtractor keys requests on ClientIP.
func (t TrustedProxies) KeyExtractor() KeyExtractor {
	return t.ClientIP
}

// rateLimiter keeps one token bucket per key.
type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	actual, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.rate, rl.burst))
	rl.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup drops buckets that have refilled completely, at most once
// every five minutes.
func (rl *rateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < 5*time.Minute {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware limits requests per key. Requests without a key pass.
func RateLimitMiddleware(config RateLimitConfig, keyExtractor KeyExtractor) Middleware {
	rl := &rateLimiter{
		rate:        rate.Limit(float64(config.Requests) / config.Window.Seconds()),
		burst:       config.Burst,
		lastCleanup: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			key := keyExtractor(r)
			if key == "" {
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			limiter := rl.getLimiter(key)
			if limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			reservation := limiter.Reserve()
			retryAfter := max(int(reservation.Delay().Seconds()), 1)
			reservation.Cancel()

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Window", config.Window.String())

			log.Warn("rate limit exceeded",
				"key", key,
				"endpoint", r.URL.Path,
				"retry_after", retryAfter,
			)

			WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": fmt.Sprintf("Too many requests. Retry in %ds.", retryAfter),
			})
		})
	}
}

// RateLimitByIP limits by the connecting peer's address.
func RateLimitByIP(config RateLimitConfig) Middleware {
	return RateLimitMiddleware(config, IPKeyExtractor)
}

// RateLimitByClientIP limits by client address, reading forwarding headers
// only from trusted proxies.
func RateLimitByClientIP(config RateLimitConfig, trusted TrustedProxies) Middleware {
	return RateLimitMiddleware(config, trusted.KeyExtractor())
}
