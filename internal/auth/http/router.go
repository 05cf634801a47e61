package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authsync/internal/auth/service"
	"github.com/aussiebroadwan/authsync/internal/auth/store"
	"github.com/aussiebroadwan/authsync/pkg/httpx"
	"github.com/aussiebroadwan/authsync/pkg/slogx"

	_ "github.com/aussiebroadwan/authsync/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         KeysReadiness
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store         store.Store
	VerifyService *service.VerifyService

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// TrustedProxies may set forwarding headers; nobody is trusted by default.
	TrustedProxies httpx.TrustedProxies

	// Rate limits; zero values fall back to the httpx profiles.
	VerifyLimit httpx.RateLimitConfig
	HealthLimit httpx.RateLimitConfig
}

func NewRouter(
	keys KeysReadiness,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
		VerifyLimit:  httpx.VerifyLimit,
		HealthLimit:  httpx.HealthLimit,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.Recover(),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			authsync Backend API
//	@version		0.1.0
//	@description	Verifies identity provider ID tokens presented by clients and returns the subject they were issued to.
//	@description
//	@description				Tokens are Firebase ID tokens signed with RS256 and checked against the provider's published keys.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/authsync
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Provider ID token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	// GET /api/auth/user - one signature check (and maybe an upstream call) per request
	r.Mux.Handle("GET /api/auth/user",
		httpx.Chain(UserHandler{},
			httpx.RateLimitByClientIP(r.VerifyLimit, r.TrustedProxies),
			withRemoteAddr,
			httpx.AuthnMiddleware(verifyAuthenticator(r.VerifyService), rejectUnauthorized),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByClientIP(r.HealthLimit, r.TrustedProxies),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
			httpx.RateLimitByClientIP(r.HealthLimit, r.TrustedProxies),
		),
	)

	if r.MetricsHandler != nil {
		r.Mux.Handle("GET /metrics",
			httpx.Chain(r.MetricsHandler,
				httpx.RateLimitByClientIP(r.HealthLimit, r.TrustedProxies),
			),
		)
	}
}
