package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/authsync/internal/auth/http"
	"github.com/aussiebroadwan/authsync/internal/auth/service"
	"github.com/aussiebroadwan/authsync/internal/auth/store"
	"github.com/aussiebroadwan/authsync/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authsync/internal/auth/telemetry"
	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/httpx"
	"github.com/aussiebroadwan/authsync/pkg/idp/emulator"
	"github.com/aussiebroadwan/authsync/pkg/idp/firebase"
	"github.com/aussiebroadwan/authsync/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	serviceName = "auth-service"

	// keysWarmTimeout bounds the initial emulator key fetch at startup.
	keysWarmTimeout = 10 * time.Second
)

// Option customises New.
type Option func(*Application)

// WithVerifier replaces the Firebase verifier, e.g. with the emulator in
// development. v may implement httpapi.KeysReadiness.
func WithVerifier(v authsdk.TokenVerifier) Option {
	return func(app *Application) { app.verifier = v }
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *slog.Logger) Option {
	return func(app *Application) { app.logger = l }
}

// WithHTTPClient sets the client used to fetch emulator signing keys.
func WithHTTPClient(c *http.Client) Option {
	return func(app *Application) { app.httpClient = c }
}

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	// Core dependencies
	db        store.Store
	verifier  authsdk.TokenVerifier
	telemetry *telemetry.Telemetry

	// Services
	verifyService       *service.VerifyService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config, opts ...Option) (*Application, error) {
	app := &Application{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}

	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: serviceName,
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}
	app.logger.Info("configuration loaded", "config", cfg)

	ctx := context.Background()

	// Initialize database first
	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: BuildVersion,
		TraceExporter:  cfg.TraceExporter,
	})
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.telemetry = tel

	if app.verifier == nil {
		if err := app.initVerifier(ctx); err != nil {
			_ = app.db.Close()
			return nil, err
		}
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.router
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return app.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	// Start housekeeping service
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "addr", ln.Addr().String(), "version", BuildVersion)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.Serve(ln)
	}()

	// Block until we are asked to stop or the server fails
	select {
	case err := <-serverErrors:
		app.housekeepingService.Stop()
		_ = app.telemetry.Shutdown(context.Background())
		_ = app.db.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	if err := app.telemetry.Shutdown(ctx); err != nil {
		app.logger.Error("error flushing telemetry", "error", err)
	}

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	dsn := app.cfg.DatabaseFile
	if dsn != ":memory:" {
		dsn = sqlite.FileDSN(dsn)
	}

	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initVerifier builds the token verifier. AUTH_KEYS_URL points the service
// at an emulator's published keys; otherwise tokens are checked with the
// Firebase Admin SDK. A failed key warm-up is not fatal: /readyz reports it
// and keys are fetched again on the first request.
func (app *Application) initVerifier(ctx context.Context) error {
	if app.cfg.KeysURL != "" {
		v, err := emulator.NewRemoteVerifier(emulator.RemoteVerifierConfig{
			ProjectID:  app.cfg.ProjectID,
			KeysURL:    app.cfg.KeysURL,
			HTTPClient: app.httpClient,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize token verifier: %w", err)
		}
		app.verifier = v
		app.logger.Warn("trusting emulator signing keys", "keys_url", app.cfg.KeysURL)

		warmCtx, cancel := context.WithTimeout(ctx, keysWarmTimeout)
		defer cancel()
		if err := v.Warm(warmCtx); err != nil {
			app.logger.Warn("signing keys not loaded at startup", "err", err)
		}
		return nil
	}

	v, err := firebase.NewVerifier(ctx, firebase.VerifierConfig{
		ProjectID:    app.cfg.ProjectID,
		CheckRevoked: app.cfg.CheckRevoked,
		Credentials:  app.cfg.ServiceAccount(),
		Logger:       app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}
	app.verifier = v
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	metrics, err := telemetry.NewVerifyMetrics(app.telemetry.Meter())
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	app.verifyService = &service.VerifyService{
		Verifier: app.verifier,
		Store:    app.db,
		Metrics:  metrics,
		Tracer:   app.telemetry.Tracer(),
		Timeout:  app.cfg.VerifyTimeout,
		Logger:   app.logger,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.AuditRetention,
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	keys, _ := app.verifier.(httpapi.KeysReadiness)

	router := httpapi.NewRouter(keys, BuildVersion, app.db, app.logger)
	router.VerifyService = app.verifyService
	router.MetricsHandler = app.telemetry.Handler()
	// Validated in LoadConfig.
	router.TrustedProxies, _ = httpx.ParseTrustedProxies(app.cfg.TrustedProxies)
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(app.cfg.Port)),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
