package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/httpx"
	"github.com/aussiebroadwan/authsync/pkg/idp/firebase"
	"github.com/caarlos0/env/v11"
)

// Verification timeout bounds enforced by Validate.
const (
	MinVerifyTimeout = time.Second
	MaxVerifyTimeout = 30 * time.Second
)

type Config struct {
	Env                  string        `env:"ENV" envDefault:"development"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT" envDefault:"json"`
	Port                 int           `env:"PORT" envDefault:"8080"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`

	// Service account. The project id doubles as the token audience.
	ProjectID   string `env:"FIREBASE_ADMIN_PROJECT_ID"`
	ClientEmail string `env:"FIREBASE_ADMIN_CLIENT_EMAIL"`
	PrivateKey  string `env:"FIREBASE_ADMIN_PRIVATE_KEY"` // PEM, "\n" may be escaped

	VerifyTimeout  time.Duration `env:"AUTH_VERIFY_TIMEOUT" envDefault:"15s"`
	CheckRevoked   bool          `env:"AUTH_CHECK_REVOKED" envDefault:"false"`
	KeysURL        string        `env:"AUTH_KEYS_URL"`
	DatabaseFile   string        `env:"AUTH_DATABASE_FILE" envDefault:"auth.db"`
	AuditRetention time.Duration `env:"AUTH_AUDIT_RETENTION" envDefault:"168h"`
	TraceExporter  string        `env:"AUTH_TRACE_EXPORTER" envDefault:"none"`

	// Peers allowed to set X-Forwarded-For/X-Real-IP, as CIDRs or addresses.
	TrustedProxies []string `env:"AUTH_TRUSTED_PROXIES" envSeparator:","`
}

// LoadConfig reads the configuration from the environment and validates it.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg.PrivateKey = firebase.UnescapePrivateKey(cfg.PrivateKey)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem with cfg at once.
func (c Config) Validate() error {
	var errs []error

	if c.ProjectID == "" {
		errs = append(errs, errors.New("FIREBASE_ADMIN_PROJECT_ID is required"))
	}
	if c.VerifyTimeout < MinVerifyTimeout || c.VerifyTimeout > MaxVerifyTimeout {
		errs = append(errs, fmt.Errorf("AUTH_VERIFY_TIMEOUT must be between %s and %s, got %s",
			MinVerifyTimeout, MaxVerifyTimeout, c.VerifyTimeout))
	}
	if c.CheckRevoked && !c.ServiceAccount().Complete() {
		errs = append(errs, errors.New(
			"AUTH_CHECK_REVOKED needs FIREBASE_ADMIN_CLIENT_EMAIL and FIREBASE_ADMIN_PRIVATE_KEY"))
	}
	if c.CheckRevoked && c.KeysURL != "" {
		errs = append(errs, errors.New("AUTH_CHECK_REVOKED cannot be used with AUTH_KEYS_URL"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.ShutdownGracePeriod <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_GRACE_PERIOD must be positive"))
	}
	if c.AuditRetention <= 0 {
		errs = append(errs, errors.New("AUTH_AUDIT_RETENTION must be positive"))
	}
	if c.DatabaseFile == "" {
		errs = append(errs, errors.New("AUTH_DATABASE_FILE is required"))
	}
	if _, err := httpx.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("AUTH_TRUSTED_PROXIES: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ServiceAccount returns the admin credentials.
func (c Config) ServiceAccount() firebase.ServiceAccount {
	return firebase.ServiceAccount{
		ProjectID:   c.ProjectID,
		ClientEmail: c.ClientEmail,
		PrivateKey:  c.PrivateKey,
	}
}

// LogValue keeps the service account out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", c.Env),
		slog.Int("port", c.Port),
		slog.Any("service_account", c.ServiceAccount()),
		slog.Duration("verify_timeout", c.VerifyTimeout),
		slog.Bool("check_revoked", c.CheckRevoked),
		slog.String("keys_url", c.KeysURL),
		slog.String("database_file", c.DatabaseFile),
		slog.Duration("audit_retention", c.AuditRetention),
		slog.Duration("housekeeping_interval", c.HousekeepingInterval),
		slog.String("trace_exporter", c.TraceExporter),
		slog.Any("trusted_proxies", c.TrustedProxies),
	)
}
