package authctl

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/caarlos0/env/v11"
)

// Config holds the authctl configuration. Everything but the provider choice
// comes from the environment.
type Config struct {
	APIKey             string `env:"FIREBASE_API_KEY"`
	ProjectID          string `env:"FIREBASE_PROJECT_ID"`
	AuthEmulatorHost   string `env:"FIREBASE_AUTH_EMULATOR_HOST"`
	GoogleClientID     string `env:"GOOGLE_OAUTH_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_OAUTH_CLIENT_SECRET"`

	BackendURL    string        `env:"AUTH_BACKEND_URL"`
	Policy        string        `env:"AUTH_OBSERVER_POLICY" envDefault:"verify-backend"`
	InitTimeout   time.Duration `env:"AUTH_INIT_TIMEOUT" envDefault:"10s"`
	VerifyTimeout time.Duration `env:"AUTH_VERIFY_TIMEOUT" envDefault:"15s"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"warn"`

	// Emulator runs an in-process provider instead of Firebase.
	Emulator bool
}

// ParseConfig reads environ (KEY=VALUE pairs, as from os.Environ) and the
// flags in args. It returns the remaining arguments, which are commands.
func ParseConfig(fs *flag.FlagSet, args []string, environ map[string]string) (Config, []string, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, nil, fmt.Errorf("environment: %w", err)
	}

	fs.BoolVar(&cfg.Emulator, "emulator", false, "use an in-process identity provider instead of Firebase")
	fs.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "auth backend base URL (AUTH_BACKEND_URL)")
	fs.StringVar(&cfg.Policy, "policy", cfg.Policy, "observer policy: verify-backend or trust-provider (AUTH_OBSERVER_POLICY)")
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	// An in-process provider has no backend that would trust its tokens.
	if cfg.Emulator && cfg.BackendURL == "" {
		cfg.Policy = authsdk.PolicyTrustProvider.String()
	}

	policy, err := authsdk.ParsePolicy(cfg.Policy)
	if err != nil {
		return Config{}, nil, err
	}
	if policy == authsdk.PolicyVerifyBackend && cfg.BackendURL == "" {
		return Config{}, nil, errors.New("the verify-backend policy needs AUTH_BACKEND_URL (or -policy trust-provider)")
	}
	if !cfg.Emulator && cfg.APIKey == "" {
		return Config{}, nil, errors.New("FIREBASE_API_KEY is required unless -emulator is set")
	}

	return cfg, fs.Args(), nil
}
