package emulator

import (
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/cryptox"
	"golang.org/x/time/rate"
)

// DefaultProjectID is the project an emulator issues tokens for unless told
// otherwise.
const DefaultProjectID = "demo-authsync"

// FederatedIdentity is the account a federated provider hands back when the
// emulator runs its "interactive" flow.
type FederatedIdentity struct {
	Subject     string // provider-side account id
	Email       string
	DisplayName string
	PhotoURL    string

	// Deny makes the flow end as if the user closed the consent screen.
	Deny bool
}

// Option configures an Emulator.
type Option func(*options)

type options struct {
	projectID    string
	now          func() time.Time
	tokenTTL     time.Duration
	hash         cryptox.Argon2Params
	attemptRate  rate.Limit
	attemptBurst int
	federated    map[string]FederatedIdentity
	skipInitial  bool
	logger       *slog.Logger
}

func defaultOptions() options {
	return options{
		projectID:    DefaultProjectID,
		now:          time.Now,
		tokenTTL:     time.Hour,
		hash:         cryptox.DefaultArgon2,
		attemptRate:  rate.Every(10 * time.Second),
		attemptBurst: 5,
		federated:    map[string]FederatedIdentity{},
	}
}

// WithProjectID sets the project tokens are issued for.
func WithProjectID(id string) Option {
	return func(o *options) { o.projectID = id }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTokenTTL sets the ID token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(o *options) { o.tokenTTL = ttl }
}

// WithPasswordHashing sets the Argon2id cost. Tests use cheap parameters.
func WithPasswordHashing(p cryptox.Argon2Params) Option {
	return func(o *options) { o.hash = p }
}

// WithAttemptLimit sets how many failed sign-ins per email are tolerated
// (burst) and how fast that allowance refills.
func WithAttemptLimit(every time.Duration, burst int) Option {
	return func(o *options) {
		o.attemptRate = rate.Every(every)
		o.attemptBurst = burst
	}
}

// WithFederatedIdentity makes providerID ("google.com") sign in as id.
func WithFederatedIdentity(providerID string, id FederatedIdentity) Option {
	return func(o *options) { o.federated[providerID] = id }
}

// WithoutInitialState stops the emulator from reporting the initial
// signed-out state, like a provider that never finishes initialising.
func WithoutInitialState() Option {
	return func(o *options) { o.skipInitial = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
