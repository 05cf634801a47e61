package authsdk

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	Policy        Policy
	Backend       BackendVerifier
	InitTimeout   time.Duration
	VerifyTimeout time.Duration

	// Federated is the provider used by SignInWithFederatedProvider.
	// Defaults to GoogleProvider.
	Federated FederatedProvider

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Session is the application-scoped auth context: one Observer holding the
// session state plus the Gateway actions. Create one per application, Mount
// it at startup and Unmount it on shutdown. A Session is not remountable.
type Session struct {
	*Gateway

	observer *Observer
}

// NewSession wires a gateway and an observer over the same provider.
func NewSession(p Provider, cfg SessionConfig) (*Session, error) {
	obs, err := NewObserver(p, ObserverConfig{
		Policy:        cfg.Policy,
		Backend:       cfg.Backend,
		InitTimeout:   cfg.InitTimeout,
		VerifyTimeout: cfg.VerifyTimeout,
		Logger:        cfg.Logger,
		Tracer:        cfg.Tracer,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		Gateway:  NewGateway(p, cfg.Federated, cfg.Logger),
		observer: obs,
	}, nil
}

// Mount subscribes to provider notifications.
func (s *Session) Mount() { s.observer.Start() }

// Unmount releases the subscription. No state is published afterwards.
func (s *Session) Unmount() { s.observer.Stop() }

// State returns the current session state.
func (s *Session) State() SessionState { return s.observer.State() }

// Phase returns the observer phase.
func (s *Session) Phase() Phase { return s.observer.Phase() }

// OnChange registers a listener for published states.
func (s *Session) OnChange(fn func(SessionState)) (cancel func()) {
	return s.observer.OnChange(fn)
}

// Wait blocks until the session has settled.
func (s *Session) Wait(ctx context.Context) (SessionState, error) {
	return s.observer.Wait(ctx)
}
