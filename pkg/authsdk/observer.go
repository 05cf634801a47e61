package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultInitTimeout   = 10 * time.Second
	DefaultVerifyTimeout = 15 * time.Second
)

// ErrNoBackend is returned by NewObserver when PolicyVerifyBackend is
// selected without a BackendVerifier.
var ErrNoBackend = errors.New("authsdk: backend verification policy needs a BackendVerifier")

// SessionState is what the application sees of the session. Subject is nil
// while loading and when signed out.
type SessionState struct {
	Subject *Subject
	Loading bool
}

// Authenticated reports whether a subject is signed in.
func (s SessionState) Authenticated() bool { return s.Subject != nil && !s.Loading }

// Phase is the observer state machine position.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseAuthenticated
	PhaseUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "INITIALIZING"
	case PhaseAuthenticated:
		return "AUTHENTICATED"
	case PhaseUnauthenticated:
		return "UNAUTHENTICATED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Policy decides whether a provider sign-in is trusted as-is.
type Policy int

const (
	// PolicyVerifyBackend round-trips a fresh ID token through the backend
	// before committing a sign-in. A subject the backend rejects is treated
	// as signed out.
	PolicyVerifyBackend Policy = iota

	// PolicyTrustProvider commits provider sign-ins directly.
	PolicyTrustProvider
)

func (p Policy) String() string {
	switch p {
	case PolicyVerifyBackend:
		return "verify-backend"
	case PolicyTrustProvider:
		return "trust-provider"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the String form of a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "verify-backend":
		return PolicyVerifyBackend, nil
	case "trust-provider":
		return PolicyTrustProvider, nil
	}
	return 0, fmt.Errorf("authsdk: unknown observer policy %q", s)
}

// BackendVerifier resolves an ID token to a subject id on the backend.
// SDKClient implements it.
type BackendVerifier interface {
	VerifySubject(ctx context.Context, token string) (string, error)
}

// ObserverConfig configures an Observer.
type ObserverConfig struct {
	Policy  Policy
	Backend BackendVerifier

	// InitTimeout bounds how long the observer waits for the provider's first
	// notification before settling signed out. Default 10s.
	InitTimeout time.Duration

	// VerifyTimeout bounds one backend round-trip. Default 15s.
	VerifyTimeout time.Duration

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Observer republishes provider auth notifications as SessionState.
//
// It starts INITIALIZING ({nil, true}). Every provider notification yields
// exactly one published state, in delivery order. Listeners run one at a
// time, outside the state lock, and never observe a partial state.
type Observer struct {
	provider Provider
	cfg      ObserverConfig
	logger   *slog.Logger
	tracer   trace.Tracer

	// ctx is cancelled by Stop to abandon in-flight backend verification.
	ctx    context.Context
	cancel context.CancelFunc

	// handleMu serializes notification handling and the init timeout, which
	// also orders listener calls.
	handleMu sync.Mutex

	mu        sync.Mutex
	state     SessionState
	phase     Phase
	listeners []*listener
	stopped   bool
	settled   chan struct{}
	timer     *time.Timer
	sub       *Subscription

	startOnce   sync.Once
	stopOnce    sync.Once
	settledOnce sync.Once
}

type listener struct {
	fn     func(SessionState)
	active atomic.Bool
}

// NewObserver returns an observer over p. It does nothing until Start.
func NewObserver(p Provider, cfg ObserverConfig) (*Observer, error) {
	if cfg.Policy == PolicyVerifyBackend && cfg.Backend == nil {
		return nil, ErrNoBackend
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}

	o := &Observer{
		provider: p,
		cfg:      cfg,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		state:    SessionState{Loading: true},
		phase:    PhaseInitializing,
		settled:  make(chan struct{}),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/aussiebroadwan/authsync/pkg/authsdk")
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())

	return o, nil
}

// Start subscribes to the provider. Calls after the first are no-ops.
func (o *Observer) Start() {
	o.startOnce.Do(func() {
		o.mu.Lock()
		if o.stopped {
			o.mu.Unlock()
			return
		}
		o.timer = time.AfterFunc(o.cfg.InitTimeout, o.initTimedOut)
		o.mu.Unlock()

		sub := o.provider.Subscribe(o.handle)

		o.mu.Lock()
		o.sub = sub
		stopped := o.stopped
		o.mu.Unlock()

		// Stop ran while subscribing.
		if stopped {
			sub.Unsubscribe()
		}
	})
}

// Stop unsubscribes from the provider. Safe to call from a listener and
// more than once.
//
// No state is committed after Stop returns, and a commit that is still
// dispatching skips every listener it has not reached yet. Listeners run
// outside the observer's locks, so Stop does not wait for them: one call
// that passed its check just before Stop may still start after Stop
// returns. Callers that need a hard barrier must synchronize with their
// listener themselves.
func (o *Observer) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.stopped = true
		sub := o.sub
		if o.timer != nil {
			o.timer.Stop()
		}
		o.mu.Unlock()

		o.cancel()
		if sub != nil {
			sub.Unsubscribe()
		}
	})
}

// State returns the current session state.
func (o *Observer) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Phase returns the current state machine position.
func (o *Observer) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// OnChange registers fn to receive every published state. The returned func
// removes it and, like Stop, does not wait for a call already under way.
func (o *Observer) OnChange(fn func(SessionState)) (cancel func()) {
	l := &listener{fn: fn}
	l.active.Store(true)

	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, x := range o.listeners {
				if x == l {
					o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

// Wait blocks until the state is no longer loading or ctx is done.
func (o *Observer) Wait(ctx context.Context) (SessionState, error) {
	select {
	case <-o.settled:
		return o.State(), nil
	case <-ctx.Done():
		return o.State(), ctx.Err()
	}
}

func (o *Observer) handle(subject *Subject) {
	o.handleMu.Lock()
	defer o.handleMu.Unlock()

	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.mu.Unlock()

	if subject == nil {
		o.commit(nil, PhaseUnauthenticated)
		return
	}

	if o.cfg.Policy == PolicyVerifyBackend {
		if err := o.verify(subject); err != nil {
			o.logger.Warn("backend rejected provider session",
				slog.String("uid", subject.UID),
				slog.String("error", err.Error()),
			)
			o.commit(nil, PhaseUnauthenticated)
			return
		}
	}

	o.commit(subject, PhaseAuthenticated)
}

func (o *Observer) verify(subject *Subject) (err error) {
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.VerifyTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "authsdk.verify_session",
		trace.WithAttributes(attribute.String("auth.provider", subject.ProviderID)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	token, err := o.provider.IDToken(ctx, subject)
	if err != nil {
		return fmt.Errorf("fetch id token: %w", err)
	}

	uid, err := o.cfg.Backend.VerifySubject(ctx, token)
	if err != nil {
		return fmt.Errorf("verify id token: %w", err)
	}
	if uid != subject.UID {
		return ErrSubjectMismatch
	}
	return nil
}

func (o *Observer) initTimedOut() {
	o.handleMu.Lock()
	defer o.handleMu.Unlock()

	if o.Phase() != PhaseInitializing {
		return
	}
	o.logger.Debug("no auth state from provider, settling signed out",
		slog.Duration("timeout", o.cfg.InitTimeout))
	o.commit(nil, PhaseUnauthenticated)
}

// commit must be called with handleMu held.
func (o *Observer) commit(subject *Subject, phase Phase) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.state = SessionState{Subject: subject, Loading: false}
	o.phase = phase
	state := o.state
	listeners := append([]*listener(nil), o.listeners...)
	o.mu.Unlock()

	o.settledOnce.Do(func() { close(o.settled) })

	// Checked per listener so Stop or a cancel cuts the fan-out short.
	for _, l := range listeners {
		if !l.active.Load() || o.isStopped() {
			continue
		}
		l.fn(state)
	}
}

func (o *Observer) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}
