package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authsync/internal/auth/domain"
	"github.com/aussiebroadwan/authsync/internal/auth/store"
	"github.com/aussiebroadwan/authsync/internal/auth/telemetry"
	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/cryptox"
	"github.com/aussiebroadwan/authsync/pkg/httpx"
	"github.com/aussiebroadwan/authsync/pkg/idx"
	"github.com/aussiebroadwan/authsync/pkg/jwtx"
	"github.com/aussiebroadwan/authsync/pkg/slogx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultVerifyTimeout bounds a single provider verification.
	DefaultVerifyTimeout = 15 * time.Second

	// auditTimeout bounds the audit insert, independent of the request.
	auditTimeout = 2 * time.Second

	maxCauseLength = 256

	// fingerprintLength is how much of a token fingerprint goes into logs,
	// enough to correlate retries of the same token.
	fingerprintLength = 16
)

// ErrNotAuthorized is the only error Verify returns. Use errors.Is; the
// wrapped cause is for logs and must not reach the caller.
var ErrNotAuthorized = authsdk.ErrNotAuthorized

// Verification is a successfully verified bearer token.
type Verification struct {
	SubjectID string
	Token     string
}

// VerifyService turns an Authorization header into a subject id, or rejects
// it. Collaborators are set once at construction and only read afterwards.
type VerifyService struct {
	Verifier authsdk.TokenVerifier

	// Store, when set, receives one audit row per verification.
	Store store.Store

	Metrics *telemetry.VerifyMetrics
	Tracer  trace.Tracer

	// Timeout defaults to DefaultVerifyTimeout.
	Timeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

type remoteAddrKey struct{}

// WithRemoteAddr attaches the caller's address for the audit trail.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func remoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

// Verify checks authorization, which must be "Bearer <token>". Every
// failure, whatever the cause, is reported as ErrNotAuthorized.
func (s *VerifyService) Verify(ctx context.Context, authorization string) (Verification, error) {
	start := s.now()

	ctx, span := s.tracer().Start(ctx, "auth.verify",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	v, err := s.verify(ctx, authorization)
	outcome := Categorize(err)

	s.Metrics.Record(ctx, outcome, s.now().Sub(start))
	span.SetAttributes(attribute.String("auth.outcome", outcome.String()))
	s.audit(ctx, v.SubjectID, outcome, err)

	if err != nil {
		span.SetStatus(codes.Error, outcome.String())
		span.RecordError(err)

		log := s.logger(ctx)
		if token, terr := httpx.BearerToken(authorization); terr == nil {
			log = log.With("token_fp", cryptox.FingerprintToken(token)[:fingerprintLength])
		}
		if outcome == domain.OutcomeProviderUnavailable {
			log.Error("token verification unavailable", "outcome", outcome, "err", err)
		} else {
			log.Warn("token verification failed", "outcome", outcome, "err", err)
		}
		return Verification{}, fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}

	span.SetStatus(codes.Ok, "")
	return v, nil
}

func (s *VerifyService) verify(ctx context.Context, authorization string) (Verification, error) {
	token, err := httpx.BearerToken(authorization)
	if err != nil {
		return Verification{}, err
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	verified, err := s.Verifier.VerifyIDToken(ctx, token)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return Verification{}, err
	}
	if verified == nil || verified.UID == "" {
		return Verification{}, jwtx.ErrSubject
	}

	return Verification{SubjectID: verified.UID, Token: token}, nil
}

// Categorize maps a verification error to its audit outcome. A nil error is
// OutcomeVerified.
func Categorize(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeVerified
	case errors.Is(err, httpx.ErrMissingAuthorization):
		return domain.OutcomeMissingHeader
	case errors.Is(err, httpx.ErrMalformedAuthorization):
		return domain.OutcomeMalformedHeader
	case errors.Is(err, jwtx.ErrRevoked):
		return domain.OutcomeRevokedToken
	case errors.Is(err, jwtx.ErrExpired):
		return domain.OutcomeExpiredToken
	case errors.Is(err, authsdk.ErrProviderUnavailable),
		errors.Is(err, jwtx.ErrKeysUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return domain.OutcomeProviderUnavailable
	default:
		return domain.OutcomeInvalidToken
	}
}

func (s *VerifyService) audit(ctx context.Context, subjectID string, outcome domain.Outcome, cause error) {
	if s.Store == nil {
		return
	}

	ev := domain.VerificationEvent{
		ID:         idx.New().String(),
		SubjectID:  subjectID,
		Outcome:    outcome,
		RemoteAddr: remoteAddr(ctx),
		CreatedAt:  s.now().UTC(),
	}
	if cause != nil {
		ev.Cause = cause.Error()
		if len(ev.Cause) > maxCauseLength {
			ev.Cause = ev.Cause[:maxCauseLength]
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	if err := s.Store.VerificationEvents().RecordVerificationEvent(ctx, ev); err != nil {
		s.logger(ctx).Warn("failed to record verification event", "outcome", outcome, "err", err)
	}
}

func (s *VerifyService) tracer() trace.Tracer {
	if s.Tracer == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return s.Tracer
}

func (s *VerifyService) logger(ctx context.Context) *slog.Logger {
	if l := slogx.FromContext(ctx); l != nil && l != slog.Default() {
		return l
	}
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *VerifyService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
