package domain

import "time"

// Outcome categorises a bearer token verification. Callers only ever see
// "Not authorized"; the outcome is for logs, metrics and the audit trail.
type Outcome string

const (
	OutcomeVerified            Outcome = "verified"
	OutcomeMissingHeader       Outcome = "missing_header"
	OutcomeMalformedHeader     Outcome = "malformed_header"
	OutcomeInvalidToken        Outcome = "invalid_token"
	OutcomeExpiredToken        Outcome = "expired_token"
	OutcomeRevokedToken        Outcome = "revoked_token"
	OutcomeProviderUnavailable Outcome = "provider_unavailable"
)

// Outcomes lists every outcome in a stable order.
var Outcomes = []Outcome{
	OutcomeVerified,
	OutcomeMissingHeader,
	OutcomeMalformedHeader,
	OutcomeInvalidToken,
	OutcomeExpiredToken,
	OutcomeRevokedToken,
	OutcomeProviderUnavailable,
}

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	for _, known := range Outcomes {
		if o == known {
			return true
		}
	}
	return false
}

func (o Outcome) String() string { return string(o) }

// VerificationEvent is one row of the verification audit trail. It never
// holds the token or the Authorization header.
type VerificationEvent struct {
	ID         string // ULID
	SubjectID  string // empty unless verified
	Outcome    Outcome
	Cause      string // short internal reason, empty when verified
	RemoteAddr string
	CreatedAt  time.Time
}

// Verified reports whether the event records a successful verification.
func (e VerificationEvent) Verified() bool {
	return e.Outcome == OutcomeVerified
}
