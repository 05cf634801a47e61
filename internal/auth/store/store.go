package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/authsync/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite) implement
// this. It exposes sub-repositories to keep concerns tidy and testable.
type Store interface {
	VerificationEvents() VerificationEvents

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// VerificationEvents is the audit trail of bearer token verifications.
type VerificationEvents interface {
	// RecordVerificationEvent inserts an event. The id is provided by the
	// caller (ULID); a duplicate id returns ErrAlreadyExists.
	RecordVerificationEvent(ctx context.Context, ev domain.VerificationEvent) error

	// GetVerificationEvent returns an event by id.
	GetVerificationEvent(ctx context.Context, id string) (domain.VerificationEvent, error)

	// ListRecentVerificationEvents returns up to limit events, newest first.
	ListRecentVerificationEvents(ctx context.Context, limit int) ([]domain.VerificationEvent, error)

	// ListVerificationEventsBySubject returns up to limit events for one
	// subject, newest first.
	ListVerificationEventsBySubject(ctx context.Context, subjectID string, limit int) ([]domain.VerificationEvent, error)

	// CountVerificationOutcomesSince tallies events created at or after since.
	CountVerificationOutcomesSince(ctx context.Context, since time.Time) (map[domain.Outcome]int64, error)

	// DeleteVerificationEventsBefore purges events created before the cutoff
	// and returns how many rows went.
	DeleteVerificationEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
