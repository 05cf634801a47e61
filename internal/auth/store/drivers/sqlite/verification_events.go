package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/authsync/internal/auth/domain"
)

const verificationEventColumns = `id, subject_id, outcome, cause, remote_addr, created_at`

type verificationEventsRepo struct {
	db *sql.DB
}

func (r *verificationEventsRepo) RecordVerificationEvent(ctx context.Context, ev domain.VerificationEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_events (`+verificationEventColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID,
		mapStringNull(ev.SubjectID),
		string(ev.Outcome),
		ev.Cause,
		ev.RemoteAddr,
		ev.CreatedAt.UnixMilli(),
	)
	return mapConstraint(err)
}

func (r *verificationEventsRepo) GetVerificationEvent(ctx context.Context, id string) (domain.VerificationEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+verificationEventColumns+` FROM verification_events WHERE id = ?`, id)

	ev, err := scanVerificationEvent(row)
	if err != nil {
		return domain.VerificationEvent{}, mapNotFound(err)
	}
	return ev, nil
}

func (r *verificationEventsRepo) ListRecentVerificationEvents(ctx context.Context, limit int) ([]domain.VerificationEvent, error) {
	return r.list(ctx,
		`SELECT `+verificationEventColumns+` FROM verification_events
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

func (r *verificationEventsRepo) ListVerificationEventsBySubject(ctx context.Context, subjectID string, limit int) ([]domain.VerificationEvent, error) {
	return r.list(ctx,
		`SELECT `+verificationEventColumns+` FROM verification_events
		 WHERE subject_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, subjectID, limit)
}

func (r *verificationEventsRepo) CountVerificationOutcomesSince(ctx context.Context, since time.Time) (map[domain.Outcome]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM verification_events WHERE created_at >= ? GROUP BY outcome`,
		since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Outcome]int64)
	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[domain.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

func (r *verificationEventsRepo) DeleteVerificationEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_events WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *verificationEventsRepo) list(ctx context.Context, query string, args ...any) ([]domain.VerificationEvent, error) {
	if n, ok := args[len(args)-1].(int); ok && n <= 0 {
		args[len(args)-1] = -1 // sqlite: no limit
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.VerificationEvent
	for rows.Next() {
		ev, err := scanVerificationEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerificationEvent(s scanner) (domain.VerificationEvent, error) {
	var (
		ev        domain.VerificationEvent
		subjectID sql.NullString
		outcome   string
		createdAt int64
	)
	if err := s.Scan(&ev.ID, &subjectID, &outcome, &ev.Cause, &ev.RemoteAddr, &createdAt); err != nil {
		return domain.VerificationEvent{}, err
	}

	ev.SubjectID = mapNullString(subjectID)
	ev.Outcome = domain.Outcome(outcome)
	ev.CreatedAt = time.UnixMilli(createdAt).UTC()
	return ev, nil
}
