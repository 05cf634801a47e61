// Package authaudit reads the verification audit trail written by the auth
// service. It opens the database file directly and never writes to it
// beyond applying pending migrations.
package authaudit

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/aussiebroadwan/authsync/internal/auth/domain"
	"github.com/aussiebroadwan/authsync/internal/auth/store"
	"github.com/aussiebroadwan/authsync/internal/auth/store/drivers/sqlite"
	"github.com/caarlos0/env/v11"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds the audit command configuration.
type Config struct {
	DatabaseFile string        `env:"AUTH_DATABASE_FILE" envDefault:"auth.db"`
	Limit        int           `env:"AUTH_AUDIT_LIMIT" envDefault:"50"`
	Since        time.Duration `env:"AUTH_AUDIT_SINCE" envDefault:"24h"`

	EventID string
	Subject string
	Format  string
}

// ParseConfig reads environ then applies flags from args.
func ParseConfig(fs *flag.FlagSet, args []string, environ map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	fs.StringVar(&cfg.DatabaseFile, "db", cfg.DatabaseFile, "auth service database file")
	fs.StringVar(&cfg.EventID, "id", "", "show a single event")
	fs.StringVar(&cfg.Subject, "subject", "", "only events for this user id")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "maximum events to list, 0 for all")
	fs.DurationVar(&cfg.Since, "since", cfg.Since, "window for the outcome summary")
	fs.StringVar(&cfg.Format, "format", FormatText, "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	switch {
	case cfg.DatabaseFile == "":
		return Config{}, errors.New("database file is required (-db or AUTH_DATABASE_FILE)")
	case cfg.Format != FormatText && cfg.Format != FormatJSON:
		return Config{}, fmt.Errorf("unknown format %q", cfg.Format)
	case cfg.Limit < 0:
		return Config{}, fmt.Errorf("limit must not be negative, got %d", cfg.Limit)
	case cfg.Since <= 0:
		return Config{}, fmt.Errorf("since must be positive, got %s", cfg.Since)
	case cfg.EventID != "" && cfg.Subject != "":
		return Config{}, errors.New("-id and -subject are mutually exclusive")
	}
	return cfg, nil
}

// Report is what a run prints.
type Report struct {
	Events  []Event          `json:"events"`
	Since   time.Time        `json:"since"`
	Summary map[string]int64 `json:"summary"`
}

// Event is the printable form of a verification event.
type Event struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Cause      string    `json:"cause,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Run opens the database, builds the report and writes it to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	st, err := sqlite.NewStore(sqlite.FileDSN(cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.ApplyMigrations(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	report, err := Build(ctx, st, cfg, time.Now())
	if err != nil {
		return err
	}
	return Write(out, cfg.Format, report)
}

// Build queries st for the events cfg selects and the outcome summary over
// the window ending at now.
func Build(ctx context.Context, st store.Store, cfg Config, now time.Time) (Report, error) {
	repo := st.VerificationEvents()

	var (
		events []domain.VerificationEvent
		err    error
	)
	switch {
	case cfg.EventID != "":
		var ev domain.VerificationEvent
		ev, err = repo.GetVerificationEvent(ctx, cfg.EventID)
		if errors.Is(err, store.ErrNotFound) {
			return Report{}, fmt.Errorf("event %s not found", cfg.EventID)
		}
		events = []domain.VerificationEvent{ev}
	case cfg.Subject != "":
		events, err = repo.ListVerificationEventsBySubject(ctx, cfg.Subject, cfg.Limit)
	default:
		events, err = repo.ListRecentVerificationEvents(ctx, cfg.Limit)
	}
	if err != nil {
		return Report{}, fmt.Errorf("list events: %w", err)
	}

	since := now.Add(-cfg.Since).UTC()
	counts, err := repo.CountVerificationOutcomesSince(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("count outcomes: %w", err)
	}

	report := Report{
		Events:  make([]Event, 0, len(events)),
		Since:   since,
		Summary: make(map[string]int64, len(counts)),
	}
	for _, ev := range events {
		report.Events = append(report.Events, Event{
			ID:         ev.ID,
			SubjectID:  ev.SubjectID,
			Outcome:    ev.Outcome.String(),
			Cause:      ev.Cause,
			RemoteAddr: ev.RemoteAddr,
			CreatedAt:  ev.CreatedAt,
		})
	}
	for o, n := range counts {
		report.Summary[o.String()] = n
	}
	return report, nil
}

// Write renders report in format.
func Write(out io.Writer, format string, report Report) error {
	if format == FormatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOUTCOME\tSUBJECT\tREMOTE\tCAUSE")
	for _, ev := range report.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.CreatedAt.Format(time.RFC3339), ev.Outcome, dash(ev.SubjectID), dash(ev.RemoteAddr), dash(ev.Cause))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\noutcomes since %s:\n", report.Since.Format(time.RFC3339))
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, o := range domain.Outcomes {
		fmt.Fprintf(tw, "  %s\t%d\n", o, report.Summary[o.String()])
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
