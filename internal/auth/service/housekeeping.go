package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/authsync/internal/auth/domain"
	"github.com/aussiebroadwan/authsync/internal/auth/store"
)

// DefaultAuditRetention is how long verification events are kept.
const DefaultAuditRetention = 7 * 24 * time.Hour

// HousekeepingService periodically purges verification events older than
// Retention so the audit table does not grow without bound.
type HousekeepingService struct {
	Store     store.Store
	Logger    *slog.Logger
	Interval  time.Duration
	Retention time.Duration
	Now       func() time.Time

	// Internal channels for lifecycle management
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewHousekeepingService creates a new housekeeping service with the given
// interval and retention. Non-positive values fall back to 1 hour and
// DefaultAuditRetention.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval, retention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:     store,
		Logger:    logger,
		Interval:  interval,
		Retention: retention,
		Now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval, "retention", s.Retention)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.Logger.Info("housekeeping service stopped")
	})
}

// run is the main background worker loop.
func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup deletes verification events older than the retention horizon and
// returns how many were removed.
func (s *HousekeepingService) Cleanup(ctx context.Context) int64 {
	cutoff := s.Now().Add(-s.Retention)
	s.Logger.Debug("starting housekeeping cleanup", "cutoff", cutoff)

	deleted, err := s.Store.VerificationEvents().DeleteVerificationEventsBefore(ctx, cutoff)
	if err != nil {
		s.Logger.Error("failed to purge verification events", "error", err)
		return 0
	}

	s.Logger.Info("housekeeping cleanup completed", "verification_events_deleted", deleted)
	s.logOutcomes(ctx)
	return deleted
}

// logOutcomes summarises verifications seen over the last interval.
func (s *HousekeepingService) logOutcomes(ctx context.Context) {
	counts, err := s.Store.VerificationEvents().CountVerificationOutcomesSince(ctx, s.Now().Add(-s.Interval))
	if err != nil {
		s.Logger.Warn("failed to count verification outcomes", "error", err)
		return
	}

	attrs := make([]any, 0, 2*len(domain.Outcomes)+2)
	attrs = append(attrs, "window", s.Interval)
	for _, o := range domain.Outcomes {
		if n := counts[o]; n > 0 {
			attrs = append(attrs, o.String(), n)
		}
	}
	s.Logger.Info("verification outcomes", attrs...)
}
