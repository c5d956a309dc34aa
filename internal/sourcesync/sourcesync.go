// Package sourcesync ingests newly finished recordings from the source
// system into the processing queue.
package sourcesync

import (
	"context"
	"log/slog"
	"time"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/quota"
	"lectern/internal/templates"
)

// Recording is one entry from the source system's listing.
type Recording struct {
	SourceID        string
	TenantID        string
	Title           string
	DurationSeconds float64
	SizeBytes       int64
}

// Lister enumerates recordings ready for ingestion.
type Lister interface {
	ListRecordings(ctx context.Context) ([]Recording, error)
}

// Syncer polls the source system and creates queue items. Ingestion is
// idempotent on (tenant, source id), so re-announced recordings are
// ignored.
type Syncer struct {
	cfg     *config.Config
	store   *queue.Store
	logger  *slog.Logger
	lister  Lister
	matcher *templates.Matcher
	gate    *quota.Gate
	now     func() time.Time
}

func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, lister Lister, matcher *templates.Matcher, gate *quota.Gate) *Syncer {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "sourcesync"))
	}
	return &Syncer{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		lister:  lister,
		matcher: matcher,
		gate:    gate,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until the context is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Source.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if created, err := s.SyncOnce(ctx); err != nil {
			s.logger.Warn("source sync failed", logging.Error(err))
		} else if created > 0 {
			s.logger.Info("source sync complete",
				logging.String(logging.FieldEventType, "sync_complete"),
				logging.Int("created", created))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SyncOnce ingests every new recording from one listing and returns the
// number of items created.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	recordings, err := s.lister.ListRecordings(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, recording := range recordings {
		ok, err := s.ingest(ctx, recording)
		if err != nil {
			s.logger.Warn("ingest failed",
				logging.String(logging.FieldTenant, recording.TenantID),
				logging.String("source_id", recording.SourceID),
				logging.Error(err))
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *Syncer) ingest(ctx context.Context, recording Recording) (bool, error) {
	existing, err := s.store.FindBySource(ctx, recording.TenantID, recording.SourceID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	tenant, err := s.store.GetTenant(ctx, recording.TenantID)
	if err != nil {
		return false, err
	}
	if tenant == nil {
		s.logger.Warn("recording for unknown tenant ignored",
			logging.String(logging.FieldTenant, recording.TenantID),
			logging.String("source_id", recording.SourceID))
		return false, nil
	}

	// Per-period item quota is charged at intake. A refused recording
	// stays at the source and is retried on a later poll, typically in
	// the next period.
	admitted, err := s.gate.AdmitItem(ctx, tenant)
	if err != nil {
		return false, err
	}
	if !admitted {
		s.logger.Info("item quota exhausted, deferring ingest",
			logging.String(logging.FieldEventType, "sync_quota_deferred"),
			logging.String(logging.FieldTenant, recording.TenantID),
			logging.String("source_id", recording.SourceID))
		return false, nil
	}

	var expireAt *time.Time
	if tenant.RetentionDays > 0 {
		expiry := s.now().Add(time.Duration(tenant.RetentionDays) * 24 * time.Hour)
		expireAt = &expiry
	}

	item, err := s.store.NewItem(ctx, queue.NewItemParams{
		TenantID:        recording.TenantID,
		SourceID:        recording.SourceID,
		Title:           recording.Title,
		DurationSeconds: recording.DurationSeconds,
		SizeBytes:       recording.SizeBytes,
		ExpireAt:        expireAt,
	})
	if err != nil {
		return false, err
	}

	if _, err := s.matcher.Assign(ctx, item); err != nil {
		return false, err
	}

	s.logger.Info("recording ingested",
		logging.String(logging.FieldEventType, "sync_ingested"),
		logging.String(logging.FieldTenant, recording.TenantID),
		logging.String("source_id", recording.SourceID),
		logging.Int64(logging.FieldItemID, item.ID))
	return true, nil
}
