package workflow

import (
	"context"
	"log/slog"
	"time"

	"lectern/internal/config"
	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/quota"
)

// ExpirySweeper retires items past their retention deadline, removing
// their stored artifacts and returning the bytes to the tenant quota.
type ExpirySweeper struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	blobs    filestore.Store
	gate     *quota.Gate
	interval time.Duration
	now      func() time.Time
}

// NewExpirySweeper builds a sweeper over the queue store and blob store.
func NewExpirySweeper(cfg *config.Config, store *queue.Store, logger *slog.Logger, blobs filestore.Store, gate *quota.Gate) *ExpirySweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := time.Duration(cfg.Workflow.ExpirySweepInterval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpirySweeper{
		cfg:      cfg,
		store:    store,
		logger:   logger.With(logging.String(logging.FieldComponent, "expiry")),
		blobs:    blobs,
		gate:     gate,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until the context ends.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("expiry sweep failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "expiry_sweep_failed"))
			}
		}
	}
}

// SweepOnce expires every item whose deadline has passed and returns
// how many were retired.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := s.store.ItemsExpiredBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	retired := 0
	for _, item := range expired {
		if err := s.expireItem(ctx, item); err != nil {
			s.logger.Warn("expiring item failed",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "item_expire_failed"))
			continue
		}
		retired++
	}
	return retired, nil
}

func (s *ExpirySweeper) expireItem(ctx context.Context, item *queue.Item) error {
	for _, ref := range item.OwnedRefs() {
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.logger.Warn("deleting expired artifact failed",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.String("ref", ref),
				logging.Error(err),
				logging.String(logging.FieldEventType, "artifact_delete_failed"))
		}
	}
	if item.SizeBytes > 0 {
		if err := s.gate.ReleaseStorage(ctx, item.TenantID, item.SizeBytes); err != nil {
			s.logger.Warn("releasing storage quota failed",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "quota_release_failed"))
		}
	}

	item.Status = queue.StatusExpired
	item.ErrorMessage = "retention period elapsed"
	item.NextAttemptAt = nil
	item.LastHeartbeat = nil
	if err := s.store.Update(ctx, item); err != nil {
		return err
	}
	s.logger.Info("item expired",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTenant, item.TenantID),
		logging.String(logging.FieldEventType, "item_expired"))
	return nil
}
