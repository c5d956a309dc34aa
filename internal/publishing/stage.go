package publishing

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lectern/internal/config"
	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/render"
	"lectern/internal/resolve"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/staging"
)

// Stage adapts the coordinator to the workflow stage contract.
type Stage struct {
	cfg         *config.Config
	store       *queue.Store
	logger      *slog.Logger
	coordinator *Coordinator
	blobs       filestore.Store
}

// NewStage builds the publish stage with HTTP clients for every
// configured platform.
func NewStage(cfg *config.Config, store *queue.Store, logger *slog.Logger, blobs filestore.Store) *Stage {
	clients := make(map[string]Client, len(cfg.Platforms))
	for name, platform := range cfg.Platforms {
		clients[name] = NewHTTPClient(name, platform)
	}
	coordinator := NewCoordinator(store, clients, logger, Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelay) * time.Second,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelay) * time.Second,
	})
	return NewStageWithDependencies(cfg, store, logger, coordinator, blobs)
}

// NewStageWithDependencies allows injecting collaborators (used in tests).
func NewStageWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, coordinator *Coordinator, blobs filestore.Store) *Stage {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "publishing"))
	}
	return &Stage{cfg: cfg, store: store, logger: logger, coordinator: coordinator, blobs: blobs}
}

func (s *Stage) SetLogger(logger *slog.Logger) { s.logger = logger }

// Prepare resolves the target list and seeds per-target rows. Items with
// no resolved targets are routed to the skipped terminal instead of
// failing.
func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	if strings.TrimSpace(item.MediaRef) == "" {
		return services.Wrap(services.ErrValidation, "publish", "validate inputs",
			"item has no processed media to publish", nil)
	}

	effective, err := resolve.Load(ctx, s.store, item)
	if err != nil {
		return err
	}
	if effective.SkipReason != "" {
		item.Status = queue.StatusSkipped
		item.ErrorMessage = effective.SkipReason
		return nil
	}

	specs := make([]queue.TargetSpec, 0, len(effective.Output.Targets))
	for _, target := range effective.Output.Targets {
		specs = append(specs, queue.TargetSpec{
			Platform: target.Platform,
			Required: target.RequiredOrDefault(),
		})
	}
	return s.store.EnsureTargets(ctx, item.ID, specs)
}

func (s *Stage) Execute(ctx context.Context, item *queue.Item) error {
	if item.Status == queue.StatusSkipped {
		return nil
	}
	logger := logging.WithContext(ctx, s.logger)

	effective, err := resolve.Load(ctx, s.store, item)
	if err != nil {
		return err
	}
	policy := effective.Output.Policy
	if policy == "" {
		policy = s.cfg.Publish.DefaultPolicy
	}

	scratch := staging.ItemDir(s.cfg.Paths.StagingDir, item.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "publish", "prepare staging",
			"staging directory is not writable", err)
	}
	mediaPath := filepath.Join(scratch, "publish-media.mp4")
	defer os.Remove(mediaPath)
	if err := s.blobs.Fetch(ctx, item.MediaRef, mediaPath); err != nil {
		return services.Wrap(services.ErrTransient, "publish", "fetch artifact",
			"processed media is unavailable", err)
	}

	subtitlePath := ""
	if item.SubtitleRef != "" {
		subtitlePath = filepath.Join(scratch, "publish-subtitles")
		defer os.Remove(subtitlePath)
		if err := s.blobs.Fetch(ctx, item.SubtitleRef, subtitlePath); err != nil {
			return services.Wrap(services.ErrTransient, "publish", "fetch artifact",
				"subtitle track is unavailable", err)
		}
	}

	req := Request{
		TenantID:     item.TenantID,
		SourceID:     item.SourceID,
		MediaPath:    mediaPath,
		SubtitlePath: subtitlePath,
		Metadata:     render.Metadata(item, effective.Metadata, time.Now().UTC()),
	}

	outcome, err := s.coordinator.Publish(ctx, item, policy, req)
	logger.Info("publish run finished",
		logging.String(logging.FieldEventType, "publish_complete"),
		logging.String("policy", policy),
		logging.Int("succeeded", len(outcome.Succeeded)),
		logging.Int("failed", len(outcome.Failed)))
	return err
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.coordinator == nil || len(s.coordinator.clients) == 0 {
		return stage.Unhealthy("publishing", "no platforms configured")
	}
	return stage.Healthy("publishing")
}
