// Package fetching downloads the original recording from the source
// system and places it in artifact storage.
package fetching

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"lectern/internal/config"
	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/quota"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/staging"
)

// Downloader retrieves the raw recording for a source id into a local
// file and reports its size.
type Downloader interface {
	Download(ctx context.Context, sourceID, destPath string) (int64, error)
	Ping(ctx context.Context) error
}

// Fetcher is the first workflow stage.
type Fetcher struct {
	cfg        *config.Config
	store      *queue.Store
	logger     *slog.Logger
	downloader Downloader
	blobs      filestore.Store
	gate       *quota.Gate
}

func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, blobs filestore.Store, gate *quota.Gate) *Fetcher {
	return NewWithDependencies(cfg, store, logger, NewHTTPDownloader(cfg.Source), blobs, gate)
}

// NewWithDependencies allows injecting collaborators (used in tests).
func NewWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, downloader Downloader, blobs filestore.Store, gate *quota.Gate) *Fetcher {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "fetching"))
	}
	return &Fetcher{cfg: cfg, store: store, logger: logger, downloader: downloader, blobs: blobs, gate: gate}
}

func (f *Fetcher) SetLogger(logger *slog.Logger) { f.logger = logger }

func (f *Fetcher) Prepare(ctx context.Context, item *queue.Item) error {
	if strings.TrimSpace(item.SourceID) == "" {
		return services.Wrap(services.ErrValidation, "fetch", "validate inputs",
			"item has no source recording id", nil)
	}
	return nil
}

func (f *Fetcher) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, f.logger)

	scratch := staging.ItemDir(f.cfg.Paths.StagingDir, item.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "fetch", "prepare staging",
			"staging directory is not writable", err)
	}
	localPath := filepath.Join(scratch, "source.mp4")

	size, err := f.downloader.Download(ctx, item.SourceID, localPath)
	if err != nil {
		return err
	}
	logger.Info("recording downloaded",
		logging.String(logging.FieldEventType, "fetch_download"),
		logging.Int64("size_bytes", size))

	tenant, err := f.store.GetTenant(ctx, item.TenantID)
	if err != nil {
		return err
	}
	if tenant != nil && f.gate != nil {
		ok, err := f.gate.ReserveStorage(ctx, tenant, size)
		if err != nil {
			return err
		}
		if !ok {
			os.Remove(localPath)
			return services.Wrap(services.ErrTransient, "fetch", "reserve storage",
				fmt.Sprintf("tenant %s storage quota exhausted", item.TenantID), nil)
		}
	}

	key := fmt.Sprintf("%s/%s/source.mp4", item.TenantID, item.SourceID)
	ref, err := f.blobs.Save(ctx, key, localPath)
	if err != nil {
		if tenant != nil && f.gate != nil {
			if releaseErr := f.gate.ReleaseStorage(ctx, item.TenantID, size); releaseErr != nil {
				logger.Warn("storage release failed", logging.Error(releaseErr))
			}
		}
		return services.Wrap(services.ErrTransient, "fetch", "store artifact",
			"failed to persist fetched recording", err)
	}
	os.Remove(localPath)

	item.SourceRef = ref
	item.SizeBytes = size
	return nil
}

func (f *Fetcher) HealthCheck(ctx context.Context) stage.Health {
	if f.downloader == nil {
		return stage.Unhealthy("fetching", "no source downloader configured")
	}
	if err := f.downloader.Ping(ctx); err != nil {
		return stage.Unhealthy("fetching", err.Error())
	}
	return stage.Healthy("fetching")
}
