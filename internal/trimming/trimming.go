// Package trimming removes leading, trailing, and mid-recording silence
// from fetched recordings.
package trimming

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
	"lectern/internal/resolve"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/staging"
)

// Default silence detection parameters, overridable per item through the
// resolved processing section.
const (
	defaultThresholdDB = -35.0
	defaultMinSilence  = 2.0
)

// Trimmer runs the actual silence removal on a local file.
type Trimmer interface {
	Trim(ctx context.Context, inputPath, outputPath string, thresholdDB, minSilenceSeconds float64) error
	Available() error
}

// Stage cuts silences out of the fetched recording and stores the
// trimmed media as a new artifact.
type Stage struct {
	cfg     *config.Config
	store   *queue.Store
	logger  *slog.Logger
	trimmer Trimmer
	blobs   filestore.Store
}

func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, blobs filestore.Store) *Stage {
	return NewWithDependencies(cfg, store, logger, NewFFmpeg(cfg.Tools.FFmpeg), blobs)
}

// NewWithDependencies allows injecting collaborators (used in tests).
func NewWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, trimmer Trimmer, blobs filestore.Store) *Stage {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "trimming"))
	}
	return &Stage{cfg: cfg, store: store, logger: logger, trimmer: trimmer, blobs: blobs}
}

func (s *Stage) SetLogger(logger *slog.Logger) { s.logger = logger }

func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	if strings.TrimSpace(item.SourceRef) == "" {
		return services.Wrap(services.ErrValidation, "trim", "validate inputs",
			"item has no fetched recording; fetch must run first", nil)
	}
	return nil
}

func (s *Stage) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, s.logger)

	effective, err := resolve.Load(ctx, s.store, item)
	if err != nil {
		return err
	}
	if !effective.StageEnabled("trim") {
		item.MediaRef = item.SourceRef
		return stage.Skip("silence trimming disabled for this item")
	}

	scratch := staging.ItemDir(s.cfg.Paths.StagingDir, item.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "trim", "prepare staging",
			"staging directory is not writable", err)
	}
	inputPath := filepath.Join(scratch, "source.mp4")
	outputPath := filepath.Join(scratch, "trimmed.mp4")
	defer os.Remove(inputPath)
	defer os.Remove(outputPath)

	if err := s.blobs.Fetch(ctx, item.SourceRef, inputPath); err != nil {
		return services.Wrap(services.ErrTransient, "trim", "fetch artifact",
			"fetched recording is unavailable", err)
	}

	threshold := defaultThresholdDB
	if effective.Processing.SilenceThresholdDB != nil {
		threshold = *effective.Processing.SilenceThresholdDB
	}
	minSilence := defaultMinSilence
	if effective.Processing.MinSilenceSeconds != nil {
		minSilence = *effective.Processing.MinSilenceSeconds
	}

	if err := s.trimmer.Trim(ctx, inputPath, outputPath, threshold, minSilence); err != nil {
		return err
	}

	key := fmt.Sprintf("%s/%s/trimmed.mp4", item.TenantID, item.SourceID)
	ref, err := s.blobs.Save(ctx, key, outputPath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "trim", "store artifact",
			"failed to persist trimmed recording", err)
	}
	item.MediaRef = ref

	if info, err := os.Stat(outputPath); err == nil {
		logger.Info("silence trimmed",
			logging.String(logging.FieldEventType, "trim_complete"),
			logging.Int64("trimmed_bytes", info.Size()))
	}
	return nil
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.trimmer == nil {
		return stage.Unhealthy("trimming", "no trimmer configured")
	}
	if err := s.trimmer.Available(); err != nil {
		return stage.Unhealthy("trimming", err.Error())
	}
	return stage.Healthy("trimming")
}
