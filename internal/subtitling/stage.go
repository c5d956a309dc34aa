package subtitling

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
	"lectern/internal/transcript"
)

// Stage renders the subtitle artifact from the transcript.
type Stage struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	blobs  filestore.Store
}

func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, blobs filestore.Store) *Stage {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "subtitling"))
	}
	return &Stage{cfg: cfg, store: store, logger: logger, blobs: blobs}
}

func (s *Stage) SetLogger(logger *slog.Logger) { s.logger = logger }

func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	return nil
}

func (s *Stage) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, s.logger)

	effective, err := resolve.Load(ctx, s.store, item)
	if err != nil {
		return err
	}
	if !effective.StageEnabled("subtitle") {
		return stage.Skip("subtitle generation disabled for this item")
	}
	if strings.TrimSpace(item.TranscriptRef) == "" {
		return stage.Skip("no transcript available for subtitle generation")
	}

	staging := filepath.Join(s.cfg.Paths.StagingDir, fmt.Sprintf("item-%d", item.ID))
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "subtitle", "prepare staging",
			"staging directory is not writable", err)
	}
	transcriptPath := filepath.Join(staging, "transcript.json")
	defer os.Remove(transcriptPath)

	if err := s.blobs.Fetch(ctx, item.TranscriptRef, transcriptPath); err != nil {
		return services.Wrap(services.ErrTransient, "subtitle", "fetch artifact",
			"transcript is unavailable", err)
	}
	doc, err := transcript.LoadFile(transcriptPath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "subtitle", "load transcript",
			"stored transcript is unreadable", err)
	}

	format := effective.Processing.SubtitleFormat
	rendered, err := Render(doc, format)
	if err != nil {
		return services.Wrap(services.ErrValidation, "subtitle", "render",
			"subtitle format is not supported", err)
	}

	subtitlePath := filepath.Join(staging, "subtitles."+Extension(format))
	defer os.Remove(subtitlePath)
	if err := os.WriteFile(subtitlePath, []byte(rendered), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "subtitle", "write subtitles",
			"failed to write subtitle document", err)
	}

	key := fmt.Sprintf("%s/%s/subtitles.%s", item.TenantID, item.SourceID, Extension(format))
	ref, err := s.blobs.Save(ctx, key, subtitlePath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "subtitle", "store artifact",
			"failed to persist subtitles", err)
	}
	item.SubtitleRef = ref

	logger.Info("subtitles rendered",
		logging.String(logging.FieldEventType, "subtitle_complete"),
		logging.String("format", Extension(format)),
		logging.Int("cues", len(doc.Segments)))
	return nil
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.blobs == nil {
		return stage.Unhealthy("subtitling", "no artifact store configured")
	}
	return stage.Healthy("subtitling")
}
