// Package transcribing produces a timed transcript for the trimmed
// recording.
package transcribing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"lectern/internal/config"
	"lectern/internal/filestore"
	"lectern/internal/language"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/resolve"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/staging"
	"lectern/internal/transcript"
)

// Transcriber runs speech recognition on a local media file.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath, language string) (*transcript.Transcript, error)
	Available() error
}

// Stage generates the transcript artifact.
type Stage struct {
	cfg         *config.Config
	store       *queue.Store
	logger      *slog.Logger
	transcriber Transcriber
	blobs       filestore.Store
}

func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, blobs filestore.Store) *Stage {
	return NewWithDependencies(cfg, store, logger, NewCLI(cfg.Tools.Transcriber), blobs)
}

// NewWithDependencies allows injecting collaborators (used in tests).
func NewWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, transcriber Transcriber, blobs filestore.Store) *Stage {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "transcribing"))
	}
	return &Stage{cfg: cfg, store: store, logger: logger, transcriber: transcriber, blobs: blobs}
}

func (s *Stage) SetLogger(logger *slog.Logger) { s.logger = logger }

func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	if strings.TrimSpace(item.MediaRef) == "" {
		return services.Wrap(services.ErrValidation, "transcribe", "validate inputs",
			"item has no processed media; trimming must run first", nil)
	}
	return nil
}

func (s *Stage) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, s.logger)

	effective, err := resolve.Load(ctx, s.store, item)
	if err != nil {
		return err
	}
	if !effective.StageEnabled("transcribe") {
		return stage.Skip("transcription disabled for this item")
	}

	scratch := staging.ItemDir(s.cfg.Paths.StagingDir, item.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "transcribe", "prepare staging",
			"staging directory is not writable", err)
	}
	mediaPath := filepath.Join(scratch, "media.mp4")
	transcriptPath := filepath.Join(scratch, "transcript.json")
	defer os.Remove(mediaPath)
	defer os.Remove(transcriptPath)

	if err := s.blobs.Fetch(ctx, item.MediaRef, mediaPath); err != nil {
		return services.Wrap(services.ErrTransient, "transcribe", "fetch artifact",
			"processed media is unavailable", err)
	}

	lang := language.Normalize(effective.Processing.TranscribeLanguage)
	result, err := s.transcriber.Transcribe(ctx, mediaPath, lang)
	if err != nil {
		return err
	}
	if result.Empty() {
		logger.Warn("transcript contains no speech",
			logging.String(logging.FieldEventType, "transcribe_empty"))
	}

	if err := result.SaveFile(transcriptPath); err != nil {
		return services.Wrap(services.ErrTransient, "transcribe", "write transcript",
			"failed to write transcript document", err)
	}
	key := fmt.Sprintf("%s/%s/transcript.json", item.TenantID, item.SourceID)
	ref, err := s.blobs.Save(ctx, key, transcriptPath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transcribe", "store artifact",
			"failed to persist transcript", err)
	}
	item.TranscriptRef = ref

	logger.Info("transcription complete",
		logging.String(logging.FieldEventType, "transcribe_complete"),
		logging.Int("segments", len(result.Segments)),
		logging.String("language", result.Language))
	return nil
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.transcriber == nil {
		return stage.Unhealthy("transcribing", "no transcriber configured")
	}
	if err := s.transcriber.Available(); err != nil {
		return stage.Unhealthy("transcribing", err.Error())
	}
	return stage.Healthy("transcribing")
}
