package topics

import (
	"context"
	"encoding/json"
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

// Stage turns the transcript artifact into the item's topic list.
type Stage struct {
	cfg       *config.Config
	store     *queue.Store
	logger    *slog.Logger
	extractor Extractor
	blobs     filestore.Store
}

func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, blobs filestore.Store) *Stage {
	return NewWithDependencies(cfg, store, logger, NewFrequencyExtractor(), blobs)
}

// NewWithDependencies allows injecting collaborators (used in tests).
func NewWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, extractor Extractor, blobs filestore.Store) *Stage {
	if logger != nil {
		logger = logger.With(logging.String(logging.FieldComponent, "topics"))
	}
	return &Stage{cfg: cfg, store: store, logger: logger, extractor: extractor, blobs: blobs}
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
	if !effective.StageEnabled("topics") {
		return stage.Skip("topic extraction disabled for this item")
	}
	if strings.TrimSpace(item.TranscriptRef) == "" {
		// Transcription was disabled upstream; there is nothing to
		// extract from.
		return stage.Skip("no transcript available for topic extraction")
	}

	staging := filepath.Join(s.cfg.Paths.StagingDir, fmt.Sprintf("item-%d", item.ID))
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "topics", "prepare staging",
			"staging directory is not writable", err)
	}
	transcriptPath := filepath.Join(staging, "transcript.json")
	defer os.Remove(transcriptPath)

	if err := s.blobs.Fetch(ctx, item.TranscriptRef, transcriptPath); err != nil {
		return services.Wrap(services.ErrTransient, "topics", "fetch artifact",
			"transcript is unavailable", err)
	}
	doc, err := transcript.LoadFile(transcriptPath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "topics", "load transcript",
			"stored transcript is unreadable", err)
	}

	maxTopics := 10
	if effective.Processing.MaxTopics != nil {
		maxTopics = *effective.Processing.MaxTopics
	}
	extracted, err := s.extractor.Extract(doc, maxTopics)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "topics", "extract",
			"topic extraction failed", err)
	}

	encoded, err := json.Marshal(extracted)
	if err != nil {
		return services.Wrap(services.ErrValidation, "topics", "encode topics",
			"topic list could not be encoded", err)
	}
	item.TopicsJSON = string(encoded)

	logger.Info("topics extracted",
		logging.String(logging.FieldEventType, "topics_complete"),
		logging.Int("topic_count", len(extracted)))
	return nil
}

func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.extractor == nil {
		return stage.Unhealthy("topics", "no extractor configured")
	}
	return stage.Healthy("topics")
}
