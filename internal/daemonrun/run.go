// Package daemonrun wires the daemon process: configuration, logging,
// the queue store, the blob store, and the pipeline workers.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"lectern/internal/config"
	"lectern/internal/deps"
	"lectern/internal/fetching"
	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/publishing"
	"lectern/internal/queue"
	"lectern/internal/quota"
	"lectern/internal/sourcesync"
	"lectern/internal/staging"
	"lectern/internal/subtitling"
	"lectern/internal/templates"
	"lectern/internal/topics"
	"lectern/internal/transcribing"
	"lectern/internal/trimming"
	"lectern/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the lectern daemon and blocks until the context is
// cancelled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.LogLevel != "" {
		logger, err = logging.New(logging.Options{
			Level:       opts.LogLevel,
			Format:      cfg.Logging.Format,
			OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "lecternd.log")},
		})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}

	// One daemon per data directory; a second instance would fight over
	// the queue and double-process items.
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "lecternd.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another lecternd instance holds %s", lock.Path())
	}
	defer lock.Unlock() //nolint:errcheck

	logDependencySnapshot(logger, cfg)

	// Scratch directories from a previous run are dead weight once their
	// items have been rolled back to a restartable status.
	staging.CleanStale(signalCtx, cfg.Paths.StagingDir, staleStagingAge, logger)

	pidPath := filepath.Join(cfg.Paths.DataDir, "lecternd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	blobs, err := filestore.New(cfg)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}
	gate := quota.NewGate(store)
	matcher, err := templates.NewMatcher(store)
	if err != nil {
		return fmt.Errorf("init template matcher: %w", err)
	}

	manager := workflow.NewManager(cfg, store, logger, blobs, gate, workflow.StageSet{
		Fetcher:     fetching.New(cfg, store, logger, blobs, gate),
		Trimmer:     trimming.New(cfg, store, logger, blobs),
		Transcriber: transcribing.New(cfg, store, logger, blobs),
		Topics:      topics.New(cfg, store, logger, blobs),
		Subtitler:   subtitling.New(cfg, store, logger, blobs),
		Publisher:   publishing.NewStage(cfg, store, logger, blobs),
	})
	if err := manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	defer manager.Stop()

	if cfg.Source.Endpoint != "" {
		lister := sourcesync.NewHTTPLister(cfg.Source)
		syncer := sourcesync.New(cfg, store, logger, lister, matcher, gate)
		go func() {
			if err := syncer.Run(signalCtx); err != nil && signalCtx.Err() == nil {
				logger.Error("source sync stopped",
					logging.Error(err),
					logging.String(logging.FieldEventType, "source_sync_stopped"))
			}
		}()
	} else {
		logger.Warn("source endpoint not configured, intake disabled",
			logging.String(logging.FieldEventType, "source_sync_disabled"))
	}

	logger.Info("lecternd running",
		logging.String("db_path", store.Path()),
		logging.Int("workers", cfg.Workflow.Workers),
		logging.String(logging.FieldEventType, "daemon_started"))

	<-signalCtx.Done()
	logger.Info("lecternd shutting down",
		logging.String(logging.FieldEventType, "daemon_stopping"))
	return nil
}

const staleStagingAge = 48 * time.Hour

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []any{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range deps.CheckBinaries(deps.Default(cfg)) {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command))
		if status.Detail != "" {
			attrs = append(attrs, logging.String(key+"_detail", status.Detail))
		}
	}
	logger.Info("dependency snapshot", attrs...)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
