// Package workflow drives queue items through the recording pipeline
// with a pool of workers sharing the SQLite-backed queue.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lectern/internal/config"
	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/quota"
	"lectern/internal/stage"
)

// StageSet bundles the concrete handlers the manager orchestrates, in
// pipeline order.
type StageSet struct {
	Fetcher     stage.Handler
	Trimmer     stage.Handler
	Transcriber stage.Handler
	Topics      stage.Handler
	Subtitler   stage.Handler
	Publisher   stage.Handler
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
}

// Manager coordinates queue processing across the configured worker pool.
type Manager struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	blobs  filestore.Store
	gate   *quota.Gate

	heartbeat *HeartbeatMonitor
	sweeper   *ExpirySweeper

	stages       []pipelineStage
	stageByStart map[queue.Status]pipelineStage
	pollInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager over the given stage set.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, blobs filestore.Store, gate *quota.Gate, stages StageSet) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		logger: logger.With(logging.String(logging.FieldComponent, "workflow")),
		blobs:  blobs,
		gate:   gate,
		heartbeat: NewHeartbeatMonitor(
			store,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		now:          time.Now,
	}
	m.sweeper = NewExpirySweeper(cfg, store, logger, blobs, gate)
	m.stages = []pipelineStage{
		{"fetch", stages.Fetcher, queue.StatusInitialized, queue.StatusFetching, queue.StatusFetched},
		{"trim", stages.Trimmer, queue.StatusFetched, queue.StatusTrimming, queue.StatusTrimmed},
		{"transcribe", stages.Transcriber, queue.StatusTrimmed, queue.StatusTranscribing, queue.StatusTranscribed},
		{"topics", stages.Topics, queue.StatusTranscribed, queue.StatusExtractingTopics, queue.StatusTopicsReady},
		{"subtitle", stages.Subtitler, queue.StatusTopicsReady, queue.StatusSubtitling, queue.StatusSubtitled},
		{"publish", stages.Publisher, queue.StatusSubtitled, queue.StatusPublishing, queue.StatusReady},
	}
	m.stageByStart = make(map[queue.Status]pipelineStage, len(m.stages))
	for _, stg := range m.stages {
		m.stageByStart[stg.startStatus] = stg
	}
	return m
}

// Start launches the worker pool, the stale-item reclaimer, and the
// expiry sweeper.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	for _, stg := range m.stages {
		if stg.handler == nil {
			return errors.New("workflow stages not fully configured: missing " + stg.name)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	workers := m.cfg.Workflow.Workers
	if workers < 1 {
		workers = 1
	}
	m.wg.Add(workers + 2)
	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	go m.runReclaimer(runCtx)
	go m.runSweeper(runCtx)

	m.logger.Info("workflow started",
		logging.Int("workers", workers),
		logging.String(logging.FieldEventType, "workflow_started"))
	return nil
}

// Stop terminates background processing and waits for in-flight stages
// to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped",
		logging.String(logging.FieldEventType, "workflow_stopped"))
}

// Running reports whether the worker pool is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastError returns the most recent worker-level error, for health
// reporting. Stage failures recorded against items do not count.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.Workflow.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := m.heartbeat.ReclaimStaleItems(ctx, m.now())
			if err != nil {
				m.logger.Warn("reclaiming stale processing items failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"))
				continue
			}
			if reclaimed > 0 {
				m.logger.Warn("reclaimed items with stale heartbeats",
					logging.Int64("reclaimed", reclaimed),
					logging.String(logging.FieldEventType, "heartbeat_reclaimed"))
			}
		}
	}
}

func (m *Manager) runSweeper(ctx context.Context) {
	defer m.wg.Done()
	m.sweeper.Run(ctx)
}
