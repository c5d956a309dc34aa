package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/resolve"
	"lectern/internal/services"
	"lectern/internal/stage"
)

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := m.processNext(ctx, logger)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("worker pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "worker_error"))
			m.sleep(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second)
			continue
		}
		if !processed {
			m.sleep(ctx, m.pollInterval)
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// processNext claims and executes one due item. It returns false when
// the queue had nothing runnable so the worker can idle.
func (m *Manager) processNext(ctx context.Context, logger *slog.Logger) (bool, error) {
	item, err := m.store.NextDue(ctx, m.now(), queue.StageStartStatuses...)
	if err != nil {
		return false, fmt.Errorf("selecting next item: %w", err)
	}
	if item == nil {
		return false, nil
	}

	stg, ok := m.stageByStart[item.Status]
	if !ok {
		return false, fmt.Errorf("no stage registered for status %s", item.Status)
	}

	itemCtx := services.WithTenant(ctx, item.TenantID)
	itemCtx = services.WithItemID(itemCtx, item.ID)
	itemCtx = services.WithStage(itemCtx, stg.name)
	itemCtx = services.WithRequestID(itemCtx, uuid.NewString())
	itemLogger := logging.WithContext(itemCtx, logger)

	// Retention is checked before anything else on the tick; a stage
	// must never run against an item whose TTL already elapsed.
	if item.ExpiredAt(m.now()) {
		if err := m.sweeper.expireItem(itemCtx, item); err != nil {
			return false, fmt.Errorf("expiring overdue item %d: %w", item.ID, err)
		}
		return true, nil
	}

	if item.CancelRequested {
		return true, m.abandonCancelled(itemCtx, itemLogger, item, stg)
	}

	// Configuration is recomputed every tick, so a tenant policy edit
	// can rule an item out at any point in the pipeline. Resolution
	// errors fall through here; the stage classifies them.
	if effective, rerr := resolve.Load(itemCtx, m.store, item); rerr == nil && effective.Exclusion != "" {
		return true, m.skipExcluded(itemCtx, itemLogger, item, effective.Exclusion)
	}

	admitted, err := m.admit(itemCtx, itemLogger, item)
	if err != nil || !admitted {
		// Quota refusals already rescheduled or failed the item.
		return admitted, err
	}

	claimed, err := m.store.Claim(itemCtx, item.ID, stg.startStatus, stg.processingStatus)
	if err != nil {
		m.releaseStage(itemCtx, itemLogger, item.TenantID)
		return false, fmt.Errorf("claiming item %d: %w", item.ID, err)
	}
	if !claimed {
		// Another worker took it first.
		m.releaseStage(itemCtx, itemLogger, item.TenantID)
		return false, nil
	}
	item.Status = stg.processingStatus
	item.QuotaWaitSince = nil

	defer m.releaseStage(itemCtx, itemLogger, item.TenantID)
	return true, m.runStage(itemCtx, itemLogger, item, stg)
}

// admit applies the tenant concurrency quota before the item is claimed.
// A refused item is pushed out by the quota retry interval; one waiting
// past the configured maximum fails with a quota timeout.
func (m *Manager) admit(ctx context.Context, logger *slog.Logger, item *queue.Item) (bool, error) {
	tenant, err := m.store.GetTenant(ctx, item.TenantID)
	if err != nil {
		return false, fmt.Errorf("loading tenant %s: %w", item.TenantID, err)
	}
	if tenant == nil {
		item.SetFailed("tenant " + item.TenantID + " is not registered")
		if err := m.store.Update(ctx, item); err != nil {
			return false, fmt.Errorf("failing item without tenant: %w", err)
		}
		return false, nil
	}

	ok, err := m.gate.AdmitStage(ctx, tenant)
	if err != nil {
		return false, fmt.Errorf("admitting stage for tenant %s: %w", item.TenantID, err)
	}
	if ok {
		return true, nil
	}

	now := m.now()
	if item.QuotaWaitSince == nil {
		item.QuotaWaitSince = &now
	}
	maxWait := time.Duration(m.cfg.Quota.MaxWait) * time.Second
	if maxWait > 0 && now.Sub(*item.QuotaWaitSince) >= maxWait {
		logger.Warn("item exceeded quota wait budget",
			logging.Duration("waited", now.Sub(*item.QuotaWaitSince)),
			logging.String(logging.FieldEventType, "quota_timeout"))
		item.SetFailed("concurrency quota unavailable for " + maxWait.String())
		item.QuotaWaitSince = nil
		if err := m.store.Update(ctx, item); err != nil {
			return false, fmt.Errorf("failing quota-starved item: %w", err)
		}
		return false, nil
	}

	retryAt := now.Add(time.Duration(m.cfg.Quota.RetryInterval) * time.Second)
	item.NextAttemptAt = &retryAt
	if err := m.store.Update(ctx, item); err != nil {
		return false, fmt.Errorf("deferring quota-limited item: %w", err)
	}
	logger.Debug("tenant concurrency quota exhausted, deferring item",
		logging.String(logging.FieldEventType, "quota_deferred"))
	return false, nil
}

func (m *Manager) releaseStage(ctx context.Context, logger *slog.Logger, tenantID string) {
	if err := m.gate.ReleaseStage(context.WithoutCancel(ctx), tenantID); err != nil {
		logger.Warn("releasing concurrency quota slot failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "quota_release_failed"))
	}
}

// runStage drives one claimed item through Prepare and Execute and
// records the attempt outcome.
func (m *Manager) runStage(ctx context.Context, logger *slog.Logger, item *queue.Item, stg pipelineStage) error {
	startedAt := m.now()
	attempt := item.StageAttempts + 1
	logger.Info("stage starting",
		logging.Int("attempt", attempt),
		logging.String(logging.FieldEventType, "stage_started"))

	if aware, ok := stg.handler.(stage.LoggerAware); ok {
		aware.SetLogger(logger)
	}

	err := stg.handler.Prepare(ctx, item)
	if err == nil {
		if uerr := m.store.Update(ctx, item); uerr != nil {
			return fmt.Errorf("persisting prepared item: %w", uerr)
		}
		// Prepare may decide the item terminally, e.g. nothing to publish.
		if item.Status != stg.processingStatus {
			m.recordResult(ctx, logger, item, stg, attempt, queue.OutcomeSkipped, "", item.ErrorMessage, startedAt)
			return nil
		}
		err = m.executeWithHeartbeat(ctx, item, stg)
	}

	if reason, skipped := stage.IsSkip(err); skipped {
		return m.completeStage(ctx, logger, item, stg, attempt, queue.OutcomeSkipped, reason, startedAt)
	}
	if err == nil {
		fresh, gerr := m.store.GetByID(ctx, item.ID)
		if gerr == nil && fresh != nil && fresh.CancelRequested {
			item.CancelRequested = true
			return m.abandonCancelled(ctx, logger, item, stg)
		}
		return m.completeStage(ctx, logger, item, stg, attempt, queue.OutcomeSuccess, "", startedAt)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return m.rollbackForShutdown(ctx, logger, item, stg, attempt, startedAt)
	}
	return m.handleStageFailure(ctx, logger, item, stg, attempt, startedAt, err)
}

// executeWithHeartbeat runs the handler under the stage timeout while a
// companion goroutine refreshes the item heartbeat so the reclaimer
// leaves live work alone.
func (m *Manager) executeWithHeartbeat(ctx context.Context, item *queue.Item, stg pipelineStage) error {
	execCtx := ctx
	if timeout := time.Duration(m.cfg.Workflow.StageTimeout) * time.Second; timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stop := m.heartbeat.StartLoop(execCtx, item.ID)
	defer stop()

	err := stg.handler.Execute(execCtx, item)
	if err != nil && execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return services.Wrap(services.ErrTimeout, stg.name, "execute",
			"stage exceeded its execution deadline", err)
	}
	return err
}

func (m *Manager) completeStage(ctx context.Context, logger *slog.Logger, item *queue.Item, stg pipelineStage, attempt int, outcome queue.StageOutcome, reason string, startedAt time.Time) error {
	// A handler that already moved the item off the processing status
	// owns the transition; otherwise the pipeline advances.
	if item.Status == stg.processingStatus {
		item.Status = stg.doneStatus
	}
	item.StageAttempts = 0
	item.NextAttemptAt = nil
	item.LastHeartbeat = nil
	if outcome == queue.OutcomeSuccess {
		item.ErrorMessage = ""
	}
	if err := m.store.Update(ctx, item); err != nil {
		return fmt.Errorf("persisting completed item: %w", err)
	}
	m.recordResult(ctx, logger, item, stg, attempt, outcome, "", reason, startedAt)

	logger.Info("stage finished",
		logging.String("outcome", string(outcome)),
		logging.String("status", string(item.Status)),
		logging.Duration("elapsed", m.now().Sub(startedAt)),
		logging.String(logging.FieldEventType, "stage_finished"))
	return nil
}

// handleStageFailure classifies the error, then either schedules a
// retry with exponential backoff or fails the item for good.
func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, item *queue.Item, stg pipelineStage, attempt int, startedAt time.Time, cause error) error {
	details := services.Details(cause)
	retriable := services.IsRetriable(cause) && attempt < m.cfg.Retry.MaxAttempts

	if retriable {
		item.Status = stg.startStatus
		item.StageAttempts = attempt
		item.ErrorMessage = cause.Error()
		item.LastHeartbeat = nil
		retryAt := m.now().Add(m.retryDelay(attempt))
		item.NextAttemptAt = &retryAt
	} else {
		item.SetFailed(cause.Error())
	}
	if err := m.store.Update(ctx, item); err != nil {
		return fmt.Errorf("persisting failed item: %w", err)
	}
	m.recordResult(ctx, logger, item, stg, attempt, queue.OutcomeFailed, string(details.Kind), cause.Error(), startedAt)

	fields := []any{
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.Int("attempt", attempt),
		logging.Error(cause),
	}
	if details.Hint != "" {
		fields = append(fields, logging.String(logging.FieldErrorHint, details.Hint))
	}
	if retriable {
		fields = append(fields,
			logging.String(logging.FieldEventType, "stage_retry_scheduled"),
			logging.Duration("retry_in", time.Until(*item.NextAttemptAt)))
		logger.Warn("stage failed, retry scheduled", fields...)
	} else {
		fields = append(fields, logging.String(logging.FieldEventType, "item_failed"))
		logger.Error("stage failed permanently", fields...)
	}
	return nil
}

// rollbackForShutdown returns a claimed item to its stage start without
// charging an attempt when the daemon is stopping mid-stage.
func (m *Manager) rollbackForShutdown(ctx context.Context, logger *slog.Logger, item *queue.Item, stg pipelineStage, attempt int, startedAt time.Time) error {
	persistCtx := context.WithoutCancel(ctx)
	item.Status = stg.startStatus
	item.LastHeartbeat = nil
	if err := m.store.Update(persistCtx, item); err != nil {
		return fmt.Errorf("rolling back item for shutdown: %w", err)
	}
	m.recordResult(persistCtx, logger, item, stg, attempt, queue.OutcomeAbandoned, "", "interrupted by shutdown", startedAt)
	logger.Info("stage abandoned for shutdown",
		logging.String(logging.FieldEventType, "stage_abandoned"))
	return nil
}

// skipExcluded retires a policy-excluded item before any stage work
// happens. No stage result is recorded: nothing ran.
func (m *Manager) skipExcluded(ctx context.Context, logger *slog.Logger, item *queue.Item, reason string) error {
	item.Status = queue.StatusSkipped
	item.ErrorMessage = reason
	item.NextAttemptAt = nil
	item.LastHeartbeat = nil
	if err := m.store.Update(ctx, item); err != nil {
		return fmt.Errorf("persisting excluded item: %w", err)
	}
	logger.Info("item excluded by tenant policy",
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "item_excluded"))
	return nil
}

// abandonCancelled retires an item whose operator requested cancellation.
func (m *Manager) abandonCancelled(ctx context.Context, logger *slog.Logger, item *queue.Item, stg pipelineStage) error {
	startedAt := m.now()
	item.Status = queue.StatusSkipped
	item.ErrorMessage = "cancelled by operator"
	item.CancelRequested = false
	item.NextAttemptAt = nil
	item.LastHeartbeat = nil
	if err := m.store.Update(ctx, item); err != nil {
		return fmt.Errorf("persisting cancelled item: %w", err)
	}
	m.recordResult(ctx, logger, item, stg, item.StageAttempts+1, queue.OutcomeAbandoned, "", "cancelled by operator", startedAt)
	logger.Info("item cancelled",
		logging.String(logging.FieldEventType, "item_cancelled"))
	return nil
}

func (m *Manager) recordResult(ctx context.Context, logger *slog.Logger, item *queue.Item, stg pipelineStage, attempt int, outcome queue.StageOutcome, kind, message string, startedAt time.Time) {
	_, err := m.store.AppendStageResult(ctx, queue.StageResult{
		ItemID:       item.ID,
		Stage:        stg.name,
		Attempt:      attempt,
		Outcome:      outcome,
		ErrorKind:    kind,
		ErrorMessage: message,
		StartedAt:    startedAt,
		FinishedAt:   m.now(),
	})
	if err != nil {
		logger.Warn("recording stage result failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stage_result_write_failed"))
	}
}

// retryDelay doubles the configured base per attempt, caps it, and adds
// proportional jitter.
func (m *Manager) retryDelay(attempt int) time.Duration {
	base := time.Duration(m.cfg.Retry.BaseDelay) * time.Second
	max := time.Duration(m.cfg.Retry.MaxDelay) * time.Second
	if base <= 0 {
		base = time.Second
	}
	delay := base << uint(attempt-1)
	if max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	if frac := m.cfg.Retry.JitterFraction; frac > 0 {
		jitter := time.Duration(rand.Int63n(int64(float64(delay)*frac) + 1))
		delay += jitter
	}
	return delay
}
