package api

import (
	"context"
	"log/slog"
	"time"

	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/quota"
	"lectern/internal/templates"
)

// ActionOutcome classifies the result of one operator action.
type ActionOutcome string

const (
	ActionApplied      ActionOutcome = "applied"
	ActionNotFound     ActionOutcome = "not_found"
	ActionNotEligible  ActionOutcome = "not_eligible"
	ActionNothingToDo  ActionOutcome = "nothing_to_do"
	ActionAlreadyFinal ActionOutcome = "already_final"
)

// ActionResult reports what an action did to one item.
type ActionResult struct {
	ID        int64         `json:"id"`
	Outcome   ActionOutcome `json:"outcome"`
	NewStatus string        `json:"newStatus,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// Actions bundles the operator mutations exposed through the CLI.
type Actions struct {
	store   *queue.Store
	blobs   filestore.Store
	gate    *quota.Gate
	matcher *templates.Matcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewActions constructs the action service.
func NewActions(store *queue.Store, blobs filestore.Store, gate *quota.Gate, matcher *templates.Matcher, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Actions{
		store:   store,
		blobs:   blobs,
		gate:    gate,
		matcher: matcher,
		logger:  logger.With(logging.String(logging.FieldComponent, "api")),
		now:     time.Now,
	}
}

// Reset returns a non-processing item to the start of the pipeline. The
// synced source artifact is kept; every derived artifact is removed and
// the reserved storage returned to the tenant quota so the re-run can
// charge it again.
func (a *Actions) Reset(ctx context.Context, id int64) (ActionResult, error) {
	item, err := a.store.GetByID(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}
	if item == nil {
		return ActionResult{ID: id, Outcome: ActionNotFound}, nil
	}
	if item.IsProcessing() {
		return ActionResult{ID: id, Outcome: ActionNotEligible, Detail: "item is mid-stage; cancel it first"}, nil
	}

	for _, ref := range item.DerivedRefs() {
		if err := a.blobs.Delete(ctx, ref); err != nil {
			a.logger.Warn("deleting derived artifact failed",
				logging.Int64(logging.FieldItemID, id),
				logging.String("ref", ref),
				logging.Error(err))
		}
	}
	if item.SizeBytes > 0 {
		if err := a.gate.ReleaseStorage(ctx, item.TenantID, item.SizeBytes); err != nil {
			return ActionResult{}, err
		}
	}

	expireAt := a.retentionDeadline(ctx, item.TenantID)
	if err := a.store.ResetItem(ctx, id, expireAt); err != nil {
		return ActionResult{}, err
	}
	a.logger.Info("item reset",
		logging.Int64(logging.FieldItemID, id),
		logging.String(logging.FieldEventType, "item_reset"))
	return ActionResult{ID: id, Outcome: ActionApplied, NewStatus: string(queue.StatusInitialized)}, nil
}

// RetryUpload re-queues only the failed publish targets of an item that
// finished the transform stages, leaving succeeded uploads untouched.
func (a *Actions) RetryUpload(ctx context.Context, id int64) (ActionResult, error) {
	item, err := a.store.GetByID(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}
	if item == nil {
		return ActionResult{ID: id, Outcome: ActionNotFound}, nil
	}
	if item.Status != queue.StatusFailed && item.Status != queue.StatusReady {
		return ActionResult{ID: id, Outcome: ActionNotEligible, Detail: "item has not completed a publish attempt"}, nil
	}

	reset, err := a.store.ResetFailedTargets(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}
	if reset == 0 {
		return ActionResult{ID: id, Outcome: ActionNothingToDo, Detail: "no failed publish targets"}, nil
	}

	item.Status = queue.StatusSubtitled
	item.ErrorMessage = ""
	item.StageAttempts = 0
	item.NextAttemptAt = nil
	if err := a.store.Update(ctx, item); err != nil {
		return ActionResult{}, err
	}
	a.logger.Info("publish retry queued",
		logging.Int64(logging.FieldItemID, id),
		logging.Int64("targets", reset),
		logging.String(logging.FieldEventType, "publish_retry_queued"))
	return ActionResult{ID: id, Outcome: ActionApplied, NewStatus: string(queue.StatusSubtitled)}, nil
}

// Cancel flags a live item for abandonment at the next stage boundary.
func (a *Actions) Cancel(ctx context.Context, id int64) (ActionResult, error) {
	item, err := a.store.GetByID(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}
	if item == nil {
		return ActionResult{ID: id, Outcome: ActionNotFound}, nil
	}
	if item.IsTerminal() {
		return ActionResult{ID: id, Outcome: ActionAlreadyFinal, Detail: string(item.Status)}, nil
	}
	if err := a.store.RequestCancel(ctx, id); err != nil {
		return ActionResult{}, err
	}
	a.logger.Info("cancel requested",
		logging.Int64(logging.FieldItemID, id),
		logging.String(logging.FieldEventType, "item_cancel_requested"))
	return ActionResult{ID: id, Outcome: ActionApplied}, nil
}

// Rematch re-evaluates template matching for a tenant's items flagged
// after a template change. It returns how many items were re-matched.
func (a *Actions) Rematch(ctx context.Context, tenantID string) (int, error) {
	return a.matcher.RematchPending(ctx, tenantID)
}

func (a *Actions) retentionDeadline(ctx context.Context, tenantID string) *time.Time {
	tenant, err := a.store.GetTenant(ctx, tenantID)
	if err != nil || tenant == nil || tenant.RetentionDays <= 0 {
		return nil
	}
	deadline := a.now().Add(time.Duration(tenant.RetentionDays) * 24 * time.Hour)
	return &deadline
}
