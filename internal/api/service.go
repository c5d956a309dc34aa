package api

import (
	"context"

	"lectern/internal/queue"
	"lectern/internal/workflow"
)

// WorkflowStatus is the slice of the workflow manager the API reads.
type WorkflowStatus interface {
	Running() bool
	LastError() error
	HealthCheck(ctx context.Context) workflow.HealthReport
}

// Service exposes queue views and operator actions over the store.
type Service struct {
	store    *queue.Store
	workflow WorkflowStatus
}

// NewService constructs the API service. The workflow reference may be
// nil for CLI invocations that inspect the database directly.
func NewService(store *queue.Store, wf WorkflowStatus) *Service {
	return &Service{store: store, workflow: wf}
}

// Status reports orchestrator state together with queue counts.
func (s *Service) Status(ctx context.Context) (Status, error) {
	status := Status{QueueCounts: map[string]int{}}

	summary, err := s.store.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	status.QueueCounts["waiting"] = summary.Waiting
	status.QueueCounts["processing"] = summary.Processing
	status.QueueCounts["ready"] = summary.Ready
	status.QueueCounts["failed"] = summary.Failed
	status.QueueCounts["skipped"] = summary.Skipped
	status.QueueCounts["expired"] = summary.Expired

	if s.workflow != nil {
		status.Running = s.workflow.Running()
		if err := s.workflow.LastError(); err != nil {
			status.LastError = err.Error()
		}
		status.StageHealth = FromHealthReport(s.workflow.HealthCheck(ctx))
	}
	return status, nil
}

// List returns queue items, optionally filtered by status.
func (s *Service) List(ctx context.Context, statuses ...queue.Status) ([]Item, error) {
	items, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromItems(items), nil
}

// ListForTenant returns every item belonging to one tenant.
func (s *Service) ListForTenant(ctx context.Context, tenantID string) ([]Item, error) {
	items, err := s.store.ListForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return FromItems(items), nil
}

// Describe fetches one item with its targets and stage history.
func (s *Service) Describe(ctx context.Context, id int64) (*ItemDetailResponse, error) {
	item, err := s.store.GetByID(ctx, id)
	if err != nil || item == nil {
		return nil, err
	}
	dto := FromItem(item)

	targets, err := s.store.TargetsForItem(ctx, id)
	if err != nil {
		return nil, err
	}
	dto.Targets = FromTargets(targets)

	results, err := s.store.StageResults(ctx, id)
	if err != nil {
		return nil, err
	}
	history := make([]StageResult, 0, len(results))
	for _, result := range results {
		history = append(history, FromStageResult(result))
	}
	return &ItemDetailResponse{Item: dto, History: history}, nil
}

// Templates lists the templates registered for a tenant.
func (s *Service) Templates(ctx context.Context, tenantID string) ([]Template, error) {
	templates, err := s.store.TemplatesForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]Template, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, FromTemplate(tpl))
	}
	return out, nil
}
