// Package quota enforces per-tenant processing limits. All counters live
// in the queue database and move through conditional updates, so multiple
// workers and multiple daemon processes share one source of truth.
package quota

import (
	"context"
	"time"

	"lectern/internal/queue"
)

// periodFormat buckets item and storage counters by calendar month.
const periodFormat = "2006-01"

// Gate checks tenant limits before a stage or item is admitted. A zero
// limit on the tenant record means unlimited for that dimension.
type Gate struct {
	store *queue.Store
	now   func() time.Time
}

func NewGate(store *queue.Store) *Gate {
	return &Gate{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Period returns the current accounting period.
func (g *Gate) Period() string {
	return g.now().Format(periodFormat)
}

// AdmitStage reserves one concurrent-stage slot for the tenant. It
// returns false without error when the tenant is at its limit; the
// caller leaves the item queued and tries again later.
func (g *Gate) AdmitStage(ctx context.Context, tenant *queue.Tenant) (bool, error) {
	return g.store.IncrementConcurrent(ctx, tenant.ID, g.Period(), tenant.MaxConcurrentStages)
}

// ReleaseStage returns a concurrent-stage slot. Safe to call after a
// failed stage; the counter never drops below zero.
func (g *Gate) ReleaseStage(ctx context.Context, tenantID string) error {
	return g.store.DecrementConcurrent(ctx, tenantID, g.Period())
}

// AdmitItem counts one item against the tenant's per-period allowance.
func (g *Gate) AdmitItem(ctx context.Context, tenant *queue.Tenant) (bool, error) {
	return g.store.AddItemProcessed(ctx, tenant.ID, g.Period(), tenant.MaxItemsPerPeriod)
}

// ReserveStorage charges bytes against the tenant's storage allowance.
func (g *Gate) ReserveStorage(ctx context.Context, tenant *queue.Tenant, bytes int64) (bool, error) {
	return g.store.AddStorageBytes(ctx, tenant.ID, g.Period(), bytes, tenant.MaxStorageBytes)
}

// ReleaseStorage returns previously reserved bytes, for example after an
// expired item's working files are deleted.
func (g *Gate) ReleaseStorage(ctx context.Context, tenantID string, bytes int64) error {
	_, err := g.store.AddStorageBytes(ctx, tenantID, g.Period(), -bytes, 0)
	return err
}

// Usage reports the tenant's counters for the current period.
func (g *Gate) Usage(ctx context.Context, tenantID string) (*queue.QuotaUsage, error) {
	return g.store.GetQuotaUsage(ctx, tenantID, g.Period())
}
