package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Quota counters are the one piece of state mutated by concurrent actors for
// the same tenant, so every mutation here is a single conditional UPDATE; the
// row is created first with a no-op upsert. Callers never read-modify-write.

func (s *Store) ensureQuotaRow(ctx context.Context, tenantID, period string) error {
	return s.execWithoutResultRetry(
		ctx,
		`INSERT INTO quota_usage (tenant_id, period, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(tenant_id, period) DO NOTHING`,
		tenantID,
		period,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
}

// IncrementConcurrent atomically admits one more in-flight stage for the
// tenant, returning false when the concurrency limit is already reached.
// A limit of zero or below means unlimited.
func (s *Store) IncrementConcurrent(ctx context.Context, tenantID, period string, limit int) (bool, error) {
	if err := s.ensureQuotaRow(ctx, tenantID, period); err != nil {
		return false, fmt.Errorf("ensure quota row: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE quota_usage
         SET concurrent_stages = concurrent_stages + 1, updated_at = ?
         WHERE tenant_id = ? AND period = ? AND (? <= 0 OR concurrent_stages < ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		tenantID,
		period,
		limit,
		limit,
	)
	if err != nil {
		return false, fmt.Errorf("increment concurrent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// DecrementConcurrent releases one in-flight stage admission. The floor at
// zero keeps a double release from corrupting the counter.
func (s *Store) DecrementConcurrent(ctx context.Context, tenantID, period string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE quota_usage
         SET concurrent_stages = MAX(concurrent_stages - 1, 0), updated_at = ?
         WHERE tenant_id = ? AND period = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		tenantID,
		period,
	); err != nil {
		return fmt.Errorf("decrement concurrent: %w", err)
	}
	return nil
}

// AddItemProcessed counts one processed item against the period quota,
// returning false when the period limit would be exceeded.
func (s *Store) AddItemProcessed(ctx context.Context, tenantID, period string, limit int) (bool, error) {
	if err := s.ensureQuotaRow(ctx, tenantID, period); err != nil {
		return false, fmt.Errorf("ensure quota row: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE quota_usage
         SET items_processed = items_processed + 1, updated_at = ?
         WHERE tenant_id = ? AND period = ? AND (? <= 0 OR items_processed < ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		tenantID,
		period,
		limit,
		limit,
	)
	if err != nil {
		return false, fmt.Errorf("add item processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// AddStorageBytes records storage consumption against the period quota,
// returning false when the limit would be exceeded. Negative deltas release
// storage and always succeed.
func (s *Store) AddStorageBytes(ctx context.Context, tenantID, period string, delta, limit int64) (bool, error) {
	if err := s.ensureQuotaRow(ctx, tenantID, period); err != nil {
		return false, fmt.Errorf("ensure quota row: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE quota_usage
         SET storage_bytes = MAX(storage_bytes + ?, 0), updated_at = ?
         WHERE tenant_id = ? AND period = ?
           AND (? <= 0 OR ? < 0 OR storage_bytes + ? <= ?)`,
		delta,
		time.Now().UTC().Format(time.RFC3339Nano),
		tenantID,
		period,
		limit,
		delta,
		delta,
		limit,
	)
	if err != nil {
		return false, fmt.Errorf("add storage bytes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetQuotaUsage reads the counter row for a tenant period.
func (s *Store) GetQuotaUsage(ctx context.Context, tenantID, period string) (*QuotaUsage, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT tenant_id, period, items_processed, storage_bytes, concurrent_stages, updated_at
         FROM quota_usage WHERE tenant_id = ? AND period = ?`,
		tenantID,
		period,
	)
	var (
		usage     QuotaUsage
		updatedAt string
	)
	err := row.Scan(
		&usage.TenantID,
		&usage.Period,
		&usage.ItemsProcessed,
		&usage.StorageBytes,
		&usage.ConcurrentStages,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota usage: %w", err)
	}
	if usage.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &usage, nil
}
