package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertTenant creates or updates a tenant's defaults and limits.
func (s *Store) UpsertTenant(ctx context.Context, tenant *Tenant) error {
	if tenant == nil {
		return errors.New("tenant is nil")
	}
	if tenant.ID == "" {
		return errors.New("tenant id is required")
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO tenants (
            id, name, defaults_json, publish_policy, max_concurrent_stages,
            max_items_per_period, max_storage_bytes, retention_days,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            defaults_json = excluded.defaults_json,
            publish_policy = excluded.publish_policy,
            max_concurrent_stages = excluded.max_concurrent_stages,
            max_items_per_period = excluded.max_items_per_period,
            max_storage_bytes = excluded.max_storage_bytes,
            retention_days = excluded.retention_days,
            updated_at = excluded.updated_at`,
		tenant.ID,
		tenant.Name,
		orEmptyObject(tenant.DefaultsJSON),
		tenant.PublishPolicy,
		tenant.MaxConcurrentStages,
		tenant.MaxItemsPerPeriod,
		tenant.MaxStorageBytes,
		tenant.RetentionDays,
		timestamp,
		timestamp,
	); err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

// GetTenant fetches a tenant by identifier.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, defaults_json, publish_policy, max_concurrent_stages,
            max_items_per_period, max_storage_bytes, retention_days,
            created_at, updated_at
         FROM tenants WHERE id = ?`,
		id,
	)
	tenant, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return tenant, nil
}

// Tenants lists all tenants ordered by identifier.
func (s *Store) Tenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, defaults_json, publish_policy, max_concurrent_stages,
            max_items_per_period, max_storage_bytes, retention_days,
            created_at, updated_at
         FROM tenants ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func scanTenant(row rowScanner) (*Tenant, error) {
	var (
		tenant    Tenant
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.DefaultsJSON,
		&tenant.PublishPolicy,
		&tenant.MaxConcurrentStages,
		&tenant.MaxItemsPerPeriod,
		&tenant.MaxStorageBytes,
		&tenant.RetentionDays,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if tenant.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if tenant.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &tenant, nil
}
