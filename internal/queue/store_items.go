package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NewItemParams describes a recording being registered in the pipeline.
type NewItemParams struct {
	TenantID        string
	SourceID        string
	Title           string
	DurationSeconds float64
	SizeBytes       int64
	SourceRef       string
	TemplateID      *int64
	ExpireAt        *time.Time
}

// NewItem inserts a freshly synced recording in the initialized state.
func (s *Store) NewItem(ctx context.Context, params NewItemParams) (*Item, error) {
	if params.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if params.SourceID == "" {
		return nil, errors.New("source id is required")
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO items (
            tenant_id, source_id, title, duration_seconds, size_bytes, status,
            template_id, source_ref, expire_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		params.TenantID,
		params.SourceID,
		params.Title,
		params.DurationSeconds,
		params.SizeBytes,
		StatusInitialized,
		nullableInt64(params.TemplateID),
		nullableString(params.SourceRef),
		nullableTime(params.ExpireAt),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a pipeline item by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// FindBySource returns the item registered for an external recording, if any.
// Source sync relies on this for idempotent ingest.
func (s *Store) FindBySource(ctx context.Context, tenantID, sourceID string) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM items WHERE tenant_id = ? AND source_id = ? LIMIT 1`,
		tenantID, sourceID,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by source: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing item.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE items
         SET title = ?, duration_seconds = ?, size_bytes = ?, status = ?,
             template_id = ?, needs_rematch = ?, manual_overrides_json = ?,
             source_ref = ?, media_ref = ?, transcript_ref = ?, topics_json = ?,
             subtitle_ref = ?, error_message = ?, stage_attempts = ?,
             next_attempt_at = ?, quota_wait_since = ?, cancel_requested = ?,
             expire_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ?`,
		item.Title,
		item.DurationSeconds,
		item.SizeBytes,
		item.Status,
		nullableInt64(item.TemplateID),
		boolToInt(item.NeedsRematch),
		nullableString(item.ManualOverrides),
		nullableString(item.SourceRef),
		nullableString(item.MediaRef),
		nullableString(item.TranscriptRef),
		nullableString(item.TopicsJSON),
		nullableString(item.SubtitleRef),
		nullableString(item.ErrorMessage),
		item.StageAttempts,
		nullableTime(item.NextAttemptAt),
		nullableTime(item.QuotaWaitSince),
		boolToInt(item.CancelRequested),
		nullableTime(item.ExpireAt),
		nullableTime(item.LastHeartbeat),
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// List returns items filtered by status set (or all items when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM items`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListForTenant returns a tenant's items ordered by creation time.
func (s *Store) ListForTenant(ctx context.Context, tenantID string) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM items WHERE tenant_id = ? ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tenant items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextDue returns the oldest item sitting at a stage start whose retry delay
// has elapsed. Items round-robin by last update so a retry-delayed tenant
// cannot starve others.
func (s *Store) NextDue(ctx context.Context, now time.Time, statuses ...Status) (*Item, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for _, status := range statuses {
		args = append(args, status)
	}
	args = append(args, now.UTC().Format(time.RFC3339Nano))

	query := `SELECT ` + itemColumns + ` FROM items
        WHERE status IN (` + placeholders + `)
          AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
        ORDER BY updated_at LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Claim atomically transitions an item from one status to another. It returns
// false when another worker already moved the item, which makes dispatch safe
// across a worker pool without a global lock.
func (s *Store) Claim(ctx context.Context, id int64, from, to Status) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE items SET status = ?, last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Remove deletes an item by identifier. Stage results and upload targets
// cascade with it; owned file references must be released by the caller first.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Health aggregates queue counts per lifecycle bucket.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM items GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("queue health: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, err
		}
		summary.Total += count
		switch st := Status(status); {
		case st == StatusReady:
			summary.Ready += count
		case st == StatusFailed:
			summary.Failed += count
		case st == StatusSkipped:
			summary.Skipped += count
		case st == StatusExpired:
			summary.Expired += count
		case IsProcessingStatus(st):
			summary.Processing += count
		default:
			summary.Waiting += count
		}
	}
	return summary, rows.Err()
}
