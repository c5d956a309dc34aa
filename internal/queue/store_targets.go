package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TargetSpec names one requested publish destination.
type TargetSpec struct {
	Platform string
	Required bool
}

// EnsureTargets creates a pending upload record per requested platform,
// reusing any existing row so a publish retry does not lose attempt history.
func (s *Store) EnsureTargets(ctx context.Context, itemID int64, specs []TargetSpec) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for _, spec := range specs {
		if spec.Platform == "" {
			return errors.New("target platform must not be empty")
		}
		if err := s.execWithoutResultRetry(
			ctx,
			`INSERT INTO upload_targets (item_id, platform, required, status, updated_at)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(item_id, platform) DO UPDATE SET required = excluded.required`,
			itemID,
			spec.Platform,
			boolToInt(spec.Required),
			string(TargetPending),
			timestamp,
		); err != nil {
			return fmt.Errorf("ensure target %s: %w", spec.Platform, err)
		}
	}
	return nil
}

// TargetsForItem returns the upload records for an item ordered by platform.
func (s *Store) TargetsForItem(ctx context.Context, itemID int64) ([]*Target, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+targetColumns+` FROM upload_targets WHERE item_id = ? ORDER BY platform`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("targets for item: %w", err)
	}
	defer rows.Close()

	var targets []*Target
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// GetTarget fetches one upload record by item and platform.
func (s *Store) GetTarget(ctx context.Context, itemID int64, platform string) (*Target, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+targetColumns+` FROM upload_targets WHERE item_id = ? AND platform = ?`,
		itemID, platform,
	)
	target, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return target, nil
}

// UpdateTarget persists changes to one upload record.
func (s *Store) UpdateTarget(ctx context.Context, target *Target) error {
	if target == nil {
		return errors.New("target is nil")
	}
	target.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE upload_targets
         SET required = ?, status = ?, attempt_count = ?, last_error = ?,
             external_ref = ?, updated_at = ?
         WHERE id = ?`,
		boolToInt(target.Required),
		string(target.Status),
		target.AttemptCount,
		target.LastError,
		target.ExternalRef,
		target.UpdatedAt.Format(time.RFC3339Nano),
		target.ID,
	); err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	return nil
}

// ResetFailedTargets returns an item's failed targets to pending so a scoped
// upload retry touches only them. Succeeded targets are left untouched.
func (s *Store) ResetFailedTargets(ctx context.Context, itemID int64) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE upload_targets
         SET status = ?, last_error = '', updated_at = ?
         WHERE item_id = ? AND status = ?`,
		string(TargetPending),
		time.Now().UTC().Format(time.RFC3339Nano),
		itemID,
		string(TargetFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("reset failed targets: %w", err)
	}
	return res.RowsAffected()
}
