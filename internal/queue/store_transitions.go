package queue

import (
	"context"
	"fmt"
	"time"
)

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight item.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE items SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns items stuck in processing back to the start
// of their current stage when heartbeats expire, typically after a crash.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE items
        SET status = CASE status
            WHEN ? THEN ?
            WHEN ? THEN ?
            WHEN ? THEN ?
            WHEN ? THEN ?
            WHEN ? THEN ?
            WHEN ? THEN ?
            ELSE status
        END,
            last_heartbeat = NULL, updated_at = ?
        WHERE status IN (?, ?, ?, ?, ?, ?)
          AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusFetching, StatusInitialized,
		StatusTrimming, StatusFetched,
		StatusTranscribing, StatusTrimmed,
		StatusExtractingTopics, StatusTranscribed,
		StatusSubtitling, StatusTopicsReady,
		StatusPublishing, StatusSubtitled,
		now.Format(time.RFC3339Nano),
		StatusFetching,
		StatusTrimming,
		StatusTranscribing,
		StatusExtractingTopics,
		StatusSubtitling,
		StatusPublishing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

// ItemsExpiredBefore lists non-terminal items whose TTL elapsed by the given
// instant. The expiry sweep releases their file references before marking
// them expired.
func (s *Store) ItemsExpiredBefore(ctx context.Context, now time.Time) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM items
         WHERE expire_at IS NOT NULL AND expire_at < ?
           AND status NOT IN (?, ?, ?, ?)
         ORDER BY expire_at`,
		now.UTC().Format(time.RFC3339Nano),
		StatusReady, StatusSkipped, StatusFailed, StatusExpired,
	)
	if err != nil {
		return nil, fmt.Errorf("items expired before: %w", err)
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

// RequestCancel flags an item so the orchestrator abandons it at the next
// stage boundary. In-flight external calls are not interrupted.
func (s *Store) RequestCancel(ctx context.Context, id int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE items SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}

// ResetItem returns an item to the initialized state: stage results and
// upload targets are cleared, attempt counters zeroed, and the TTL is
// recomputed from now rather than the original creation time. Derived file
// references must be released by the caller before resetting.
func (s *Store) ResetItem(ctx context.Context, id int64, expireAt *time.Time) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin reset tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		timestamp := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE items
             SET status = ?, media_ref = NULL, transcript_ref = NULL,
                 topics_json = NULL, subtitle_ref = NULL, error_message = NULL,
                 stage_attempts = 0, next_attempt_at = NULL,
                 quota_wait_since = NULL, cancel_requested = 0,
                 expire_at = ?, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			StatusInitialized,
			nullableTime(expireAt),
			timestamp,
			id,
		); err != nil {
			return fmt.Errorf("reset item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM stage_results WHERE item_id = ?`, id); err != nil {
			return fmt.Errorf("clear stage results: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_targets WHERE item_id = ?`, id); err != nil {
			return fmt.Errorf("clear upload targets: %w", err)
		}
		return tx.Commit()
	})
}
