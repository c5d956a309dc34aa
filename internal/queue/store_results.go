package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AppendStageResult records one stage attempt for an item. The log is
// append-only: rows are inserted here and deleted only by reset or item
// removal, never updated.
func (s *Store) AppendStageResult(ctx context.Context, result StageResult) (int64, error) {
	if result.ItemID == 0 {
		return 0, errors.New("stage result requires item id")
	}
	if result.Stage == "" {
		return 0, errors.New("stage result requires stage name")
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO stage_results (
            item_id, stage, attempt, outcome, error_kind, error_message,
            started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ItemID,
		result.Stage,
		result.Attempt,
		string(result.Outcome),
		result.ErrorKind,
		result.ErrorMessage,
		result.StartedAt.UTC().Format(time.RFC3339Nano),
		result.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("append stage result: %w", err)
	}
	return res.LastInsertId()
}

// StageResults returns the recorded attempts for an item in insertion order.
func (s *Store) StageResults(ctx context.Context, itemID int64) ([]StageResult, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, item_id, stage, attempt, outcome, error_kind, error_message,
            started_at, finished_at
         FROM stage_results WHERE item_id = ? ORDER BY id`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("stage results: %w", err)
	}
	defer rows.Close()

	var results []StageResult
	for rows.Next() {
		var (
			result     StageResult
			outcome    string
			startedAt  string
			finishedAt string
		)
		if err := rows.Scan(
			&result.ID,
			&result.ItemID,
			&result.Stage,
			&result.Attempt,
			&outcome,
			&result.ErrorKind,
			&result.ErrorMessage,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, err
		}
		result.Outcome = StageOutcome(outcome)
		if result.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		if result.FinishedAt, err = parseTimestamp(finishedAt); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
