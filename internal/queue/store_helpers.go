package queue

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func parseTimestamp(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}

func parseOptionalTimestamp(value sql.NullString) (*time.Time, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	ts, err := parseTimestamp(value.String)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const itemColumns = `id, tenant_id, source_id, title, duration_seconds, size_bytes, status,
    template_id, needs_rematch, manual_overrides_json, source_ref, media_ref,
    transcript_ref, topics_json, subtitle_ref, error_message, stage_attempts,
    next_attempt_at, quota_wait_since, cancel_requested, expire_at,
    last_heartbeat, created_at, updated_at`

func scanItem(row rowScanner) (*Item, error) {
	var (
		item            Item
		templateID      sql.NullInt64
		needsRematch    int
		manualOverrides sql.NullString
		sourceRef       sql.NullString
		mediaRef        sql.NullString
		transcriptRef   sql.NullString
		topicsJSON      sql.NullString
		subtitleRef     sql.NullString
		errorMessage    sql.NullString
		nextAttemptAt   sql.NullString
		quotaWaitSince  sql.NullString
		cancelRequested int
		expireAt        sql.NullString
		lastHeartbeat   sql.NullString
		createdAt       string
		updatedAt       string
		status          string
	)

	if err := row.Scan(
		&item.ID,
		&item.TenantID,
		&item.SourceID,
		&item.Title,
		&item.DurationSeconds,
		&item.SizeBytes,
		&status,
		&templateID,
		&needsRematch,
		&manualOverrides,
		&sourceRef,
		&mediaRef,
		&transcriptRef,
		&topicsJSON,
		&subtitleRef,
		&errorMessage,
		&item.StageAttempts,
		&nextAttemptAt,
		&quotaWaitSince,
		&cancelRequested,
		&expireAt,
		&lastHeartbeat,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	item.Status = Status(status)
	if templateID.Valid {
		id := templateID.Int64
		item.TemplateID = &id
	}
	item.NeedsRematch = needsRematch != 0
	item.ManualOverrides = manualOverrides.String
	item.SourceRef = sourceRef.String
	item.MediaRef = mediaRef.String
	item.TranscriptRef = transcriptRef.String
	item.TopicsJSON = topicsJSON.String
	item.SubtitleRef = subtitleRef.String
	item.ErrorMessage = errorMessage.String
	item.CancelRequested = cancelRequested != 0

	var err error
	if item.NextAttemptAt, err = parseOptionalTimestamp(nextAttemptAt); err != nil {
		return nil, err
	}
	if item.QuotaWaitSince, err = parseOptionalTimestamp(quotaWaitSince); err != nil {
		return nil, err
	}
	if item.ExpireAt, err = parseOptionalTimestamp(expireAt); err != nil {
		return nil, err
	}
	if item.LastHeartbeat, err = parseOptionalTimestamp(lastHeartbeat); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}

	return &item, nil
}

const templateColumns = `id, tenant_id, name, priority, rules_json, processing_json,
    metadata_json, output_json, created_at, updated_at`

func scanTemplate(row rowScanner) (*Template, error) {
	var (
		tpl       Template
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&tpl.ID,
		&tpl.TenantID,
		&tpl.Name,
		&tpl.Priority,
		&tpl.RulesJSON,
		&tpl.ProcessingJSON,
		&tpl.MetadataJSON,
		&tpl.OutputJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if tpl.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if tpl.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &tpl, nil
}

const targetColumns = `id, item_id, platform, required, status, attempt_count,
    last_error, external_ref, updated_at`

func scanTarget(row rowScanner) (*Target, error) {
	var (
		target    Target
		required  int
		status    string
		updatedAt string
	)
	if err := row.Scan(
		&target.ID,
		&target.ItemID,
		&target.Platform,
		&required,
		&status,
		&target.AttemptCount,
		&target.LastError,
		&target.ExternalRef,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	target.Required = required != 0
	target.Status = TargetStatus(status)
	var err error
	if target.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &target, nil
}
