package api

import (
	"encoding/json"
	"time"

	"lectern/internal/queue"
	"lectern/internal/workflow"
)

// FromItem converts a queue record to its API representation.
func FromItem(item *queue.Item) Item {
	if item == nil {
		return Item{}
	}
	dto := Item{
		ID:              item.ID,
		TenantID:        item.TenantID,
		SourceID:        item.SourceID,
		Title:           item.Title,
		Status:          string(item.Status),
		DurationSeconds: item.DurationSeconds,
		SizeBytes:       item.SizeBytes,
		TemplateID:      item.TemplateID,
		NeedsRematch:    item.NeedsRematch,
		ErrorMessage:    item.ErrorMessage,
		StageAttempts:   item.StageAttempts,
		SourceRef:       item.SourceRef,
		MediaRef:        item.MediaRef,
		TranscriptRef:   item.TranscriptRef,
		SubtitleRef:     item.SubtitleRef,
	}
	dto.NextAttemptAt = formatTime(item.NextAttemptAt)
	dto.ExpireAt = formatTime(item.ExpireAt)
	if !item.CreatedAt.IsZero() {
		dto.CreatedAt = item.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !item.UpdatedAt.IsZero() {
		dto.UpdatedAt = item.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if raw := item.TopicsJSON; raw != "" {
		dto.Topics = json.RawMessage(raw)
	}
	return dto
}

// FromItems converts a slice of queue records into API DTOs.
func FromItems(items []*queue.Item) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		out = append(out, FromItem(item))
	}
	return out
}

// FromTarget converts one publish-target record.
func FromTarget(target *queue.Target) Target {
	if target == nil {
		return Target{}
	}
	return Target{
		Platform:     target.Platform,
		Required:     target.Required,
		Status:       string(target.Status),
		AttemptCount: target.AttemptCount,
		ExternalID:   target.ExternalRef,
		LastError:    target.LastError,
	}
}

// FromTargets converts a slice of publish-target records.
func FromTargets(targets []*queue.Target) []Target {
	if len(targets) == 0 {
		return nil
	}
	out := make([]Target, 0, len(targets))
	for _, target := range targets {
		out = append(out, FromTarget(target))
	}
	return out
}

// FromStageResult converts one recorded stage attempt.
func FromStageResult(result queue.StageResult) StageResult {
	dto := StageResult{
		Stage:        result.Stage,
		Attempt:      result.Attempt,
		Outcome:      string(result.Outcome),
		ErrorKind:    result.ErrorKind,
		ErrorMessage: result.ErrorMessage,
	}
	if !result.StartedAt.IsZero() {
		dto.StartedAt = result.StartedAt.UTC().Format(dateTimeFormat)
	}
	if !result.FinishedAt.IsZero() {
		dto.FinishedAt = result.FinishedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromTemplate converts a template record to its API representation.
func FromTemplate(tpl *queue.Template) Template {
	if tpl == nil {
		return Template{}
	}
	dto := Template{
		ID:       tpl.ID,
		TenantID: tpl.TenantID,
		Name:     tpl.Name,
		Priority: tpl.Priority,
	}
	if !tpl.CreatedAt.IsZero() {
		dto.CreatedAt = tpl.CreatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromHealthReport flattens a workflow health report for transport.
func FromHealthReport(report workflow.HealthReport) []StageHealth {
	out := make([]StageHealth, 0, len(report.Checks))
	for _, check := range report.Checks {
		out = append(out, StageHealth{Name: check.Name, Ready: check.Ready, Detail: check.Detail})
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
