package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Item describes a queue entry in a transport-friendly format.
type Item struct {
	ID              int64           `json:"id"`
	TenantID        string          `json:"tenantId"`
	SourceID        string          `json:"sourceId"`
	Title           string          `json:"title"`
	Status          string          `json:"status"`
	DurationSeconds float64         `json:"durationSeconds,omitempty"`
	SizeBytes       int64           `json:"sizeBytes,omitempty"`
	TemplateID      *int64          `json:"templateId,omitempty"`
	NeedsRematch    bool            `json:"needsRematch,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	StageAttempts   int             `json:"stageAttempts,omitempty"`
	NextAttemptAt   string          `json:"nextAttemptAt,omitempty"`
	ExpireAt        string          `json:"expireAt,omitempty"`
	SourceRef       string          `json:"sourceRef,omitempty"`
	MediaRef        string          `json:"mediaRef,omitempty"`
	TranscriptRef   string          `json:"transcriptRef,omitempty"`
	SubtitleRef     string          `json:"subtitleRef,omitempty"`
	Topics          json.RawMessage `json:"topics,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
	Targets         []Target        `json:"targets,omitempty"`
}

// Target describes one per-platform publication attempt.
type Target struct {
	Platform     string `json:"platform"`
	Required     bool   `json:"required"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attemptCount"`
	ExternalID   string `json:"externalId,omitempty"`
	LastError    string `json:"lastError,omitempty"`
}

// StageResult describes one recorded stage attempt.
type StageResult struct {
	Stage        string `json:"stage"`
	Attempt      int    `json:"attempt"`
	Outcome      string `json:"outcome"`
	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	StartedAt    string `json:"startedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
}

// Template describes a stored matching template.
type Template struct {
	ID        int64  `json:"id"`
	TenantID  string `json:"tenantId"`
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Status summarizes orchestrator execution state.
type Status struct {
	Running     bool           `json:"running"`
	QueueCounts map[string]int `json:"queueCounts"`
	LastError   string         `json:"lastError,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// ItemListResponse wraps a collection of queue items.
type ItemListResponse struct {
	Items []Item `json:"items"`
}

// ItemDetailResponse wraps a single item with its stage history.
type ItemDetailResponse struct {
	Item    Item          `json:"item"`
	History []StageResult `json:"history"`
}
