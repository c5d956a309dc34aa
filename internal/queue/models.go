package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline item.
type Status string

const (
	StatusInitialized      Status = "initialized"
	StatusFetching         Status = "fetching"
	StatusFetched          Status = "fetched"
	StatusTrimming         Status = "trimming"
	StatusTrimmed          Status = "trimmed"
	StatusTranscribing     Status = "transcribing"
	StatusTranscribed      Status = "transcribed"
	StatusExtractingTopics Status = "extracting_topics"
	StatusTopicsReady      Status = "topics_ready"
	StatusSubtitling       Status = "subtitling"
	StatusSubtitled        Status = "subtitled"
	StatusPublishing       Status = "publishing"
	StatusReady            Status = "ready"
	StatusSkipped          Status = "skipped"
	StatusFailed           Status = "failed"
	StatusExpired          Status = "expired"
)

var allStatuses = []Status{
	StatusInitialized,
	StatusFetching,
	StatusFetched,
	StatusTrimming,
	StatusTrimmed,
	StatusTranscribing,
	StatusTranscribed,
	StatusExtractingTopics,
	StatusTopicsReady,
	StatusSubtitling,
	StatusSubtitled,
	StatusPublishing,
	StatusReady,
	StatusSkipped,
	StatusFailed,
	StatusExpired,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusReady:   {},
	StatusSkipped: {},
	StatusFailed:  {},
	StatusExpired: {},
}

var processingStatuses = map[Status]struct{}{
	StatusFetching:         {},
	StatusTrimming:         {},
	StatusTranscribing:     {},
	StatusExtractingTopics: {},
	StatusSubtitling:       {},
	StatusPublishing:       {},
}

// StageStartStatuses lists, in pipeline order, the statuses from which the
// orchestrator dispatches the next stage.
var StageStartStatuses = []Status{
	StatusInitialized,
	StatusFetched,
	StatusTrimmed,
	StatusTranscribed,
	StatusTopicsReady,
	StatusSubtitled,
}

// RollbackStatus maps each processing status back to the start of its stage.
// A transiently failed or reclaimed stage returns here for the next attempt.
var RollbackStatus = map[Status]Status{
	StatusFetching:         StatusInitialized,
	StatusTrimming:         StatusFetched,
	StatusTranscribing:     StatusTrimmed,
	StatusExtractingTopics: StatusTranscribed,
	StatusSubtitling:       StatusTopicsReady,
	StatusPublishing:       StatusSubtitled,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminalStatus reports whether no further automatic stage execution
// occurs from the given status.
func IsTerminalStatus(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// Item represents one media unit persisted in SQLite and driven through the
// pipeline by the orchestrator.
type Item struct {
	ID              int64
	TenantID        string
	SourceID        string
	Title           string
	DurationSeconds float64
	SizeBytes       int64
	Status          Status
	TemplateID      *int64
	NeedsRematch    bool
	ManualOverrides string
	SourceRef       string
	MediaRef        string
	TranscriptRef   string
	TopicsJSON      string
	SubtitleRef     string
	ErrorMessage    string
	StageAttempts   int
	NextAttemptAt   *time.Time
	QuotaWaitSince  *time.Time
	CancelRequested bool
	ExpireAt        *time.Time
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsProcessing returns true when the item status reflects an in-flight stage.
func (i Item) IsProcessing() bool {
	return IsProcessingStatus(i.Status)
}

// IsTerminal returns true when the item will not be scheduled again.
func (i Item) IsTerminal() bool {
	return IsTerminalStatus(i.Status)
}

// ExpiredAt reports whether the item TTL has elapsed at the given instant.
func (i Item) ExpiredAt(now time.Time) bool {
	return i.ExpireAt != nil && now.After(*i.ExpireAt)
}

// OwnedRefs returns every file reference owned by the item, source first.
func (i Item) OwnedRefs() []string {
	refs := make([]string, 0, 4)
	for _, ref := range []string{i.SourceRef, i.MediaRef, i.TranscriptRef, i.SubtitleRef} {
		if strings.TrimSpace(ref) != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// DerivedRefs returns the file references produced by pipeline stages, which
// a reset releases while the synced source reference is retained.
func (i Item) DerivedRefs() []string {
	refs := make([]string, 0, 3)
	for _, ref := range []string{i.MediaRef, i.TranscriptRef, i.SubtitleRef} {
		if strings.TrimSpace(ref) != "" && ref != i.SourceRef {
			refs = append(refs, ref)
		}
	}
	return refs
}

// SetFailed marks the item as failed with the given error message.
func (i *Item) SetFailed(message string) {
	i.Status = StatusFailed
	i.ErrorMessage = message
	i.LastHeartbeat = nil
	i.NextAttemptAt = nil
}

// StageOutcome classifies a recorded stage attempt.
type StageOutcome string

const (
	OutcomeSuccess   StageOutcome = "success"
	OutcomeFailed    StageOutcome = "failed"
	OutcomeSkipped   StageOutcome = "skipped"
	OutcomeAbandoned StageOutcome = "abandoned"
)

// StageResult is one append-only record of a stage attempt. Rows are never
// rewritten after insertion.
type StageResult struct {
	ID           int64
	ItemID       int64
	Stage        string
	Attempt      int
	Outcome      StageOutcome
	ErrorKind    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// TargetStatus is the lifecycle of one (item, platform) publication attempt.
type TargetStatus string

const (
	TargetPending   TargetStatus = "pending"
	TargetUploading TargetStatus = "uploading"
	TargetRetrying  TargetStatus = "retrying"
	TargetSucceeded TargetStatus = "succeeded"
	TargetFailed    TargetStatus = "failed"
)

// IsTerminalTargetStatus reports whether a target needs no further attempts.
func IsTerminalTargetStatus(status TargetStatus) bool {
	return status == TargetSucceeded || status == TargetFailed
}

// Target records one platform publication for an item.
type Target struct {
	ID           int64
	ItemID       int64
	Platform     string
	Required     bool
	Status       TargetStatus
	AttemptCount int
	LastError    string
	ExternalRef  string
	UpdatedAt    time.Time
}

// Template is a reusable matching-rule + configuration bundle.
type Template struct {
	ID             int64
	TenantID       string
	Name           string
	Priority       int
	RulesJSON      string
	ProcessingJSON string
	MetadataJSON   string
	OutputJSON     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Tenant holds per-tenant defaults and resource limits.
type Tenant struct {
	ID                  string
	Name                string
	DefaultsJSON        string
	PublishPolicy       string
	MaxConcurrentStages int
	MaxItemsPerPeriod   int
	MaxStorageBytes     int64
	RetentionDays       int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// QuotaUsage is one per-tenant, per-period counter row.
type QuotaUsage struct {
	TenantID         string
	Period           string
	ItemsProcessed   int64
	StorageBytes     int64
	ConcurrentStages int64
	UpdatedAt        time.Time
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Waiting    int
	Processing int
	Ready      int
	Failed     int
	Skipped    int
	Expired    int
}
