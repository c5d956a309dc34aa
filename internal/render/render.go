// Package render expands metadata templates for publishing. Templates
// use {token} placeholders; tokens that cannot be resolved are dropped
// from the output so published metadata never shows raw placeholders.
package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lectern/internal/queue"
	"lectern/internal/resolve"
	"lectern/internal/topics"
)

// Fields is the token table built from an item.
type Fields map[string]string

// ItemFields derives the standard token table for one item.
func ItemFields(item *queue.Item, now time.Time) Fields {
	fields := Fields{
		"title":     strings.TrimSpace(item.Title),
		"tenant":    item.TenantID,
		"source_id": item.SourceID,
		"date":      now.UTC().Format("2006-01-02"),
		"duration":  formatDuration(item.DurationSeconds),
	}
	if !item.CreatedAt.IsZero() {
		fields["recorded_date"] = item.CreatedAt.UTC().Format("2006-01-02")
	}
	if labels := topicLabels(item.TopicsJSON); labels != "" {
		fields["topics"] = labels
	}
	return fields
}

// topicLabels flattens the stored topic list into a comma-separated
// string. Malformed or absent topic data yields an empty string, which
// keeps the token unresolved rather than failing the render.
func topicLabels(topicsJSON string) string {
	if strings.TrimSpace(topicsJSON) == "" {
		return ""
	}
	var extracted []topics.Topic
	if err := json.Unmarshal([]byte(topicsJSON), &extracted); err != nil {
		return ""
	}
	labels := make([]string, 0, len(extracted))
	for _, topic := range extracted {
		if topic.Label != "" {
			labels = append(labels, topic.Label)
		}
	}
	return strings.Join(labels, ", ")
}

// Expand substitutes {token} placeholders from the field table. Tokens
// with no entry are removed, leaving the surrounding text intact.
func Expand(template string, fields Fields) string {
	if template == "" || !strings.Contains(template, "{") {
		return template
	}
	var out strings.Builder
	out.Grow(len(template))
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			out.WriteString(rest)
			return out.String()
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			out.WriteString(rest)
			return out.String()
		}
		out.WriteString(rest[:open])
		token := rest[open+1 : open+closing]
		if value, ok := fields[token]; ok {
			out.WriteString(value)
		}
		rest = rest[open+closing+1:]
	}
}

// Metadata renders the resolved metadata section for an item. An empty
// title template falls back to the item's own title.
func Metadata(item *queue.Item, meta resolve.Metadata, now time.Time) resolve.Metadata {
	fields := ItemFields(item, now)
	rendered := meta
	rendered.TitleTemplate = Expand(meta.TitleTemplate, fields)
	if strings.TrimSpace(rendered.TitleTemplate) == "" {
		rendered.TitleTemplate = strings.TrimSpace(item.Title)
	}
	rendered.DescriptionTemplate = Expand(meta.DescriptionTemplate, fields)
	return rendered
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "0m"
	}
	d := time.Duration(seconds * float64(time.Second))
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
