package render

import (
	"testing"
	"time"

	"lectern/internal/queue"
	"lectern/internal/resolve"
)

func TestExpandSubstitutesKnownTokens(t *testing.T) {
	fields := Fields{"title": "Intro", "date": "2026-08-30"}
	got := Expand("{title} (published {date})", fields)
	want := "Intro (published 2026-08-30)"
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandDropsUnresolvedTokens(t *testing.T) {
	got := Expand("{title} for {course_code}", Fields{"title": "Intro"})
	if got != "Intro for " {
		t.Fatalf("Expand = %q", got)
	}
}

func TestExpandUnterminatedBrace(t *testing.T) {
	got := Expand("broken {title", Fields{"title": "Intro"})
	if got != "broken {title" {
		t.Fatalf("Expand = %q", got)
	}
}

func TestItemFieldsIncludeTopicList(t *testing.T) {
	item := &queue.Item{
		Title:      "Guest Lecture",
		TenantID:   "acme",
		TopicsJSON: `[{"label":"thermodynamics","score":0.9,"first_seen":12.5},{"label":"entropy","score":0.4,"first_seen":301}]`,
	}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	got := Expand("Covers: {topics}", ItemFields(item, now))
	if got != "Covers: thermodynamics, entropy" {
		t.Fatalf("Expand = %q", got)
	}

	// No topics yet: the token resolves to nothing instead of leaking
	// placeholder text into published metadata.
	item.TopicsJSON = ""
	got = Expand("Covers: {topics}", ItemFields(item, now))
	if got != "Covers: " {
		t.Fatalf("Expand = %q", got)
	}
}

func TestMetadataFallsBackToItemTitle(t *testing.T) {
	item := &queue.Item{Title: "Guest Lecture", TenantID: "acme"}
	rendered := Metadata(item, resolve.Metadata{}, time.Now())
	if rendered.TitleTemplate != "Guest Lecture" {
		t.Fatalf("TitleTemplate = %q", rendered.TitleTemplate)
	}
}

func TestMetadataRendersTemplates(t *testing.T) {
	item := &queue.Item{
		Title:           "Guest Lecture",
		TenantID:        "acme",
		DurationSeconds: 5400,
	}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rendered := Metadata(item, resolve.Metadata{
		TitleTemplate:       "[{tenant}] {title}",
		DescriptionTemplate: "Recorded {date}, runtime {duration}.",
	}, now)

	if rendered.TitleTemplate != "[acme] Guest Lecture" {
		t.Fatalf("TitleTemplate = %q", rendered.TitleTemplate)
	}
	if rendered.DescriptionTemplate != "Recorded 2026-08-30, runtime 1h30m." {
		t.Fatalf("DescriptionTemplate = %q", rendered.DescriptionTemplate)
	}
}
