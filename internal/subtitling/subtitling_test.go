package subtitling

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"lectern/internal/config"
	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/stage"
	"lectern/internal/transcript"
)

func sampleDoc() *transcript.Transcript {
	return &transcript.Transcript{Segments: []transcript.Segment{
		{Start: 0, End: 3.5, Text: "Hello everyone."},
		{Start: 3.5, End: 7.25, Text: "Let's begin."},
		{Start: 7.25, End: 8, Text: "   "},
	}}
}

func TestRenderSRT(t *testing.T) {
	got, err := Render(sampleDoc(), FormatSRT)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "1\n00:00:00,000 --> 00:00:03,500\nHello everyone.\n\n" +
		"2\n00:00:03,500 --> 00:00:07,250\nLet's begin.\n\n"
	if got != want {
		t.Fatalf("SRT output:\n%q\nwant:\n%q", got, want)
	}
}

func TestRenderVTT(t *testing.T) {
	got, err := Render(sampleDoc(), FormatVTT)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(got, "WEBVTT\n\n") {
		t.Fatalf("missing header: %q", got)
	}
	if !strings.Contains(got, "00:00:03.500 --> 00:00:07.250\nLet's begin.") {
		t.Fatalf("missing cue: %q", got)
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if _, err := Render(sampleDoc(), "ass"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func newFixture(t *testing.T, overrides string) (*Stage, *queue.Item, filestore.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.StagingDir = t.TempDir()

	store, err := queue.OpenPath(filepath.Join(cfg.Paths.DataDir, "lectern.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	blobs, err := filestore.NewLocal(cfg.Paths.DataDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	ctx := context.Background()
	if err := store.UpsertTenant(ctx, &queue.Tenant{ID: "acme"}); err != nil {
		t.Fatalf("UpsertTenant: %v", err)
	}
	item, err := store.NewItem(ctx, queue.NewItemParams{
		TenantID: "acme",
		SourceID: "rec-1",
		Title:    "Lecture",
	})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	item.ManualOverrides = overrides
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return New(&cfg, store, logging.NewNop(), blobs), item, blobs
}

func TestExecuteStoresSubtitleRef(t *testing.T) {
	stg, item, blobs := newFixture(t, `{"processing": {"subtitle_format": "vtt"}}`)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "transcript.json")
	if err := sampleDoc().SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	ref, err := blobs.Save(ctx, "acme/rec-1/transcript.json", path)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	item.TranscriptRef = ref

	if err := stg.Execute(ctx, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if item.SubtitleRef != "local:acme/rec-1/subtitles.vtt" {
		t.Fatalf("SubtitleRef = %q", item.SubtitleRef)
	}
}

func TestExecuteSkipsWithoutTranscript(t *testing.T) {
	stg, item, _ := newFixture(t, "")
	if _, skipped := stage.IsSkip(stg.Execute(context.Background(), item)); !skipped {
		t.Fatal("expected skip")
	}
	if item.SubtitleRef != "" {
		t.Fatalf("SubtitleRef = %q", item.SubtitleRef)
	}
}

func TestExecuteSkipsWhenDisabled(t *testing.T) {
	stg, item, _ := newFixture(t, `{"processing": {"subtitles": false}}`)
	if _, skipped := stage.IsSkip(stg.Execute(context.Background(), item)); !skipped {
		t.Fatal("expected skip")
	}
}
