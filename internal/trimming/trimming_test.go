package trimming

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"lectern/internal/config"
	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
)

type fakeTrimmer struct {
	calls int
	err   error
}

func (f *fakeTrimmer) Trim(ctx context.Context, inputPath, outputPath string, thresholdDB, minSilenceSeconds float64) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data[:len(data)/2], 0o644)
}

func (f *fakeTrimmer) Available() error { return nil }

func newFixture(t *testing.T, trimmer Trimmer, overrides string) (*Stage, *queue.Item) {
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
	if overrides != "" {
		item.ManualOverrides = overrides
		if err := store.Update(ctx, item); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	src := filepath.Join(t.TempDir(), "source.mp4")
	if err := os.WriteFile(src, []byte("0123456789abcdef"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ref, err := blobs.Save(ctx, "acme/rec-1/source.mp4", src)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	item.SourceRef = ref
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	return NewWithDependencies(&cfg, store, logging.NewNop(), trimmer, blobs), item
}

func TestExecuteProducesTrimmedArtifact(t *testing.T) {
	trimmer := &fakeTrimmer{}
	stg, item := newFixture(t, trimmer, "")
	ctx := context.Background()

	if err := stg.Prepare(ctx, item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := stg.Execute(ctx, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if item.MediaRef != "local:acme/rec-1/trimmed.mp4" {
		t.Fatalf("MediaRef = %q", item.MediaRef)
	}
	if trimmer.calls != 1 {
		t.Fatalf("trimmer calls = %d", trimmer.calls)
	}
}

func TestExecuteSkipsWhenDisabled(t *testing.T) {
	trimmer := &fakeTrimmer{}
	stg, item := newFixture(t, trimmer, `{"processing": {"trim_silence": false}}`)

	err := stg.Execute(context.Background(), item)
	reason, skipped := stage.IsSkip(err)
	if !skipped {
		t.Fatalf("expected skip signal, got %v", err)
	}
	if reason == "" {
		t.Fatal("skip reason should be set")
	}
	if item.MediaRef != item.SourceRef {
		t.Fatalf("MediaRef = %q, want source passthrough", item.MediaRef)
	}
	if trimmer.calls != 0 {
		t.Fatalf("trimmer calls = %d", trimmer.calls)
	}
}

func TestExecutePropagatesToolFailure(t *testing.T) {
	toolErr := services.Wrap(services.ErrExternalTool, "trim", "run ffmpeg", "exit 1", nil)
	stg, item := newFixture(t, &fakeTrimmer{err: toolErr}, "")

	err := stg.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected tool failure")
	}
	if services.Kind(err) != services.ErrorKindExternal {
		t.Fatalf("kind = %q", services.Kind(err))
	}
	if !services.IsRetriable(err) {
		t.Fatal("external tool failures retry")
	}
}

func TestPrepareRequiresFetchedRecording(t *testing.T) {
	stg, item := newFixture(t, &fakeTrimmer{}, "")
	item.SourceRef = ""
	if err := stg.Prepare(context.Background(), item); err == nil {
		t.Fatal("expected validation error")
	}
}
