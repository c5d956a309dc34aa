package sourcesync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/quota"
	"lectern/internal/templates"
)

type fakeLister struct {
	recordings []Recording
	err        error
}

func (f *fakeLister) ListRecordings(ctx context.Context) ([]Recording, error) {
	return f.recordings, f.err
}

func newSyncer(t *testing.T, lister Lister) (*Syncer, *queue.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()

	store, err := queue.OpenPath(filepath.Join(cfg.Paths.DataDir, "lectern.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	matcher, err := templates.NewMatcher(store)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	if err := store.UpsertTenant(context.Background(), &queue.Tenant{
		ID:            "acme",
		RetentionDays: 30,
	}); err != nil {
		t.Fatalf("UpsertTenant: %v", err)
	}

	return New(&cfg, store, logging.NewNop(), lister, matcher, quota.NewGate(store)), store
}

func TestSyncOnceCreatesItemsIdempotently(t *testing.T) {
	lister := &fakeLister{recordings: []Recording{
		{SourceID: "rec-1", TenantID: "acme", Title: "Lecture one", DurationSeconds: 3600},
		{SourceID: "rec-2", TenantID: "acme", Title: "Lecture two", DurationSeconds: 1800},
	}}
	syncer, store := newSyncer(t, lister)
	ctx := context.Background()

	created, err := syncer.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if created != 2 {
		t.Fatalf("created = %d", created)
	}

	// Re-announcing the same recordings must not duplicate them.
	created, err = syncer.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if created != 0 {
		t.Fatalf("created on second pass = %d", created)
	}

	items, err := store.ListForTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("ListForTenant: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	for _, item := range items {
		if item.Status != queue.StatusInitialized {
			t.Fatalf("item %d status = %q", item.ID, item.Status)
		}
		if item.ExpireAt == nil || !item.ExpireAt.After(time.Now()) {
			t.Fatalf("item %d expire_at = %v", item.ID, item.ExpireAt)
		}
	}
}

func TestSyncOnceAssignsMatchingTemplate(t *testing.T) {
	lister := &fakeLister{recordings: []Recording{
		{SourceID: "rec-1", TenantID: "acme", Title: "CS101 lecture"},
	}}
	syncer, store := newSyncer(t, lister)
	ctx := context.Background()

	tpl, err := store.CreateTemplate(ctx, &queue.Template{
		TenantID:  "acme",
		Name:      "lectures",
		RulesJSON: `{"keywords": ["lecture"]}`,
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	if _, err := syncer.SyncOnce(ctx); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	item, err := store.FindBySource(ctx, "acme", "rec-1")
	if err != nil {
		t.Fatalf("FindBySource: %v", err)
	}
	if item.TemplateID == nil || *item.TemplateID != tpl.ID {
		t.Fatalf("TemplateID = %v", item.TemplateID)
	}
}

func TestSyncOnceIgnoresUnknownTenant(t *testing.T) {
	lister := &fakeLister{recordings: []Recording{
		{SourceID: "rec-1", TenantID: "ghost", Title: "Nobody's lecture"},
	}}
	syncer, store := newSyncer(t, lister)

	created, err := syncer.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if created != 0 {
		t.Fatalf("created = %d", created)
	}
	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %d", len(items))
	}
}

func TestSyncOnceDefersWhenItemQuotaExhausted(t *testing.T) {
	lister := &fakeLister{recordings: []Recording{
		{SourceID: "rec-1", TenantID: "acme", Title: "one"},
		{SourceID: "rec-2", TenantID: "acme", Title: "two"},
	}}
	syncer, store := newSyncer(t, lister)
	ctx := context.Background()

	if err := store.UpsertTenant(ctx, &queue.Tenant{
		ID:                "acme",
		MaxItemsPerPeriod: 1,
		RetentionDays:     30,
	}); err != nil {
		t.Fatalf("UpsertTenant: %v", err)
	}

	created, err := syncer.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want quota-limited 1", created)
	}
}
