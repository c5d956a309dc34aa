package testsupport

import (
	"context"
	"testing"

	"lectern/internal/config"
	"lectern/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedTenant registers a tenant with sensible defaults for tests. Zero
// limits leave every quota unlimited.
func SeedTenant(t testing.TB, store *queue.Store, id string) *queue.Tenant {
	t.Helper()

	tenant := &queue.Tenant{
		ID:            id,
		Name:          id,
		PublishPolicy: "all_required",
		RetentionDays: 30,
	}
	if err := store.UpsertTenant(context.Background(), tenant); err != nil {
		t.Fatalf("store.UpsertTenant: %v", err)
	}
	return tenant
}

// SeedItem creates a freshly synced recording for tests.
func SeedItem(t testing.TB, store *queue.Store, tenantID, sourceID, title string) *queue.Item {
	t.Helper()

	item, err := store.NewItem(context.Background(), queue.NewItemParams{
		TenantID: tenantID,
		SourceID: sourceID,
		Title:    title,
	})
	if err != nil {
		t.Fatalf("store.NewItem: %v", err)
	}
	return item
}
