package quota

import (
	"context"
	"path/filepath"
	"testing"

	"lectern/internal/queue"
)

func openGate(t *testing.T) (*Gate, *queue.Store) {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "lectern.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewGate(store), store
}

func TestAdmitStageEnforcesLimit(t *testing.T) {
	gate, _ := openGate(t)
	tenant := &queue.Tenant{ID: "acme", MaxConcurrentStages: 1}
	ctx := context.Background()

	ok, err := gate.AdmitStage(ctx, tenant)
	if err != nil {
		t.Fatalf("AdmitStage: %v", err)
	}
	if !ok {
		t.Fatal("first admission should pass")
	}

	ok, err = gate.AdmitStage(ctx, tenant)
	if err != nil {
		t.Fatalf("AdmitStage: %v", err)
	}
	if ok {
		t.Fatal("second admission should be refused at limit 1")
	}

	if err := gate.ReleaseStage(ctx, tenant.ID); err != nil {
		t.Fatalf("ReleaseStage: %v", err)
	}
	ok, err = gate.AdmitStage(ctx, tenant)
	if err != nil {
		t.Fatalf("AdmitStage: %v", err)
	}
	if !ok {
		t.Fatal("admission should pass after release")
	}
}

func TestZeroLimitMeansUnlimited(t *testing.T) {
	gate, _ := openGate(t)
	tenant := &queue.Tenant{ID: "acme"}
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		ok, err := gate.AdmitStage(ctx, tenant)
		if err != nil {
			t.Fatalf("AdmitStage: %v", err)
		}
		if !ok {
			t.Fatalf("admission %d refused with no limit", i)
		}
	}
}

func TestStorageReserveAndRelease(t *testing.T) {
	gate, _ := openGate(t)
	tenant := &queue.Tenant{ID: "acme", MaxStorageBytes: 100}
	ctx := context.Background()

	ok, err := gate.ReserveStorage(ctx, tenant, 80)
	if err != nil {
		t.Fatalf("ReserveStorage: %v", err)
	}
	if !ok {
		t.Fatal("reservation within limit should pass")
	}

	ok, err = gate.ReserveStorage(ctx, tenant, 30)
	if err != nil {
		t.Fatalf("ReserveStorage: %v", err)
	}
	if ok {
		t.Fatal("reservation over limit should be refused")
	}

	if err := gate.ReleaseStorage(ctx, tenant.ID, 80); err != nil {
		t.Fatalf("ReleaseStorage: %v", err)
	}
	ok, err = gate.ReserveStorage(ctx, tenant, 30)
	if err != nil {
		t.Fatalf("ReserveStorage: %v", err)
	}
	if !ok {
		t.Fatal("reservation should pass after release")
	}

	usage, err := gate.Usage(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.StorageBytes != 30 {
		t.Fatalf("StorageBytes = %d", usage.StorageBytes)
	}
}

func TestAdmitItemCountsPerPeriod(t *testing.T) {
	gate, _ := openGate(t)
	tenant := &queue.Tenant{ID: "acme", MaxItemsPerPeriod: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := gate.AdmitItem(ctx, tenant)
		if err != nil {
			t.Fatalf("AdmitItem: %v", err)
		}
		if !ok {
			t.Fatalf("item %d refused under limit", i)
		}
	}
	ok, err := gate.AdmitItem(ctx, tenant)
	if err != nil {
		t.Fatalf("AdmitItem: %v", err)
	}
	if ok {
		t.Fatal("third item should be refused at limit 2")
	}
}
