package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"lectern/internal/config"
	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/quota"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/testsupport"
)

type fakeHandler struct {
	name     string
	prepare  func(ctx context.Context, item *queue.Item) error
	execute  func(ctx context.Context, item *queue.Item) error
	executed atomic.Int64
}

func (f *fakeHandler) Prepare(ctx context.Context, item *queue.Item) error {
	if f.prepare != nil {
		return f.prepare(ctx, item)
	}
	return nil
}

func (f *fakeHandler) Execute(ctx context.Context, item *queue.Item) error {
	f.executed.Add(1)
	if f.execute != nil {
		return f.execute(ctx, item)
	}
	return nil
}

func (f *fakeHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy(f.name)
}

type harness struct {
	cfg     *config.Config
	store   *queue.Store
	blobs   filestore.Store
	gate    *quota.Gate
	manager *Manager
	stages  map[string]*fakeHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.StageTimeout = 60
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = 1
	store := testsupport.MustOpenStore(t, cfg)

	blobs, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("local blobs: %v", err)
	}

	stages := map[string]*fakeHandler{
		"fetch":      {name: "fetch"},
		"trim":       {name: "trim"},
		"transcribe": {name: "transcribe"},
		"topics":     {name: "topics"},
		"subtitle":   {name: "subtitle"},
		"publish":    {name: "publish"},
	}
	gate := quota.NewGate(store)
	manager := NewManager(cfg, store, logging.NewNop(), blobs, gate, StageSet{
		Fetcher:     stages["fetch"],
		Trimmer:     stages["trim"],
		Transcriber: stages["transcribe"],
		Topics:      stages["topics"],
		Subtitler:   stages["subtitle"],
		Publisher:   stages["publish"],
	})
	return &harness{cfg: cfg, store: store, blobs: blobs, gate: gate, manager: manager, stages: stages}
}

func (h *harness) seedTenant(t *testing.T, id string, concurrent int) {
	t.Helper()
	err := h.store.UpsertTenant(context.Background(), &queue.Tenant{
		ID:                  id,
		Name:                id,
		PublishPolicy:       "all_required",
		MaxConcurrentStages: concurrent,
		RetentionDays:       30,
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
}

func (h *harness) seedItem(t *testing.T, tenant, source string) *queue.Item {
	t.Helper()
	item, err := h.store.NewItem(context.Background(), queue.NewItemParams{
		TenantID:        tenant,
		SourceID:        source,
		Title:           "Lecture 1",
		DurationSeconds: 1800,
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

// step runs one worker pass and fails the test on worker-level errors.
func (h *harness) step(t *testing.T) bool {
	t.Helper()
	processed, err := h.manager.processNext(context.Background(), h.manager.logger)
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	return processed
}

func (h *harness) reload(t *testing.T, id int64) *queue.Item {
	t.Helper()
	item, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload item: %v", err)
	}
	if item == nil {
		t.Fatalf("item %d missing", id)
	}
	return item
}

func TestPolicyExclusionSkipsBeforeAnyStage(t *testing.T) {
	h := newHarness(t)
	err := h.store.UpsertTenant(context.Background(), &queue.Tenant{
		ID:            "acme",
		Name:          "acme",
		PublishPolicy: "all_required",
		DefaultsJSON:  `{"processing": {"min_duration_seconds": 600}}`,
		RetentionDays: 30,
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	item, err := h.store.NewItem(context.Background(), queue.NewItemParams{
		TenantID:        "acme",
		SourceID:        "rec-short",
		Title:           "Hallway chat",
		DurationSeconds: 30,
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}

	if !h.step(t) {
		t.Fatal("expected the short item to be picked up")
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusSkipped {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusSkipped)
	}
	if !strings.Contains(got.ErrorMessage, "minimum") {
		t.Fatalf("ErrorMessage = %q", got.ErrorMessage)
	}
	if n := h.stages["fetch"].executed.Load(); n != 0 {
		t.Fatalf("fetch executed %d times, want none", n)
	}

	results, err := h.store.StageResults(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("stage results: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("recorded %d stage results, want none", len(results))
	}
	if h.step(t) {
		t.Fatal("excluded item should not be scheduled again")
	}
}

func TestOverdueItemExpiresBeforeAnyStage(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	item, err := h.store.NewItem(ctx, queue.NewItemParams{
		TenantID: "acme",
		SourceID: "rec-stale",
		Title:    "Stale lecture",
		ExpireAt: &past,
	})
	if err != nil {
		t.Fatalf("new item: %v", err)
	}

	src := filepath.Join(t.TempDir(), "source.mp4")
	if err := writeFile(src, "media-bytes"); err != nil {
		t.Fatalf("write media: %v", err)
	}
	ref, err := h.blobs.Save(ctx, "acme/rec-stale/source.mp4", src)
	if err != nil {
		t.Fatalf("save blob: %v", err)
	}
	item.SourceRef = ref
	item.SizeBytes = 11
	if err := h.store.Update(ctx, item); err != nil {
		t.Fatalf("update item: %v", err)
	}

	if !h.step(t) {
		t.Fatal("expected the overdue item to be picked up")
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusExpired {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusExpired)
	}
	if got.ErrorMessage != "retention period elapsed" {
		t.Fatalf("ErrorMessage = %q", got.ErrorMessage)
	}
	if n := h.stages["fetch"].executed.Load(); n != 0 {
		t.Fatalf("fetch executed %d times, want none", n)
	}
	if _, err := h.blobs.Size(ctx, ref); err == nil {
		t.Fatal("expected the source blob to be deleted")
	}
	if h.step(t) {
		t.Fatal("expired item should not be scheduled again")
	}
}

func TestPipelineRunsToReady(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	item := h.seedItem(t, "acme", "rec-100")

	for i := 0; i < 6; i++ {
		if !h.step(t) {
			t.Fatalf("expected pass %d to process the item", i)
		}
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusReady {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusReady)
	}
	if h.step(t) {
		t.Fatal("ready item should not be scheduled again")
	}

	results, err := h.store.StageResults(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("stage results: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("recorded %d stage results, want 6", len(results))
	}
	wantStages := []string{"fetch", "trim", "transcribe", "topics", "subtitle", "publish"}
	for i, result := range results {
		if result.Stage != wantStages[i] {
			t.Errorf("result %d stage = %s, want %s", i, result.Stage, wantStages[i])
		}
		if result.Outcome != queue.OutcomeSuccess {
			t.Errorf("result %d outcome = %s", i, result.Outcome)
		}
	}
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	item := h.seedItem(t, "acme", "rec-101")

	calls := 0
	h.stages["fetch"].execute = func(ctx context.Context, it *queue.Item) error {
		calls++
		if calls == 1 {
			return services.Wrap(services.ErrTransient, "fetch", "download", "source briefly unreachable", nil)
		}
		return nil
	}

	if !h.step(t) {
		t.Fatal("expected first pass to process the item")
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusInitialized {
		t.Fatalf("status after transient failure = %s, want %s", got.Status, queue.StatusInitialized)
	}
	if got.StageAttempts != 1 {
		t.Fatalf("stage attempts = %d, want 1", got.StageAttempts)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.After(time.Now().Add(-time.Second)) {
		t.Fatal("expected a future retry time")
	}

	// The backoff delay keeps the item out of the due set until it elapses.
	if h.step(t) {
		t.Fatal("item should not be due before its retry time")
	}

	past := time.Now().Add(-time.Minute)
	got.NextAttemptAt = &past
	if err := h.store.Update(context.Background(), got); err != nil {
		t.Fatalf("rewind retry time: %v", err)
	}
	if !h.step(t) {
		t.Fatal("expected the retry to run")
	}
	got = h.reload(t, item.ID)
	if got.Status != queue.StatusFetched {
		t.Fatalf("status after retry = %s, want %s", got.Status, queue.StatusFetched)
	}
	if got.StageAttempts != 0 {
		t.Fatalf("stage attempts after success = %d, want 0", got.StageAttempts)
	}
}

func TestValidationFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	item := h.seedItem(t, "acme", "rec-102")

	h.stages["fetch"].execute = func(ctx context.Context, it *queue.Item) error {
		return services.Wrap(services.ErrValidation, "fetch", "download", "source recording is corrupt", nil)
	}

	if !h.step(t) {
		t.Fatal("expected the pass to process the item")
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusFailed)
	}
	if !strings.Contains(got.ErrorMessage, "corrupt") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
	if h.stages["fetch"].executed.Load() != 1 {
		t.Fatalf("executed %d times, want 1", h.stages["fetch"].executed.Load())
	}
}

func TestRetryBudgetExhaustionFails(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	item := h.seedItem(t, "acme", "rec-103")
	h.cfg.Retry.MaxAttempts = 2

	h.stages["fetch"].execute = func(ctx context.Context, it *queue.Item) error {
		return services.Wrap(services.ErrTransient, "fetch", "download", "source flapping", nil)
	}

	for i := 0; i < 2; i++ {
		got := h.reload(t, item.ID)
		got.NextAttemptAt = nil
		if err := h.store.Update(context.Background(), got); err != nil {
			t.Fatalf("clear retry time: %v", err)
		}
		if !h.step(t) {
			t.Fatalf("expected attempt %d to run", i+1)
		}
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status after exhaustion = %s, want %s", got.Status, queue.StatusFailed)
	}

	results, err := h.store.StageResults(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("stage results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("recorded %d results, want 2", len(results))
	}
	for _, result := range results {
		if result.Outcome != queue.OutcomeFailed {
			t.Errorf("outcome = %s, want failed", result.Outcome)
		}
		if result.ErrorKind != string(services.ErrorKindTransient) {
			t.Errorf("error kind = %s", result.ErrorKind)
		}
	}
}

func TestSkipSentinelAdvancesStage(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	item := h.seedItem(t, "acme", "rec-104")

	h.stages["trim"].execute = func(ctx context.Context, it *queue.Item) error {
		return stage.Skip("silence trimming disabled")
	}

	h.step(t) // fetch
	if !h.step(t) {
		t.Fatal("expected the trim pass to run")
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusTrimmed {
		t.Fatalf("status after skip = %s, want %s", got.Status, queue.StatusTrimmed)
	}

	results, err := h.store.StageResults(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("stage results: %v", err)
	}
	last := results[len(results)-1]
	if last.Outcome != queue.OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", last.Outcome)
	}
	if !strings.Contains(last.ErrorMessage, "disabled") {
		t.Fatalf("skip reason not recorded: %q", last.ErrorMessage)
	}
}

func TestPrepareMayRetireItem(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	item := h.seedItem(t, "acme", "rec-105")

	h.stages["fetch"].prepare = func(ctx context.Context, it *queue.Item) error {
		it.Status = queue.StatusSkipped
		it.ErrorMessage = "no publish targets configured"
		return nil
	}

	if !h.step(t) {
		t.Fatal("expected the pass to process the item")
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusSkipped {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusSkipped)
	}
	if h.stages["fetch"].executed.Load() != 0 {
		t.Fatal("execute must not run after prepare retires the item")
	}
}

func TestCancelRequestRetiresItem(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	item := h.seedItem(t, "acme", "rec-106")

	if err := h.store.RequestCancel(context.Background(), item.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if !h.step(t) {
		t.Fatal("expected the pass to observe the cancel")
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusSkipped {
		t.Fatalf("status = %s, want %s", got.Status, queue.StatusSkipped)
	}
	if got.CancelRequested {
		t.Fatal("cancel flag should be cleared once honored")
	}
	if !strings.Contains(got.ErrorMessage, "cancelled") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
	if h.stages["fetch"].executed.Load() != 0 {
		t.Fatal("cancelled item must not execute a stage")
	}

	results, err := h.store.StageResults(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("stage results: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != queue.OutcomeAbandoned {
		t.Fatalf("results = %+v, want one abandoned record", results)
	}
}

func TestConcurrencyQuotaDefersAndTimesOut(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 1)
	item := h.seedItem(t, "acme", "rec-107")
	h.cfg.Quota.MaxWait = 600
	h.cfg.Quota.RetryInterval = 30

	// Occupy the tenant's only concurrency slot.
	tenant, err := h.store.GetTenant(context.Background(), "acme")
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	ok, err := h.gate.AdmitStage(context.Background(), tenant)
	if err != nil || !ok {
		t.Fatalf("occupy slot: ok=%v err=%v", ok, err)
	}

	if h.step(t) {
		t.Fatal("quota-limited item must not process")
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusInitialized {
		t.Fatalf("status = %s, want initialized", got.Status)
	}
	if got.QuotaWaitSince == nil {
		t.Fatal("quota wait start not recorded")
	}
	if got.NextAttemptAt == nil {
		t.Fatal("deferred item needs a retry time")
	}

	// Push the wait start past the budget; the next look fails the item.
	stale := time.Now().Add(-time.Hour)
	got.QuotaWaitSince = &stale
	got.NextAttemptAt = nil
	if err := h.store.Update(context.Background(), got); err != nil {
		t.Fatalf("age quota wait: %v", err)
	}
	h.step(t)
	got = h.reload(t, item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status after quota timeout = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "quota") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestQuotaSlotReleasedAfterStage(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 1)
	h.seedItem(t, "acme", "rec-108")
	h.seedItem(t, "acme", "rec-109")

	// With one slot, two items still process on consecutive passes
	// because the slot is returned after each stage.
	if !h.step(t) || !h.step(t) {
		t.Fatal("expected both items to process back to back")
	}
	usage, err := h.gate.Usage(context.Background(), "acme")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage != nil && usage.ConcurrentStages != 0 {
		t.Fatalf("concurrent stages = %d, want 0", usage.ConcurrentStages)
	}
}

func TestStageTimeoutMapsToRetriableTimeout(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	item := h.seedItem(t, "acme", "rec-110")
	h.cfg.Workflow.StageTimeout = 1

	h.stages["fetch"].execute = func(ctx context.Context, it *queue.Item) error {
		<-ctx.Done()
		return ctx.Err()
	}

	if !h.step(t) {
		t.Fatal("expected the pass to process the item")
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusInitialized {
		t.Fatalf("status after timeout = %s, want initialized for retry", got.Status)
	}

	results, err := h.store.StageResults(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("stage results: %v", err)
	}
	if len(results) != 1 || results[0].ErrorKind != string(services.ErrorKindTimeout) {
		t.Fatalf("results = %+v, want one timeout record", results)
	}
}

func TestUnknownTenantFailsItem(t *testing.T) {
	h := newHarness(t)
	item := h.seedItem(t, "ghost", "rec-111")

	h.step(t)
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "not registered") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestStartRejectsIncompleteStageSet(t *testing.T) {
	h := newHarness(t)
	manager := NewManager(h.cfg, h.store, logging.NewNop(), h.blobs, h.gate, StageSet{})
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("expected an error for a nil stage handler")
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	item := h.seedItem(t, "acme", "rec-112")
	h.cfg.Workflow.QueuePollInterval = 1

	done := make(chan struct{})
	h.stages["publish"].execute = func(ctx context.Context, it *queue.Item) error {
		defer close(done)
		return nil
	}

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("second start must fail")
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not reach publish in time")
	}
	h.manager.Stop()

	got := h.reload(t, item.ID)
	if got.Status != queue.StatusReady {
		t.Fatalf("status after run = %s, want ready", got.Status)
	}
	if h.manager.Running() {
		t.Fatal("manager still marked running after stop")
	}
}

func TestHealthCheckAggregates(t *testing.T) {
	h := newHarness(t)
	report := h.manager.HealthCheck(context.Background())
	if !report.Ready {
		t.Fatal("all-healthy stages must yield a ready report")
	}
	if len(report.Checks) != 7 {
		t.Fatalf("checks = %d, want 7 (queue + 6 stages)", len(report.Checks))
	}
}

func TestExpirySweepReleasesArtifacts(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	item, err := h.store.NewItem(ctx, queue.NewItemParams{
		TenantID: "acme",
		SourceID: "rec-113",
		Title:    "Old lecture",
		ExpireAt: &past,
	})
	if err != nil {
		t.Fatalf("new item: %v", err)
	}

	src := filepath.Join(t.TempDir(), "source.mp4")
	if err := writeFile(src, "media-bytes"); err != nil {
		t.Fatalf("write media: %v", err)
	}
	ref, err := h.blobs.Save(ctx, "acme/rec-113/source.mp4", src)
	if err != nil {
		t.Fatalf("save blob: %v", err)
	}
	item.SourceRef = ref
	item.SizeBytes = 11
	if err := h.store.Update(ctx, item); err != nil {
		t.Fatalf("update item: %v", err)
	}
	if ok, err := h.gate.ReserveStorage(ctx, &queue.Tenant{ID: "acme"}, 11); err != nil || !ok {
		t.Fatalf("reserve storage: ok=%v err=%v", ok, err)
	}

	retired, err := h.manager.sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if retired != 1 {
		t.Fatalf("retired = %d, want 1", retired)
	}

	got := h.reload(t, item.ID)
	if got.Status != queue.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if _, err := h.blobs.Size(ctx, ref); err == nil {
		t.Fatal("expired blob should be gone")
	}
	usage, err := h.gate.Usage(ctx, "acme")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.StorageBytes != 0 {
		t.Fatalf("storage bytes = %d, want 0 after release", usage.StorageBytes)
	}
}

func TestHeartbeatReclaimReturnsStaleItems(t *testing.T) {
	h := newHarness(t)
	h.seedTenant(t, "acme", 0)
	ctx := context.Background()
	item := h.seedItem(t, "acme", "rec-114")

	claimed, err := h.store.Claim(ctx, item.ID, queue.StatusInitialized, queue.StatusFetching)
	if err != nil || !claimed {
		t.Fatalf("claim: ok=%v err=%v", claimed, err)
	}
	if err := h.store.UpdateHeartbeat(ctx, item.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// A fresh heartbeat keeps the item claimed.
	reclaimed, err := h.manager.heartbeat.ReclaimStaleItems(ctx, time.Now())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed %d fresh items", reclaimed)
	}

	reclaimed, err = h.manager.heartbeat.ReclaimStaleItems(ctx, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("reclaim stale: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}
	got := h.reload(t, item.ID)
	if got.Status != queue.StatusInitialized {
		t.Fatalf("status = %s, want initialized", got.Status)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
