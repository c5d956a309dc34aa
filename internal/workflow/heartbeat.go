package workflow

import (
	"context"
	"time"

	"lectern/internal/queue"
)

// HeartbeatMonitor refreshes heartbeats for in-flight items and reclaims
// items whose worker stopped reporting, e.g. after a crash.
type HeartbeatMonitor struct {
	store    *queue.Store
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor builds a monitor over the queue store.
func NewHeartbeatMonitor(store *queue.Store, interval, timeout time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= interval {
		timeout = 4 * interval
	}
	return &HeartbeatMonitor{store: store, interval: interval, timeout: timeout}
}

// StartLoop refreshes the item heartbeat until the returned stop
// function is called or the context ends. Write errors are swallowed;
// a missed beat only matters if it persists past the timeout.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, itemID int64) (stop func()) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = h.store.UpdateHeartbeat(loopCtx, itemID)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// ReclaimStaleItems rolls processing items with heartbeats older than
// the timeout back to their stage start so another worker can resume
// them. It returns the number of reclaimed items.
func (h *HeartbeatMonitor) ReclaimStaleItems(ctx context.Context, now time.Time) (int64, error) {
	return h.store.ReclaimStaleProcessing(ctx, now.Add(-h.timeout))
}
