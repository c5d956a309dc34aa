package publishing

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
)

// Publish policies.
const (
	PolicyAllRequired = "all_required"
	PolicyBestEffort  = "best_effort"
)

// AuthRefresher is implemented by clients that can recover from an
// expired token mid-publish.
type AuthRefresher interface {
	RefreshAuth(ctx context.Context) error
}

// Options tunes per-target retry behavior.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = time.Minute
	}
	if o.Sleep == nil {
		o.Sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
}

// Outcome is the aggregate result of publishing one item.
type Outcome struct {
	Succeeded []string
	Failed    []string
	// RequiredFailed is true when a required target exhausted its
	// attempts, which fails the item under all_required.
	RequiredFailed bool
}

// Coordinator runs uploads for all pending targets of an item, one
// goroutine per platform, and persists per-target state as it goes.
type Coordinator struct {
	store   *queue.Store
	clients map[string]Client
	logger  *slog.Logger
	opts    Options
}

func NewCoordinator(store *queue.Store, clients map[string]Client, logger *slog.Logger, opts Options) *Coordinator {
	opts.normalize()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{store: store, clients: clients, logger: logger, opts: opts}
}

// Publish uploads the item to every target that is not already
// succeeded. Target state is persisted independently, so a retry after a
// partial failure skips the platforms that already took the upload.
func (c *Coordinator) Publish(ctx context.Context, item *queue.Item, policy string, req Request) (Outcome, error) {
	targets, err := c.store.TargetsForItem(ctx, item.ID)
	if err != nil {
		return Outcome{}, err
	}
	if len(targets) == 0 {
		return Outcome{}, services.Wrap(services.ErrValidation, "publish", "load targets",
			fmt.Sprintf("item %d has no publish targets", item.ID), nil)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcome := Outcome{}

	for _, target := range targets {
		if target.Status == queue.TargetSucceeded {
			mu.Lock()
			outcome.Succeeded = append(outcome.Succeeded, target.Platform)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(target *queue.Target) {
			defer wg.Done()
			err := c.publishTarget(ctx, item, target, req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				outcome.Succeeded = append(outcome.Succeeded, target.Platform)
				return
			}
			outcome.Failed = append(outcome.Failed, target.Platform)
			if target.Required {
				outcome.RequiredFailed = true
			}
		}(target)
	}
	wg.Wait()

	sort.Strings(outcome.Succeeded)
	sort.Strings(outcome.Failed)

	if policy == PolicyBestEffort && len(outcome.Succeeded) > 0 {
		return outcome, nil
	}
	if outcome.RequiredFailed || (policy == PolicyBestEffort && len(outcome.Succeeded) == 0) {
		return outcome, services.Wrap(services.ErrUploadIncomplete, "publish", "aggregate",
			fmt.Sprintf("publish failed for: %s", strings.Join(outcome.Failed, ", ")), nil)
	}
	return outcome, nil
}

// publishTarget drives one platform through its attempt budget. Exactly
// one token refresh is allowed per target per publish run.
func (c *Coordinator) publishTarget(ctx context.Context, item *queue.Item, target *queue.Target, req Request) error {
	targetCtx := services.WithTarget(ctx, target.Platform)
	logger := logging.WithContext(targetCtx, c.logger)

	client, ok := c.clients[target.Platform]
	if !ok {
		return c.markFailed(targetCtx, logger, target, services.Wrap(
			services.ErrConfiguration, "publish", "select platform",
			fmt.Sprintf("no client configured for platform %s", target.Platform), nil))
	}

	refreshed := false
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		target.Status = queue.TargetUploading
		target.AttemptCount++
		if err := c.store.UpdateTarget(targetCtx, target); err != nil {
			return err
		}

		externalRef, err := client.Upload(targetCtx, req)
		if err == nil {
			target.Status = queue.TargetSucceeded
			target.ExternalRef = externalRef
			target.LastError = ""
			if updateErr := c.store.UpdateTarget(targetCtx, target); updateErr != nil {
				return updateErr
			}
			logger.Info("target published",
				logging.String(logging.FieldEventType, "publish_target_success"),
				logging.String("external_ref", externalRef))
			return nil
		}
		lastErr = err

		if services.Kind(err) == services.ErrorKindAuthExpired {
			if refreshed {
				// The token was already refreshed this run, so the
				// credentials themselves are being rejected.
				return c.markFailed(targetCtx, logger, target, services.Wrap(
					services.ErrFatalAuth, "publish", "upload",
					"credentials rejected after token refresh", err))
			}
			refreshed = true
			if refresher, ok := client.(AuthRefresher); ok {
				logger.Info("refreshing platform token",
					logging.String(logging.FieldEventType, "publish_token_refresh"))
				if refreshErr := refresher.RefreshAuth(targetCtx); refreshErr == nil {
					// The refresh earns one immediate retry that does
					// not count against the attempt budget.
					attempt--
					continue
				} else {
					lastErr = refreshErr
				}
			}
			return c.markFailed(targetCtx, logger, target, lastErr)
		}

		if !services.IsRetriable(err) {
			return c.markFailed(targetCtx, logger, target, err)
		}
		if attempt == c.opts.MaxAttempts {
			break
		}

		target.Status = queue.TargetRetrying
		target.LastError = err.Error()
		if updateErr := c.store.UpdateTarget(targetCtx, target); updateErr != nil {
			return updateErr
		}
		delay := backoffDelay(c.opts.BaseDelay, c.opts.MaxDelay, attempt)
		logger.Warn("target upload failed, backing off",
			logging.String(logging.FieldEventType, "publish_target_retry"),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		if err := c.opts.Sleep(targetCtx, delay); err != nil {
			return c.markFailed(targetCtx, logger, target, err)
		}
	}
	return c.markFailed(targetCtx, logger, target, lastErr)
}

func (c *Coordinator) markFailed(ctx context.Context, logger *slog.Logger, target *queue.Target, cause error) error {
	target.Status = queue.TargetFailed
	if cause != nil {
		target.LastError = cause.Error()
	}
	if err := c.store.UpdateTarget(ctx, target); err != nil {
		logger.Error("failed to persist target failure", logging.Error(err))
	}
	logger.Error("target publish failed",
		logging.String(logging.FieldEventType, "publish_target_failure"),
		logging.Error(cause))
	if cause == nil {
		cause = fmt.Errorf("publish to %s failed", target.Platform)
	}
	return cause
}

// backoffDelay doubles the base per attempt, caps it, and adds jitter so
// parallel targets do not retry in lockstep.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt-1)
	if delay > max || delay <= 0 {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
