// Package syncer drains the local batch queue against the remote stores. It owns the
// sync-status state machine: pending|error -> uploading -> synced|error, with photo
// upload strictly before any attendance write.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"crewclock-sync/internal/domain"
	"crewclock-sync/internal/photo"
	"crewclock-sync/internal/remote"
	"crewclock-sync/internal/store"

	"go.uber.org/zap"
)

// ErrBatchInFlight is returned when a batch is already being run by another engine
// invocation. Retries fire from background events, so the guard lives here, not in
// any UI layer.
var ErrBatchInFlight = errors.New("batch sync already in flight")

// Engine advances batches through the sync lifecycle. Batches are independent; a
// single batch id is never run by two invocations at once.
type Engine struct {
	queue      *store.BatchStore
	attendance remote.AttendanceStore
	objects    remote.ObjectStore
	photos     *photo.Pipeline
	logger     *zap.Logger

	writeTimeout  time.Duration
	drainInterval time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}

	wake chan struct{}
}

// NewEngine creates a sync engine over the queue and remote stores.
func NewEngine(
	queue *store.BatchStore,
	attendance remote.AttendanceStore,
	objects remote.ObjectStore,
	photos *photo.Pipeline,
	writeTimeout time.Duration,
	drainInterval time.Duration,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		queue:         queue,
		attendance:    attendance,
		objects:       objects,
		photos:        photos,
		logger:        logger,
		writeTimeout:  writeTimeout,
		drainInterval: drainInterval,
		inFlight:      make(map[string]struct{}),
		wake:          make(chan struct{}, 1),
	}
}

// Run executes one sync transition for the batch. On success the batch ends synced
// (and leaves the queue after photo purge); on any failure it ends in error and stays
// queued for a later retry.
func (e *Engine) Run(ctx context.Context, batchID string) error {
	if !e.acquire(batchID) {
		return ErrBatchInFlight
	}
	defer e.release(batchID)

	return e.run(ctx, batchID)
}

func (e *Engine) run(ctx context.Context, batchID string) error {
	b, err := e.queue.Get(batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}

	// Synced rows still queued only have purge/removal left to do.
	if b.SyncStatus == domain.StatusSynced {
		return e.finalize(b)
	}

	if err := e.queue.MarkUploading(b.ID); err != nil {
		return err
	}

	e.logger.Info("Syncing batch",
		zap.String("batch_id", b.ID),
		zap.String("record_type", string(b.RecordType)),
		zap.Int("worker_count", len(b.WorkerIDs)),
		zap.Int("attempt", b.AttemptCount+1),
	)

	// Photo first: attendance records must not land without their evidence.
	if b.NeedsPhotoUpload() {
		if err := e.uploadPhoto(ctx, b); err != nil {
			return e.fail(b.ID, fmt.Errorf("photo upload failed: %w", err))
		}
	}

	for _, rec := range b.Records() {
		if err := e.writeRecord(ctx, rec); err != nil {
			// Records already written are harmless: the idempotent key makes the
			// retry overwrite them.
			return e.fail(b.ID, fmt.Errorf("attendance write failed for %s: %w", rec.EmployeeID, err))
		}
	}

	if err := e.queue.MarkSynced(b.ID); err != nil {
		return err
	}
	b.SyncStatus = domain.StatusSynced

	e.logger.Info("Batch synced",
		zap.String("batch_id", b.ID),
		zap.Int("records_written", len(b.WorkerIDs)),
	)

	return e.finalize(b)
}

// uploadPhoto puts the local photo at its deterministic remote path and durably
// records the URL on the batch before returning.
func (e *Engine) uploadPhoto(ctx context.Context, b *domain.SyncBatch) error {
	data, err := os.ReadFile(b.PhotoLocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			// The local file is gone (cleared storage, crash between persist and
			// enqueue). Evidence is best-effort: degrade to "no photo" and move on.
			e.logger.Warn("Local photo missing, syncing batch without photo",
				zap.String("batch_id", b.ID),
				zap.String("path", b.PhotoLocalPath),
			)
			if err := e.queue.ClearPhotoLocalPath(b.ID); err != nil {
				return err
			}
			b.PhotoLocalPath = ""
			return nil
		}
		return err
	}

	uctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()

	url, err := e.objects.Put(uctx, photo.ObjectPath(b.TenantID, b.Date, b.ID), data)
	if err != nil {
		return err
	}

	// The URL must be durable before the local copy may ever be purged.
	if err := e.queue.SetPhotoRemoteURL(b.ID, url); err != nil {
		return err
	}
	b.PhotoRemoteURL = url
	return nil
}

func (e *Engine) writeRecord(ctx context.Context, rec domain.AttendanceRecord) error {
	wctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()
	return e.attendance.CreateOrReplaceRecord(wctx, rec)
}

// finalize purges the local photo of a synced batch and removes the row. If the
// purge fails the row stays queued as synced and the next drain retries.
func (e *Engine) finalize(b *domain.SyncBatch) error {
	if b.PhotoLocalPath != "" {
		if err := e.photos.Purge(b.PhotoLocalPath); err != nil {
			e.logger.Warn("Photo purge failed, keeping batch for retry",
				zap.String("batch_id", b.ID),
				zap.Error(err),
			)
			return nil
		}
		if err := e.queue.ClearPhotoLocalPath(b.ID); err != nil {
			return err
		}
	}

	if err := e.queue.Remove(b.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

func (e *Engine) fail(batchID string, cause error) error {
	e.logger.Warn("Batch sync failed",
		zap.String("batch_id", batchID),
		zap.Error(cause),
	)
	if err := e.queue.MarkError(batchID, cause.Error()); err != nil {
		return err
	}
	return cause
}

func (e *Engine) acquire(batchID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.inFlight[batchID]; running {
		return false
	}
	e.inFlight[batchID] = struct{}{}
	return true
}

func (e *Engine) release(batchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, batchID)
}

// DrainPending runs one sync transition for every queued batch. Per-batch failures
// are recorded on the batch and reported in the return for backoff purposes; the
// drain keeps going so one poisoned batch cannot starve the rest.
func (e *Engine) DrainPending(ctx context.Context) error {
	batches, err := e.queue.ListPending()
	if err != nil {
		return fmt.Errorf("failed to list queued batches: %w", err)
	}

	var failed int
	for _, b := range batches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.Run(ctx, b.ID); err != nil && !errors.Is(err, ErrBatchInFlight) {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d batches failed to sync", failed, len(batches))
	}
	return nil
}

// Wake nudges the drain loop, used on foreground/reconnect events. Non-blocking;
// coalesces with an already-pending wake.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start runs the background drain loop until ctx is cancelled: periodic drains,
// edge-triggered wakes, and exponential backoff while drains keep failing.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Sync engine started",
		zap.Duration("drain_interval", e.drainInterval),
	)

	backoff := time.Second
	maxBackoff := 30 * time.Second

	ticker := time.NewTicker(e.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-e.wake:
		}

		if err := e.DrainPending(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			e.logger.Error("Drain failed",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		} else {
			backoff = time.Second
		}
	}
}
