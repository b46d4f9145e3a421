// Package capture owns the transient draft of one not-yet-submitted batch. A single
// controller instance backs the active wizard; it is single-writer and must be Reset
// (or Begin) at wizard entry so no stale draft leaks into a new capture.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewclock-sync/internal/device"
	"crewclock-sync/internal/domain"
	"crewclock-sync/internal/photo"
	"crewclock-sync/internal/roster"
	"crewclock-sync/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoWorkersSelected rejects submission before any durability or network
	// action. Non-retryable: the supervisor must correct the selection.
	ErrNoWorkersSelected = errors.New("no_workers_selected")

	// ErrWorkerNotEligible rejects selecting a clock-out candidate without an open
	// clock-in on the session date.
	ErrWorkerNotEligible = errors.New("worker has no open clock-in")

	// ErrUnknownWorker rejects selecting an id not on the cached roster.
	ErrUnknownWorker = errors.New("worker not on roster")
)

// Runner is the slice of the sync engine the controller needs for the inline first
// attempt.
type Runner interface {
	Run(ctx context.Context, batchID string) error
}

// SubmitResult reports a confirmed submission. The batch is durably enqueued by the
// time a result is returned; sync progress is visible through its status afterwards.
type SubmitResult struct {
	BatchID     string
	WorkerCount int
}

// Controller assembles one batch draft and hands it to the durable queue on submit.
type Controller struct {
	queue    *store.BatchStore
	roster   *roster.Cache
	photos   *photo.Pipeline
	camera   device.Camera
	locator  device.Locator
	identity device.Identity
	engine   Runner
	logger   *zap.Logger

	tenantID      string
	inlineAttempt bool

	// draft state, single-writer
	recordType domain.RecordType
	date       string
	selected   map[string]struct{}
	siteName   string
	fix        *domain.LocationFix
	photoData  []byte
	eligible   map[string]domain.PendingClockIn // clock_out only
}

// NewController creates a capture controller. engine may be nil to disable the
// inline first sync attempt.
func NewController(
	queue *store.BatchStore,
	rosterCache *roster.Cache,
	photos *photo.Pipeline,
	camera device.Camera,
	locator device.Locator,
	identity device.Identity,
	engine Runner,
	tenantID string,
	inlineAttempt bool,
	logger *zap.Logger,
) *Controller {
	c := &Controller{
		queue:         queue,
		roster:        rosterCache,
		photos:        photos,
		camera:        camera,
		locator:       locator,
		identity:      identity,
		engine:        engine,
		logger:        logger,
		tenantID:      tenantID,
		inlineAttempt: inlineAttempt,
	}
	c.clear()
	return c
}

// Begin resets the draft and opens a new session for the record type and date. For
// clock-out sessions the eligible worker set is resolved fresh from the remote store.
func (c *Controller) Begin(ctx context.Context, recordType domain.RecordType, date string) error {
	if !recordType.Valid() {
		return fmt.Errorf("invalid record type %q", recordType)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}

	c.clear()
	c.recordType = recordType
	c.date = date

	if recordType == domain.RecordClockOut {
		return c.refreshEligibility(ctx)
	}
	return nil
}

// Reset discards the draft. An un-submitted session has no durability footprint, so
// this is always safe.
func (c *Controller) Reset() {
	c.clear()
}

func (c *Controller) clear() {
	c.recordType = ""
	c.date = ""
	c.selected = make(map[string]struct{})
	c.siteName = ""
	c.fix = nil
	c.photoData = nil
	c.eligible = nil
}

func (c *Controller) refreshEligibility(ctx context.Context) error {
	pending, err := c.roster.WorkersNeedingClockOut(ctx, c.date)
	if err != nil {
		return err
	}
	c.eligible = make(map[string]domain.PendingClockIn, len(pending))
	for _, p := range pending {
		c.eligible[p.EmployeeID] = p
	}
	// Selections that survived a date change may no longer be eligible.
	for id := range c.selected {
		if _, ok := c.eligible[id]; !ok {
			delete(c.selected, id)
		}
	}
	return nil
}

// Candidates returns the workers selectable in this session: the whole roster for
// clock-in, only workers with an open clock-in for clock-out.
func (c *Controller) Candidates() []domain.Worker {
	workers := c.roster.Workers()
	if c.recordType != domain.RecordClockOut {
		return workers
	}
	candidates := make([]domain.Worker, 0, len(c.eligible))
	for _, w := range workers {
		if _, ok := c.eligible[w.EmployeeID]; ok {
			candidates = append(candidates, w)
		}
	}
	return candidates
}

// ToggleWorker adds or removes a worker from the selection, enforcing the
// eligibility gate for clock-out sessions.
func (c *Controller) ToggleWorker(employeeID string) error {
	if _, ok := c.selected[employeeID]; ok {
		delete(c.selected, employeeID)
		return nil
	}

	if _, ok := c.roster.Lookup(employeeID); !ok {
		return ErrUnknownWorker
	}
	if c.recordType == domain.RecordClockOut {
		if _, ok := c.eligible[employeeID]; !ok {
			return ErrWorkerNotEligible
		}
	}
	c.selected[employeeID] = struct{}{}
	return nil
}

// SelectAll selects every candidate in scope.
func (c *Controller) SelectAll() {
	for _, w := range c.Candidates() {
		c.selected[w.EmployeeID] = struct{}{}
	}
}

// DeselectAll empties the selection.
func (c *Controller) DeselectAll() {
	c.selected = make(map[string]struct{})
}

// Selected returns the currently selected employee ids.
func (c *Controller) Selected() []string {
	ids := make([]string, 0, len(c.selected))
	for id := range c.selected {
		ids = append(ids, id)
	}
	return ids
}

// SetSite records the site name.
func (c *Controller) SetSite(name string) {
	c.siteName = name
}

// SetDate changes the session date. Clock-out eligibility is re-resolved because it
// is date-scoped.
func (c *Controller) SetDate(ctx context.Context, date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}
	c.date = date
	if c.recordType == domain.RecordClockOut {
		return c.refreshEligibility(ctx)
	}
	return nil
}

// AcquireLocation requests one best-effort GPS fix. Denial or timeout leaves the
// draft without a location and is not an error.
func (c *Controller) AcquireLocation(ctx context.Context) {
	result := c.locator.CurrentFix(ctx)
	if result.Denied {
		c.logger.Info("Location denied, continuing without fix")
		c.fix = nil
		return
	}
	fix := result.Fix
	c.fix = &fix
}

// CapturePhoto requests a verification photo and re-encodes it. Camera denial or a
// failed re-encode degrades the draft to "no photo"; both clock-in and clock-out
// share these skip semantics.
func (c *Controller) CapturePhoto(ctx context.Context) {
	result := c.camera.Capture(ctx)
	if result.Denied {
		c.logger.Info("Camera denied, continuing without photo")
		c.photoData = nil
		return
	}

	compressed, err := c.photos.Compress(result.Bytes)
	if err != nil {
		c.logger.Warn("Photo compression failed, continuing without photo", zap.Error(err))
		c.photoData = nil
		return
	}
	c.photoData = compressed
}

// HasPhoto reports whether the draft carries a photo.
func (c *Controller) HasPhoto() bool { return c.photoData != nil }

// Submit validates the draft, durably enqueues the batch, and resets the session.
// The batch id is generated here, once, and reused by every later retry. Submit
// returns as soon as the enqueue is durable; when the inline first attempt is
// enabled the sync runs in the background and any failure leaves the batch queued
// in error for retry, never lost.
func (c *Controller) Submit(ctx context.Context) (*SubmitResult, error) {
	if len(c.selected) == 0 {
		return nil, ErrNoWorkersSelected
	}
	if c.recordType == domain.RecordClockOut {
		for id := range c.selected {
			if _, ok := c.eligible[id]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrWorkerNotEligible, id)
			}
		}
	}

	batch := &domain.SyncBatch{
		ID:             uuid.NewString(),
		TenantID:       c.tenantID,
		RecordType:     c.recordType,
		Date:           c.date,
		WorkerIDs:      c.Selected(),
		SiteName:       c.siteName,
		Location:       c.fix,
		SyncStatus:     domain.StatusPending,
		SupervisorID:   c.identity.Supervisor().ID,
		SupervisorName: c.identity.Supervisor().DisplayName,
		CreatedAt:      time.Now().UTC(),
	}

	if c.photoData != nil {
		path, err := c.photos.Persist(batch.ID, c.photoData)
		if err != nil {
			// Evidence is best-effort: a failed local persist degrades the batch
			// to "no photo" rather than blocking submission.
			c.logger.Warn("Photo persist failed, submitting without photo",
				zap.String("batch_id", batch.ID),
				zap.Error(err),
			)
		} else {
			batch.PhotoLocalPath = path
		}
	}

	if err := c.queue.Enqueue(batch); err != nil {
		return nil, fmt.Errorf("failed to enqueue batch: %w", err)
	}

	result := &SubmitResult{BatchID: batch.ID, WorkerCount: len(batch.WorkerIDs)}
	c.clear()

	if c.inlineAttempt && c.engine != nil {
		go func(batchID string) {
			if err := c.engine.Run(context.Background(), batchID); err != nil {
				// submission_failed: enqueued but not yet synced. The batch sits in
				// error for the background drain; a delayed success, not data loss.
				c.logger.Warn("Inline sync attempt failed, batch queued for retry",
					zap.String("batch_id", batchID),
					zap.Error(err),
				)
			}
		}(batch.ID)
	}

	return result, nil
}
