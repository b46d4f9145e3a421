package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"crewclock-sync/internal/device"
	"crewclock-sync/internal/domain"
	"crewclock-sync/internal/photo"
	"crewclock-sync/internal/roster"
	"crewclock-sync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDirectory struct {
	workers      []domain.Worker
	openClockIns map[string][]domain.PendingClockIn
}

func (f *fakeDirectory) ListWorkers(ctx context.Context, tenantID string) ([]domain.Worker, error) {
	return f.workers, nil
}

func (f *fakeDirectory) ListOpenClockIns(ctx context.Context, tenantID, date string) ([]domain.PendingClockIn, error) {
	return f.openClockIns[date], nil
}

type grantedCamera struct{ raw []byte }

func (c grantedCamera) Capture(ctx context.Context) device.PhotoCapture {
	return device.PhotoCapture{Bytes: c.raw}
}

type grantedLocator struct{ fix domain.LocationFix }

func (l grantedLocator) CurrentFix(ctx context.Context) device.FixResult {
	return device.FixResult{Fix: l.fix}
}

type recordingRunner struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRunner) Run(ctx context.Context, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, batchID)
	return nil
}

func (r *recordingRunner) ranBatches() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type fixture struct {
	controller *Controller
	queue      *store.BatchStore
	runner     *recordingRunner
	directory  *fakeDirectory
}

type fixtureOpt func(*fixtureCfg)

type fixtureCfg struct {
	camera        device.Camera
	locator       device.Locator
	inlineAttempt bool
}

func withCamera(c device.Camera) fixtureOpt   { return func(cfg *fixtureCfg) { cfg.camera = c } }
func withLocator(l device.Locator) fixtureOpt { return func(cfg *fixtureCfg) { cfg.locator = l } }
func withInlineAttempt() fixtureOpt           { return func(cfg *fixtureCfg) { cfg.inlineAttempt = true } }

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()

	cfg := &fixtureCfg{
		camera:  device.DeniedCamera{},
		locator: device.DeniedLocator{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	queue, err := store.NewBatchStore(filepath.Join(t.TempDir(), "queue.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	clockIn := time.Date(2025, 6, 1, 6, 45, 0, 0, time.UTC)
	directory := &fakeDirectory{
		workers: []domain.Worker{
			{EmployeeID: "emp-1", FirstName: "Maria", LastName: "Lopez", TenantID: "tenant-1"},
			{EmployeeID: "emp-2", FirstName: "Joe", LastName: "Hart", TenantID: "tenant-1"},
			{EmployeeID: "emp-3", FirstName: "Ana", LastName: "Diaz", TenantID: "tenant-1"},
			{EmployeeID: "emp-4", FirstName: "Sam", LastName: "Okafor", TenantID: "tenant-1"},
			{EmployeeID: "emp-5", FirstName: "Lena", LastName: "Koch", TenantID: "tenant-1"},
		},
		openClockIns: map[string][]domain.PendingClockIn{
			"2025-06-01": {
				{EmployeeID: "emp-1", ClockInTime: clockIn},
				{EmployeeID: "emp-2", ClockInTime: clockIn},
			},
		},
	}

	rosterCache := roster.NewCache(directory, "tenant-1", zap.NewNop())
	require.NoError(t, rosterCache.Load(context.Background()))

	photos := photo.NewPipeline(t.TempDir(), 1280, 80, zap.NewNop())
	runner := &recordingRunner{}
	identity := device.StaticIdentity{Sup: domain.Supervisor{ID: "sup-1", DisplayName: "Alex Reyes"}}

	controller := NewController(
		queue, rosterCache, photos,
		cfg.camera, cfg.locator, identity,
		runner, "tenant-1", cfg.inlineAttempt,
		zap.NewNop(),
	)

	return &fixture{controller: controller, queue: queue, runner: runner, directory: directory}
}

func rawPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSubmit_EmptySelectionNeverEnqueues(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.controller.Begin(context.Background(), domain.RecordClockIn, "2025-06-01"))

	_, err := fx.controller.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoWorkersSelected)

	batches, err := fx.queue.ListPending()
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestToggleSelectDeselect(t *testing.T) {
	fx := newFixture(t)
	c := fx.controller
	require.NoError(t, c.Begin(context.Background(), domain.RecordClockIn, "2025-06-01"))

	require.NoError(t, c.ToggleWorker("emp-1"))
	require.NoError(t, c.ToggleWorker("emp-2"))
	assert.Len(t, c.Selected(), 2)

	// Toggling again deselects.
	require.NoError(t, c.ToggleWorker("emp-2"))
	assert.Equal(t, []string{"emp-1"}, c.Selected())

	assert.ErrorIs(t, c.ToggleWorker("ghost"), ErrUnknownWorker)

	c.SelectAll()
	assert.Len(t, c.Selected(), 5)

	c.DeselectAll()
	assert.Empty(t, c.Selected())
}

func TestBegin_ResetsStaleDraft(t *testing.T) {
	fx := newFixture(t)
	c := fx.controller
	require.NoError(t, c.Begin(context.Background(), domain.RecordClockIn, "2025-06-01"))
	require.NoError(t, c.ToggleWorker("emp-1"))
	c.SetSite("North Field")

	require.NoError(t, c.Begin(context.Background(), domain.RecordClockIn, "2025-06-02"))
	assert.Empty(t, c.Selected())
}

func TestClockOut_EligibilityGate(t *testing.T) {
	fx := newFixture(t)
	c := fx.controller
	require.NoError(t, c.Begin(context.Background(), domain.RecordClockOut, "2025-06-01"))

	// Only emp-1 and emp-2 have open clock-ins on the date.
	candidates := c.Candidates()
	ids := make([]string, 0, len(candidates))
	for _, w := range candidates {
		ids = append(ids, w.EmployeeID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"emp-1", "emp-2"}, ids)

	require.NoError(t, c.ToggleWorker("emp-1"))
	assert.ErrorIs(t, c.ToggleWorker("emp-3"), ErrWorkerNotEligible)
}

func TestSetDate_ReresolvesEligibility(t *testing.T) {
	fx := newFixture(t)
	c := fx.controller
	require.NoError(t, c.Begin(context.Background(), domain.RecordClockOut, "2025-06-01"))
	require.NoError(t, c.ToggleWorker("emp-1"))

	// No open clock-ins on the new date: the stale selection is pruned.
	require.NoError(t, c.SetDate(context.Background(), "2025-06-02"))
	assert.Empty(t, c.Selected())
	assert.Empty(t, c.Candidates())
}

func TestSubmit_FiveWorkersNoPhoto(t *testing.T) {
	fx := newFixture(t)
	c := fx.controller
	require.NoError(t, c.Begin(context.Background(), domain.RecordClockIn, "2025-06-01"))
	c.SelectAll()
	c.SetSite("North Field")

	result, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.WorkerCount)

	got, err := fx.queue.Get(result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.SyncStatus)
	assert.Len(t, got.WorkerIDs, 5)
	assert.Empty(t, got.PhotoLocalPath)
	assert.Nil(t, got.Location)
	assert.Equal(t, "North Field", got.SiteName)
	assert.Equal(t, "sup-1", got.SupervisorID)
	assert.Equal(t, "Alex Reyes", got.SupervisorName)

	// Session is reset after submission.
	assert.Empty(t, c.Selected())
}

func TestSubmit_CameraDeniedMeansNoPhoto(t *testing.T) {
	fx := newFixture(t)
	c := fx.controller
	require.NoError(t, c.Begin(context.Background(), domain.RecordClockOut, "2025-06-01"))

	c.CapturePhoto(context.Background())
	assert.False(t, c.HasPhoto())

	require.NoError(t, c.ToggleWorker("emp-1"))
	result, err := c.Submit(context.Background())
	require.NoError(t, err)

	got, err := fx.queue.Get(result.BatchID)
	require.NoError(t, err)
	assert.Empty(t, got.PhotoLocalPath)
}

func TestSubmit_WithPhotoAndLocation(t *testing.T) {
	fx := newFixture(t,
		withCamera(grantedCamera{raw: rawPNG(t)}),
		withLocator(grantedLocator{fix: domain.LocationFix{Latitude: -31.95, Longitude: 115.86, AccuracyMeters: 8}}),
	)
	c := fx.controller
	require.NoError(t, c.Begin(context.Background(), domain.RecordClockIn, "2025-06-01"))

	c.CapturePhoto(context.Background())
	assert.True(t, c.HasPhoto())
	c.AcquireLocation(context.Background())

	require.NoError(t, c.ToggleWorker("emp-1"))
	result, err := c.Submit(context.Background())
	require.NoError(t, err)

	got, err := fx.queue.Get(result.BatchID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.PhotoLocalPath)
	assert.Equal(t, result.BatchID, filepath.Base(filepath.Dir(got.PhotoLocalPath)))
	require.NotNil(t, got.Location)
	assert.Equal(t, -31.95, got.Location.Latitude)
}

func TestSubmit_InvalidPhotoDegradesToNone(t *testing.T) {
	fx := newFixture(t, withCamera(grantedCamera{raw: []byte("not an image")}))
	c := fx.controller
	require.NoError(t, c.Begin(context.Background(), domain.RecordClockIn, "2025-06-01"))

	c.CapturePhoto(context.Background())
	assert.False(t, c.HasPhoto())
}

func TestSubmit_InlineFirstAttempt(t *testing.T) {
	fx := newFixture(t, withInlineAttempt())
	c := fx.controller
	require.NoError(t, c.Begin(context.Background(), domain.RecordClockIn, "2025-06-01"))
	require.NoError(t, c.ToggleWorker("emp-1"))

	result, err := c.Submit(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ran := fx.runner.ranBatches()
		return len(ran) == 1 && ran[0] == result.BatchID
	}, time.Second, 5*time.Millisecond)
}

func TestSubmit_FreshIDPerBatch(t *testing.T) {
	fx := newFixture(t)
	c := fx.controller

	require.NoError(t, c.Begin(context.Background(), domain.RecordClockIn, "2025-06-01"))
	require.NoError(t, c.ToggleWorker("emp-1"))
	first, err := c.Submit(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Begin(context.Background(), domain.RecordClockIn, "2025-06-01"))
	require.NoError(t, c.ToggleWorker("emp-1"))
	second, err := c.Submit(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.BatchID, second.BatchID)
}
