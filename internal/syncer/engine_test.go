package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crewclock-sync/internal/domain"
	"crewclock-sync/internal/photo"
	"crewclock-sync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAttendance records writes keyed by the idempotent key so duplicates are visible.
type fakeAttendance struct {
	mu         sync.Mutex
	records    map[string]domain.AttendanceRecord
	writeCalls int
	failFor    map[string]error // employeeID -> error
	blockOn    chan struct{}    // when set, writes wait until closed
}

func newFakeAttendance() *fakeAttendance {
	return &fakeAttendance{
		records: make(map[string]domain.AttendanceRecord),
		failFor: make(map[string]error),
	}
}

func (f *fakeAttendance) CreateOrReplaceRecord(ctx context.Context, rec domain.AttendanceRecord) error {
	if f.blockOn != nil {
		<-f.blockOn
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	if err, ok := f.failFor[rec.EmployeeID]; ok {
		return err
	}
	key := fmt.Sprintf("%s|%s|%s|%s|%s", rec.TenantID, rec.EmployeeID, rec.Date, rec.RecordType, rec.BatchID)
	f.records[key] = rec
	return nil
}

func (f *fakeAttendance) ListOpenClockIns(ctx context.Context, tenantID, date string) ([]domain.PendingClockIn, error) {
	return nil, nil
}

func (f *fakeAttendance) ListWorkers(ctx context.Context, tenantID string) ([]domain.Worker, error) {
	return nil, nil
}

func (f *fakeAttendance) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeObjects is an in-memory object store; Put to the same path overwrites.
type fakeObjects struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putCalls int
	err      error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Put(ctx context.Context, path string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.err != nil {
		return "", f.err
	}
	f.objects[path] = data
	return "https://cdn.example.com/" + path, nil
}

type engineFixture struct {
	engine     *Engine
	queue      *store.BatchStore
	attendance *fakeAttendance
	objects    *fakeObjects
	photos     *photo.Pipeline
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	queue, err := store.NewBatchStore(filepath.Join(t.TempDir(), "queue.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	attendance := newFakeAttendance()
	objects := newFakeObjects()
	photos := photo.NewPipeline(t.TempDir(), 1280, 80, zap.NewNop())

	engine := NewEngine(queue, attendance, objects, photos, 5*time.Second, time.Minute, zap.NewNop())
	return &engineFixture{
		engine:     engine,
		queue:      queue,
		attendance: attendance,
		objects:    objects,
		photos:     photos,
	}
}

func fiveWorkerBatch(id string) *domain.SyncBatch {
	return &domain.SyncBatch{
		ID:             id,
		TenantID:       "tenant-1",
		RecordType:     domain.RecordClockIn,
		Date:           "2025-06-01",
		WorkerIDs:      []string{"emp-1", "emp-2", "emp-3", "emp-4", "emp-5"},
		SupervisorID:   "sup-1",
		SupervisorName: "Alex Reyes",
	}
}

func (fx *engineFixture) persistPhoto(t *testing.T, b *domain.SyncBatch) string {
	t.Helper()
	path, err := fx.photos.Persist(b.ID, []byte("jpeg-bytes"))
	require.NoError(t, err)
	b.PhotoLocalPath = path
	return path
}

func TestRun_FiveWorkersNoPhoto(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.queue.Enqueue(fiveWorkerBatch("batch-1")))

	require.NoError(t, fx.engine.Run(context.Background(), "batch-1"))

	// 5 clock_in records, photo upload never attempted, queue row gone.
	assert.Equal(t, 5, fx.attendance.recordCount())
	assert.Equal(t, 0, fx.objects.putCalls)
	_, err := fx.queue.Get("batch-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_WithPhoto(t *testing.T) {
	fx := newFixture(t)
	b := fiveWorkerBatch("batch-1")
	path := fx.persistPhoto(t, b)
	require.NoError(t, fx.queue.Enqueue(b))

	require.NoError(t, fx.engine.Run(context.Background(), "batch-1"))

	assert.Equal(t, 1, fx.objects.putCalls)
	assert.Equal(t, 5, fx.attendance.recordCount())

	// Every record carries the uploaded photo URL.
	for _, rec := range fx.attendance.records {
		assert.Equal(t, "https://cdn.example.com/"+photo.ObjectPath("tenant-1", "2025-06-01", "batch-1"), rec.PhotoURL)
	}

	// Local photo purged after sync.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_PhotoUploadFailurePrecedesRecordWrites(t *testing.T) {
	fx := newFixture(t)
	b := fiveWorkerBatch("batch-1")
	fx.persistPhoto(t, b)
	require.NoError(t, fx.queue.Enqueue(b))

	fx.objects.err = errors.New("object store unavailable")
	err := fx.engine.Run(context.Background(), "batch-1")
	require.Error(t, err)

	// Zero attendance records were written: evidence upload comes first.
	assert.Equal(t, 0, fx.attendance.recordCount())
	assert.Equal(t, 0, fx.attendance.writeCalls)

	got, err := fx.queue.Get("batch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.SyncStatus)
	assert.Contains(t, got.LastError, "photo upload failed")

	// A later retry writes exactly 5 records, not 10.
	fx.objects.err = nil
	require.NoError(t, fx.engine.Run(context.Background(), "batch-1"))
	assert.Equal(t, 5, fx.attendance.recordCount())
}

func TestRun_PartialRecordFailureThenRetryConverges(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.queue.Enqueue(fiveWorkerBatch("batch-1")))

	fx.attendance.failFor["emp-3"] = errors.New("write timeout")
	err := fx.engine.Run(context.Background(), "batch-1")
	require.Error(t, err)

	got, err := fx.queue.Get("batch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.SyncStatus)

	// Retry rewrites everything; the idempotent key keeps the total at 5.
	delete(fx.attendance.failFor, "emp-3")
	require.NoError(t, fx.engine.Run(context.Background(), "batch-1"))
	assert.Equal(t, 5, fx.attendance.recordCount())
}

func TestRun_AttemptCountAndErrorSurfaced(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.queue.Enqueue(fiveWorkerBatch("batch-1")))

	fx.attendance.failFor["emp-1"] = errors.New("network down")
	require.Error(t, fx.engine.Run(context.Background(), "batch-1"))
	require.Error(t, fx.engine.Run(context.Background(), "batch-1"))

	got, err := fx.queue.Get("batch-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Contains(t, got.LastError, "emp-1")
}

func TestRun_SingleFlightPerBatch(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.queue.Enqueue(fiveWorkerBatch("batch-1")))

	release := make(chan struct{})
	fx.attendance.blockOn = release

	done := make(chan error, 1)
	go func() {
		done <- fx.engine.Run(context.Background(), "batch-1")
	}()

	// Wait until the first invocation holds the in-flight marker.
	holdsMarker := func() bool {
		fx.engine.mu.Lock()
		defer fx.engine.mu.Unlock()
		_, ok := fx.engine.inFlight["batch-1"]
		return ok
	}
	require.Eventually(t, holdsMarker, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, fx.engine.Run(context.Background(), "batch-1"), ErrBatchInFlight)

	close(release)
	require.NoError(t, <-done)

	// Released after completion: a different batch id was never affected.
	assert.True(t, fx.engine.acquire("batch-1"))
	fx.engine.release("batch-1")
}

func TestRun_MissingLocalPhotoDegradesToNoPhoto(t *testing.T) {
	fx := newFixture(t)
	b := fiveWorkerBatch("batch-1")
	b.PhotoLocalPath = filepath.Join(t.TempDir(), "gone", "photo.jpg")
	require.NoError(t, fx.queue.Enqueue(b))

	require.NoError(t, fx.engine.Run(context.Background(), "batch-1"))

	assert.Equal(t, 0, fx.objects.putCalls)
	assert.Equal(t, 5, fx.attendance.recordCount())
	for _, rec := range fx.attendance.records {
		assert.Empty(t, rec.PhotoURL)
	}
}

func TestDrainPending_AdvancesEveryBatch(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.queue.Enqueue(fiveWorkerBatch("batch-1")))

	second := fiveWorkerBatch("batch-2")
	second.WorkerIDs = []string{"emp-9"}
	second.RecordType = domain.RecordClockOut
	require.NoError(t, fx.queue.Enqueue(second))

	require.NoError(t, fx.engine.DrainPending(context.Background()))

	assert.Equal(t, 6, fx.attendance.recordCount())
	batches, err := fx.queue.ListPending()
	require.NoError(t, err)
	assert.Empty(t, batches)

	// Draining an empty queue is a no-op, and remote state is unchanged.
	require.NoError(t, fx.engine.DrainPending(context.Background()))
	assert.Equal(t, 6, fx.attendance.recordCount())
}

func TestDrainPending_FailedBatchStaysQueued(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.queue.Enqueue(fiveWorkerBatch("batch-1")))

	fx.attendance.failFor["emp-2"] = errors.New("boom")
	err := fx.engine.DrainPending(context.Background())
	require.Error(t, err)

	// Never silently dropped: still visible, in error, after >= 1 attempt.
	got, err := fx.queue.Get("batch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.SyncStatus)
	assert.GreaterOrEqual(t, got.AttemptCount, 1)
}

func TestWake_CoalescesAndTriggersDrain(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.queue.Enqueue(fiveWorkerBatch("batch-1")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		fx.engine.Start(ctx)
	}()
	<-started

	// Double wake must not block.
	fx.engine.Wake()
	fx.engine.Wake()

	require.Eventually(t, func() bool {
		return fx.attendance.recordCount() == 5
	}, 2*time.Second, 10*time.Millisecond)
}
