// Package store implements the durable local batch queue. Batches are written here
// before the caller is told "submitted"; the queue survives restarts and is drained
// by the sync engine.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crewclock-sync/internal/domain"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a batch id has no row in the queue.
var ErrNotFound = errors.New("batch not found")

// BatchStore is the on-device durable queue of sync batches.
type BatchStore struct {
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_batches (
	batch_id        TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	record_type     TEXT NOT NULL,
	work_date       TEXT NOT NULL,
	worker_ids      TEXT NOT NULL,
	site_name       TEXT NOT NULL DEFAULT '',
	location        TEXT,
	photo_local_path TEXT NOT NULL DEFAULT '',
	photo_remote_url TEXT NOT NULL DEFAULT '',
	sync_status     TEXT NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	supervisor_id   TEXT NOT NULL DEFAULT '',
	supervisor_name TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);
`

// NewBatchStore opens (creating if needed) the queue database at dbPath.
func NewBatchStore(dbPath string, logger *zap.Logger) (*BatchStore, error) {
	// WAL keeps enqueue durable and cheap; busy_timeout covers the engine and the
	// capture flow touching the file concurrently.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open batch store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create batch store schema: %w", err)
	}

	return &BatchStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *BatchStore) Close() error {
	return s.db.Close()
}

// Enqueue durably appends a batch. It must return only after the row is committed:
// this ordering is the crash-durability guarantee behind "submitted".
func (s *BatchStore) Enqueue(b *domain.SyncBatch) error {
	if len(b.WorkerIDs) == 0 {
		return fmt.Errorf("refusing to enqueue batch %s with no workers", b.ID)
	}

	workerJSON, err := json.Marshal(b.WorkerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal worker ids: %w", err)
	}

	var locationJSON []byte
	if b.Location != nil {
		locationJSON, err = json.Marshal(b.Location)
		if err != nil {
			return fmt.Errorf("failed to marshal location: %w", err)
		}
	}

	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.SyncStatus == "" {
		b.SyncStatus = domain.StatusPending
	}

	_, err = s.db.Exec(`
		INSERT INTO sync_batches (
			batch_id, tenant_id, record_type, work_date, worker_ids,
			site_name, location, photo_local_path, photo_remote_url,
			sync_status, last_error, attempt_count,
			supervisor_id, supervisor_name, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, string(b.RecordType), b.Date, string(workerJSON),
		b.SiteName, nullBytes(locationJSON), b.PhotoLocalPath, b.PhotoRemoteURL,
		string(b.SyncStatus), b.LastError, b.AttemptCount,
		b.SupervisorID, b.SupervisorName, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}

	s.logger.Info("Batch enqueued",
		zap.String("batch_id", b.ID),
		zap.String("record_type", string(b.RecordType)),
		zap.Int("worker_count", len(b.WorkerIDs)),
	)
	return nil
}

// Get returns one batch by id.
func (s *BatchStore) Get(batchID string) (*domain.SyncBatch, error) {
	row := s.db.QueryRow(`
		SELECT batch_id, tenant_id, record_type, work_date, worker_ids,
			site_name, location, photo_local_path, photo_remote_url,
			sync_status, last_error, attempt_count,
			supervisor_id, supervisor_name, created_at, updated_at
		FROM sync_batches WHERE batch_id = ?`, batchID)

	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// ListPending returns every queued batch, oldest first. Synced batches are removed
// from the queue, so everything here is pending, uploading, in error, or synced but
// awaiting photo purge.
func (s *BatchStore) ListPending() ([]*domain.SyncBatch, error) {
	rows, err := s.db.Query(`
		SELECT batch_id, tenant_id, record_type, work_date, worker_ids,
			site_name, location, photo_local_path, photo_remote_url,
			sync_status, last_error, attempt_count,
			supervisor_id, supervisor_name, created_at, updated_at
		FROM sync_batches ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*domain.SyncBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batches: %w", err)
	}
	return batches, nil
}

// MarkUploading moves a batch into uploading and counts the attempt.
func (s *BatchStore) MarkUploading(batchID string) error {
	return s.exec(batchID, `
		UPDATE sync_batches
		SET sync_status = ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE batch_id = ?`,
		string(domain.StatusUploading), time.Now().UTC(), batchID)
}

// MarkSynced moves a batch into the terminal synced state and clears any error.
func (s *BatchStore) MarkSynced(batchID string) error {
	return s.exec(batchID, `
		UPDATE sync_batches
		SET sync_status = ?, last_error = '', updated_at = ?
		WHERE batch_id = ?`,
		string(domain.StatusSynced), time.Now().UTC(), batchID)
}

// MarkError moves a batch into the retryable error state with the failure message.
func (s *BatchStore) MarkError(batchID, message string) error {
	return s.exec(batchID, `
		UPDATE sync_batches
		SET sync_status = ?, last_error = ?, updated_at = ?
		WHERE batch_id = ?`,
		string(domain.StatusError), message, time.Now().UTC(), batchID)
}

// SetPhotoRemoteURL durably records the uploaded photo URL. This must land before
// the local photo may be purged.
func (s *BatchStore) SetPhotoRemoteURL(batchID, url string) error {
	return s.exec(batchID, `
		UPDATE sync_batches
		SET photo_remote_url = ?, updated_at = ?
		WHERE batch_id = ?`,
		url, time.Now().UTC(), batchID)
}

// ClearPhotoLocalPath records that the local photo file is gone.
func (s *BatchStore) ClearPhotoLocalPath(batchID string) error {
	return s.exec(batchID, `
		UPDATE sync_batches
		SET photo_local_path = '', updated_at = ?
		WHERE batch_id = ?`,
		time.Now().UTC(), batchID)
}

// Remove deletes a batch from the queue. Only called after the batch is synced and
// its local photo purged; the remote records stay.
func (s *BatchStore) Remove(batchID string) error {
	return s.exec(batchID, `DELETE FROM sync_batches WHERE batch_id = ?`, batchID)
}

func (s *BatchStore) exec(batchID, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", batchID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.SyncBatch, error) {
	var (
		b            domain.SyncBatch
		recordType   string
		status       string
		workerJSON   string
		locationJSON sql.NullString
	)

	err := row.Scan(
		&b.ID, &b.TenantID, &recordType, &b.Date, &workerJSON,
		&b.SiteName, &locationJSON, &b.PhotoLocalPath, &b.PhotoRemoteURL,
		&status, &b.LastError, &b.AttemptCount,
		&b.SupervisorID, &b.SupervisorName, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.RecordType = domain.RecordType(recordType)
	b.SyncStatus = domain.SyncStatus(status)

	if err := json.Unmarshal([]byte(workerJSON), &b.WorkerIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker ids for batch %s: %w", b.ID, err)
	}
	if locationJSON.Valid && locationJSON.String != "" {
		var fix domain.LocationFix
		if err := json.Unmarshal([]byte(locationJSON.String), &fix); err != nil {
			return nil, fmt.Errorf("failed to unmarshal location for batch %s: %w", b.ID, err)
		}
		b.Location = &fix
	}
	return &b, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
