package domain

import "time"

// RecordType distinguishes the two kinds of attendance events a batch can carry.
type RecordType string

const (
	RecordClockIn  RecordType = "clock_in"
	RecordClockOut RecordType = "clock_out"
)

// Valid reports whether t is one of the known record types.
func (t RecordType) Valid() bool {
	return t == RecordClockIn || t == RecordClockOut
}

// SyncStatus is a batch's position in the local-only -> in-flight -> confirmed-remote
// lifecycle.
type SyncStatus string

const (
	StatusPending   SyncStatus = "pending"
	StatusUploading SyncStatus = "uploading"
	StatusSynced    SyncStatus = "synced"
	StatusError     SyncStatus = "error"
)

// Terminal reports whether the status admits no further sync transitions.
func (s SyncStatus) Terminal() bool {
	return s == StatusSynced
}

// LocationFix is a single best-effort GPS fix attached to a batch.
type LocationFix struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters"`
}

// SyncBatch is one supervisor-initiated group clock-in/out event. The ID is assigned
// once at capture time and reused on every retry, so the remote store sees at most one
// set of records per batch.
type SyncBatch struct {
	ID             string       `json:"batch_id"`
	TenantID       string       `json:"tenant_id"`
	RecordType     RecordType   `json:"record_type"`
	Date           string       `json:"date"` // YYYY-MM-DD, local site date
	WorkerIDs      []string     `json:"worker_ids"`
	SiteName       string       `json:"site_name,omitempty"`
	Location       *LocationFix `json:"location,omitempty"`
	PhotoLocalPath string       `json:"photo_local_path,omitempty"`
	PhotoRemoteURL string       `json:"photo_remote_url,omitempty"`
	SyncStatus     SyncStatus   `json:"sync_status"`
	LastError      string       `json:"last_error,omitempty"`
	AttemptCount   int          `json:"attempt_count"`
	SupervisorID   string       `json:"supervisor_id"`
	SupervisorName string       `json:"supervisor_name"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// HasPhoto reports whether a local photo is attached and not yet uploaded.
func (b *SyncBatch) HasPhoto() bool {
	return b.PhotoLocalPath != ""
}

// NeedsPhotoUpload reports whether the photo step of the sync transition still has
// work to do for this batch.
func (b *SyncBatch) NeedsPhotoUpload() bool {
	return b.PhotoLocalPath != "" && b.PhotoRemoteURL == ""
}

// AttendanceRecord is one remote write produced from a batch. The tuple
// (TenantID, EmployeeID, Date, RecordType, BatchID) is the idempotent key: retried
// writes overwrite, never duplicate.
type AttendanceRecord struct {
	TenantID       string       `json:"tenant_id"`
	EmployeeID     string       `json:"employee_id"`
	Date           string       `json:"date"`
	RecordType     RecordType   `json:"record_type"`
	BatchID        string       `json:"batch_id"`
	SiteName       string       `json:"site_name,omitempty"`
	Location       *LocationFix `json:"location,omitempty"`
	PhotoURL       string       `json:"photo_url,omitempty"`
	SupervisorID   string       `json:"supervisor_id"`
	SupervisorName string       `json:"supervisor_name"`
	RecordedAt     time.Time    `json:"recorded_at"`
}

// Records expands the batch into one attendance record per selected worker.
func (b *SyncBatch) Records() []AttendanceRecord {
	records := make([]AttendanceRecord, 0, len(b.WorkerIDs))
	for _, workerID := range b.WorkerIDs {
		records = append(records, AttendanceRecord{
			TenantID:       b.TenantID,
			EmployeeID:     workerID,
			Date:           b.Date,
			RecordType:     b.RecordType,
			BatchID:        b.ID,
			SiteName:       b.SiteName,
			Location:       b.Location,
			PhotoURL:       b.PhotoRemoteURL,
			SupervisorID:   b.SupervisorID,
			SupervisorName: b.SupervisorName,
			RecordedAt:     b.CreatedAt,
		})
	}
	return records
}
