package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crewclock-sync/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPAttendanceStore talks to the cloud HR API.
type HTTPAttendanceStore struct {
	client *resty.Client
	logger *zap.Logger
}

// NewHTTPAttendanceStore creates the REST attendance client. Retries inside the
// client stay short; the sync engine owns the long-term retry policy.
func NewHTTPAttendanceStore(baseURL, apiKey string, timeoutSec int, logger *zap.Logger) *HTTPAttendanceStore {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(time.Duration(timeoutSec) * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return &HTTPAttendanceStore{client: client, logger: logger}
}

// CreateOrReplaceRecord PUTs the record at its idempotent key path. The server
// treats PUT as upsert, so retried writes overwrite rather than duplicate.
func (s *HTTPAttendanceStore) CreateOrReplaceRecord(ctx context.Context, rec domain.AttendanceRecord) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(rec).
		Put(fmt.Sprintf("/api/v1/tenants/%s/attendance/%s/%s/%s/%s",
			rec.TenantID, rec.Date, rec.RecordType, rec.EmployeeID, rec.BatchID))
	if err != nil {
		return fmt.Errorf("failed to write attendance record: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("attendance write rejected: status %d", resp.StatusCode())
	}

	s.logger.Debug("Attendance record written",
		zap.String("employee_id", rec.EmployeeID),
		zap.String("record_type", string(rec.RecordType)),
		zap.String("batch_id", rec.BatchID),
	)
	return nil
}

type openClockInsResponse struct {
	Items []domain.PendingClockIn `json:"items"`
}

// ListOpenClockIns returns workers with an unresolved clock-in and no clock-out on
// the date.
func (s *HTTPAttendanceStore) ListOpenClockIns(ctx context.Context, tenantID, date string) ([]domain.PendingClockIn, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("date", date).
		Get(fmt.Sprintf("/api/v1/tenants/%s/attendance/open-clock-ins", tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to list open clock-ins: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("open clock-in query rejected: status %d", resp.StatusCode())
	}

	var body openClockInsResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to decode open clock-ins: %w", err)
	}
	return body.Items, nil
}

type workersResponse struct {
	Items []domain.Worker `json:"items"`
}

// ListWorkers returns the tenant's worker roster snapshot.
func (s *HTTPAttendanceStore) ListWorkers(ctx context.Context, tenantID string) ([]domain.Worker, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/api/v1/tenants/%s/workers", tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("worker list query rejected: status %d", resp.StatusCode())
	}

	var body workersResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to decode workers: %w", err)
	}
	return body.Items, nil
}

// HTTPObjectStore uploads photo evidence over the storage API.
type HTTPObjectStore struct {
	client *resty.Client
	logger *zap.Logger
}

// NewHTTPObjectStore creates the object storage client.
func NewHTTPObjectStore(baseURL, apiKey string, timeoutSec int, logger *zap.Logger) *HTTPObjectStore {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(time.Duration(timeoutSec) * time.Second).
		SetHeader("Content-Type", "image/jpeg")
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return &HTTPObjectStore{client: client, logger: logger}
}

type putObjectResponse struct {
	URL string `json:"url"`
}

// Put uploads data at the deterministic object path and returns its public URL.
// Re-uploading the same path overwrites the object.
func (s *HTTPObjectStore) Put(ctx context.Context, path string, data []byte) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(data).
		Put("/storage/" + path)
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("object upload rejected: status %d", resp.StatusCode())
	}

	var body putObjectResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if body.URL == "" {
		return "", fmt.Errorf("object upload returned no url")
	}

	s.logger.Debug("Object uploaded", zap.String("path", path))
	return body.URL, nil
}
