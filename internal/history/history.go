// Package history is the read-only supervisor view over the local batch queue. It
// never mutates batches; the sync engine is the queue's only writer.
package history

import (
	"bytes"
	"fmt"

	"crewclock-sync/internal/domain"
	"crewclock-sync/internal/store"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// BatchSummary is one row of the history view: the sync-status badge plus enough
// context to recognize the batch.
type BatchSummary struct {
	BatchID      string            `json:"batch_id"`
	RecordType   domain.RecordType `json:"record_type"`
	Date         string            `json:"date"`
	SiteName     string            `json:"site_name,omitempty"`
	WorkerCount  int               `json:"worker_count"`
	HasPhoto     bool              `json:"has_photo"`
	HasLocation  bool              `json:"has_location"`
	SyncStatus   domain.SyncStatus `json:"sync_status"`
	AttemptCount int               `json:"attempt_count"`
	LastError    string            `json:"last_error,omitempty"`
	CreatedAt    string            `json:"created_at"`
}

// Projection reads batch summaries for review.
type Projection struct {
	queue  *store.BatchStore
	logger *zap.Logger
}

// NewProjection creates a history projection over the queue.
func NewProjection(queue *store.BatchStore, logger *zap.Logger) *Projection {
	return &Projection{queue: queue, logger: logger}
}

// List returns every queued batch as a summary, oldest first. Errors stay visible
// here until their batch finally syncs; nothing is retried silently out of sight.
func (p *Projection) List() ([]BatchSummary, error) {
	batches, err := p.queue.ListPending()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch history: %w", err)
	}

	summaries := make([]BatchSummary, 0, len(batches))
	for _, b := range batches {
		summaries = append(summaries, BatchSummary{
			BatchID:      b.ID,
			RecordType:   b.RecordType,
			Date:         b.Date,
			SiteName:     b.SiteName,
			WorkerCount:  len(b.WorkerIDs),
			HasPhoto:     b.PhotoLocalPath != "" || b.PhotoRemoteURL != "",
			HasLocation:  b.Location != nil,
			SyncStatus:   b.SyncStatus,
			AttemptCount: b.AttemptCount,
			LastError:    b.LastError,
			CreatedAt:    b.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return summaries, nil
}

// exportHeader is the column layout of the history export.
var exportHeader = []string{
	"Batch ID",
	"Type",
	"Date",
	"Site",
	"Workers",
	"Photo",
	"Location",
	"Status",
	"Attempts",
	"Last Error",
	"Created At",
}

// ExportXLSX renders the summaries as an Excel workbook for supervisor review.
func ExportXLSX(summaries []BatchSummary) ([]byte, error) {
	f := excelize.NewFile()

	const sheetName = "Batch History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	for col, title := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return nil, err
		}
	}

	for row, s := range summaries {
		values := []any{
			s.BatchID,
			string(s.RecordType),
			s.Date,
			s.SiteName,
			s.WorkerCount,
			yesNo(s.HasPhoto),
			yesNo(s.HasLocation),
			string(s.SyncStatus),
			s.AttemptCount,
			s.LastError,
			s.CreatedAt,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
