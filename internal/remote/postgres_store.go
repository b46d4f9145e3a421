package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"crewclock-sync/internal/domain"

	"go.uber.org/zap"
)

// PostgresAttendanceStore writes attendance straight into the HR database. Used by
// deployments where supervisor devices reach the backend database over a private
// network instead of the cloud API.
type PostgresAttendanceStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAttendanceStore creates a new postgres attendance store.
func NewPostgresAttendanceStore(db *sql.DB, logger *zap.Logger) *PostgresAttendanceStore {
	return &PostgresAttendanceStore{
		db:     db,
		logger: logger,
	}
}

// CreateOrReplaceRecord upserts on the idempotent key
// (tenant_id, employee_id, work_date, record_type, batch_id).
func (s *PostgresAttendanceStore) CreateOrReplaceRecord(ctx context.Context, rec domain.AttendanceRecord) error {
	var locationJSON []byte
	if rec.Location != nil {
		var err error
		locationJSON, err = json.Marshal(rec.Location)
		if err != nil {
			return fmt.Errorf("failed to marshal location: %w", err)
		}
	}

	query := `
		INSERT INTO attendance_records (
			tenant_id, employee_id, work_date, record_type, batch_id,
			site_name, location, photo_url, supervisor_id, supervisor_name, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, employee_id, work_date, record_type, batch_id)
		DO UPDATE SET
			site_name = EXCLUDED.site_name,
			location = EXCLUDED.location,
			photo_url = EXCLUDED.photo_url,
			supervisor_id = EXCLUDED.supervisor_id,
			supervisor_name = EXCLUDED.supervisor_name,
			recorded_at = EXCLUDED.recorded_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.TenantID, rec.EmployeeID, rec.Date, string(rec.RecordType), rec.BatchID,
		nullString(rec.SiteName), nullBytes(locationJSON), nullString(rec.PhotoURL),
		rec.SupervisorID, rec.SupervisorName, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert attendance record: %w", err)
	}

	s.logger.Debug("Attendance record upserted",
		zap.String("employee_id", rec.EmployeeID),
		zap.String("record_type", string(rec.RecordType)),
		zap.String("batch_id", rec.BatchID),
	)
	return nil
}

// ListOpenClockIns returns workers whose clock-in on the date has no clock-out yet.
func (s *PostgresAttendanceStore) ListOpenClockIns(ctx context.Context, tenantID, date string) ([]domain.PendingClockIn, error) {
	query := `
		SELECT ci.employee_id, ci.recorded_at
		FROM attendance_records ci
		WHERE ci.tenant_id = $1
		  AND ci.work_date = $2
		  AND ci.record_type = 'clock_in'
		  AND NOT EXISTS (
			SELECT 1 FROM attendance_records co
			WHERE co.tenant_id = ci.tenant_id
			  AND co.employee_id = ci.employee_id
			  AND co.work_date = ci.work_date
			  AND co.record_type = 'clock_out'
		  )
		ORDER BY ci.employee_id
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query open clock-ins: %w", err)
	}
	defer rows.Close()

	var pending []domain.PendingClockIn
	for rows.Next() {
		var p domain.PendingClockIn
		if err := rows.Scan(&p.EmployeeID, &p.ClockInTime); err != nil {
			return nil, fmt.Errorf("failed to scan open clock-in: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate open clock-ins: %w", err)
	}
	return pending, nil
}

// ListWorkers returns the tenant's worker roster.
func (s *PostgresAttendanceStore) ListWorkers(ctx context.Context, tenantID string) ([]domain.Worker, error) {
	query := `
		SELECT employee_id, first_name, last_name, COALESCE(department, ''), tenant_id
		FROM workers
		WHERE tenant_id = $1
		ORDER BY last_name, first_name
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var workers []domain.Worker
	for rows.Next() {
		var w domain.Worker
		if err := rows.Scan(&w.EmployeeID, &w.FirstName, &w.LastName, &w.Department, &w.TenantID); err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workers: %w", err)
	}
	return workers, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
