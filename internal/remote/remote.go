// Package remote holds the consumed contracts of the synchronization engine: the
// remote attendance store and the remote object store. Two attendance store
// implementations exist, a cloud REST client and a direct postgres client; both
// expose the same idempotent write semantics.
package remote

import (
	"context"
	"database/sql"
	"fmt"

	"crewclock-sync/internal/config"
	"crewclock-sync/internal/domain"

	"go.uber.org/zap"
)

// AttendanceStore is the remote HR store the engine writes attendance into.
// CreateOrReplaceRecord must converge: writing the same record key twice leaves one
// record, never two.
type AttendanceStore interface {
	CreateOrReplaceRecord(ctx context.Context, rec domain.AttendanceRecord) error
	ListOpenClockIns(ctx context.Context, tenantID, date string) ([]domain.PendingClockIn, error)
	ListWorkers(ctx context.Context, tenantID string) ([]domain.Worker, error)
}

// ObjectStore stores photo evidence. Put to the same path overwrites.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte) (url string, err error)
}

// NewAttendanceStore builds the attendance store selected by cfg.Backend.
// For the postgres backend the caller owns the passed db handle.
func NewAttendanceStore(cfg *config.Config, db *sql.DB, logger *zap.Logger) (AttendanceStore, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return NewHTTPAttendanceStore(cfg.API.BaseURL, cfg.API.Key, cfg.API.TimeoutSec, logger), nil
	case config.BackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres backend requires a database handle")
		}
		return NewPostgresAttendanceStore(db, logger), nil
	default:
		return nil, fmt.Errorf("unknown sync backend %q", cfg.Backend)
	}
}
