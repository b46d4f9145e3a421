// Package service wires the capture, queue, and sync components into one process.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"crewclock-sync/internal/capture"
	"crewclock-sync/internal/config"
	"crewclock-sync/internal/database"
	"crewclock-sync/internal/device"
	"crewclock-sync/internal/domain"
	"crewclock-sync/internal/history"
	"crewclock-sync/internal/photo"
	"crewclock-sync/internal/remote"
	"crewclock-sync/internal/roster"
	"crewclock-sync/internal/store"
	"crewclock-sync/internal/syncer"

	"go.uber.org/zap"
)

// SyncService owns the durable queue, the sync engine, and the capture controller
// for one supervisor device.
type SyncService struct {
	config  *config.Config
	logger  *zap.Logger
	db      *sql.DB // nil unless the postgres backend is selected
	queue   *store.BatchStore
	engine  *syncer.Engine
	roster  *roster.Cache
	capture *capture.Controller
	history *history.Projection
}

// NewSyncService builds the full component graph. Camera and locator come from the
// embedding app; headless deployments pass the Denied implementations.
func NewSyncService(
	cfg *config.Config,
	camera device.Camera,
	locator device.Locator,
	logger *zap.Logger,
) (*SyncService, error) {
	var db *sql.DB
	if cfg.Backend == config.BackendPostgres {
		var err error
		db, err = database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	attendance, err := remote.NewAttendanceStore(cfg, db, logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	objects := remote.NewHTTPObjectStore(cfg.API.BaseURL, cfg.API.Key, cfg.API.TimeoutSec, logger)

	queue, err := store.NewBatchStore(cfg.Store.DBPath, logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("failed to open batch store: %w", err)
	}

	photos := photo.NewPipeline(cfg.Store.PhotoDir, cfg.Photo.MaxDimension, cfg.Photo.JPEGQuality, logger)

	engine := syncer.NewEngine(
		queue, attendance, objects, photos,
		time.Duration(cfg.Sync.WriteTimeoutSec)*time.Second,
		time.Duration(cfg.Sync.DrainIntervalSec)*time.Second,
		logger,
	)

	rosterCache := roster.NewCache(attendance, cfg.Tenant.ID, logger)

	identity := device.StaticIdentity{Sup: domain.Supervisor{
		ID:          cfg.Supervisor.ID,
		DisplayName: cfg.Supervisor.Name,
	}}

	controller := capture.NewController(
		queue, rosterCache, photos,
		camera, locator, identity,
		engine, cfg.Tenant.ID, cfg.Sync.InlineFirstAttempt,
		logger,
	)

	return &SyncService{
		config:  cfg,
		logger:  logger,
		db:      db,
		queue:   queue,
		engine:  engine,
		roster:  rosterCache,
		capture: controller,
		history: history.NewProjection(queue, logger),
	}, nil
}

// Start loads the roster and runs the drain loop until ctx is cancelled. A failed
// roster load does not abort startup: the device may be offline, and queued batches
// must still drain once connectivity returns.
func (s *SyncService) Start(ctx context.Context) error {
	if err := s.roster.Load(ctx); err != nil {
		s.logger.Warn("Roster load failed at startup, continuing offline", zap.Error(err))
	}

	// Anything left queued by a previous run is picked up immediately.
	s.engine.Wake()

	return s.engine.Start(ctx)
}

// Stop releases the service's resources.
func (s *SyncService) Stop(ctx context.Context) error {
	if err := s.queue.Close(); err != nil {
		return fmt.Errorf("failed to close batch store: %w", err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}

// Capture returns the capture controller for the embedding UI.
func (s *SyncService) Capture() *capture.Controller { return s.capture }

// History returns the read-only batch history projection.
func (s *SyncService) History() *history.Projection { return s.history }

// Roster returns the worker roster cache.
func (s *SyncService) Roster() *roster.Cache { return s.roster }

// Engine returns the sync engine, e.g. to Wake it on reconnect events.
func (s *SyncService) Engine() *syncer.Engine { return s.engine }
