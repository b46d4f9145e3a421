// Package roster caches the tenant worker list and resolves clock-out eligibility.
package roster

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crewclock-sync/internal/domain"

	"go.uber.org/zap"
)

// Directory is the slice of the remote store the roster needs.
type Directory interface {
	ListWorkers(ctx context.Context, tenantID string) ([]domain.Worker, error)
	ListOpenClockIns(ctx context.Context, tenantID, date string) ([]domain.PendingClockIn, error)
}

// Cache holds a wholesale snapshot of the tenant roster. The snapshot is replaced,
// never merged. Eligibility is resolved against the remote store on every call:
// open clock-ins are authoritative per session and never cached across sessions.
type Cache struct {
	directory Directory
	tenantID  string
	logger    *zap.Logger

	mu      sync.RWMutex
	workers map[string]domain.Worker
}

// NewCache creates an empty roster cache for one tenant.
func NewCache(directory Directory, tenantID string, logger *zap.Logger) *Cache {
	return &Cache{
		directory: directory,
		tenantID:  tenantID,
		logger:    logger,
		workers:   make(map[string]domain.Worker),
	}
}

// Load refreshes the whole roster from the remote store.
func (c *Cache) Load(ctx context.Context) error {
	workers, err := c.directory.ListWorkers(ctx, c.tenantID)
	if err != nil {
		return fmt.Errorf("failed to load roster: %w", err)
	}

	snapshot := make(map[string]domain.Worker, len(workers))
	for _, w := range workers {
		snapshot[w.EmployeeID] = w
	}

	c.mu.Lock()
	c.workers = snapshot
	c.mu.Unlock()

	c.logger.Info("Roster refreshed",
		zap.String("tenant_id", c.tenantID),
		zap.Int("worker_count", len(snapshot)),
	)
	return nil
}

// Workers returns the cached roster sorted by name.
func (c *Cache) Workers() []domain.Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	workers := make([]domain.Worker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		if workers[i].LastName != workers[j].LastName {
			return workers[i].LastName < workers[j].LastName
		}
		return workers[i].FirstName < workers[j].FirstName
	})
	return workers
}

// Lookup returns the cached worker for an employee id.
func (c *Cache) Lookup(employeeID string) (domain.Worker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workers[employeeID]
	return w, ok
}

// WorkersNeedingClockOut returns the workers with an open clock-in on the date,
// restricted to the cached roster. This is the authoritative clock-out candidate set.
func (c *Cache) WorkersNeedingClockOut(ctx context.Context, date string) ([]domain.PendingClockIn, error) {
	open, err := c.directory.ListOpenClockIns(ctx, c.tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve open clock-ins: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	eligible := make([]domain.PendingClockIn, 0, len(open))
	for _, p := range open {
		if _, ok := c.workers[p.EmployeeID]; !ok {
			// Open clock-in for someone no longer on the roster; not selectable.
			c.logger.Warn("Open clock-in for unknown worker",
				zap.String("employee_id", p.EmployeeID),
				zap.String("date", date),
			)
			continue
		}
		eligible = append(eligible, p)
	}
	return eligible, nil
}
