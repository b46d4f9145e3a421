package domain

import "time"

// Worker is a read-only snapshot of a tenant employee. The roster is owned by the HR
// backend; this module only caches it.
type Worker struct {
	EmployeeID string `json:"employee_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Department string `json:"department,omitempty"`
	TenantID   string `json:"tenant_id"`
}

// FullName returns "First Last" for display and export.
func (w Worker) FullName() string {
	if w.FirstName == "" {
		return w.LastName
	}
	if w.LastName == "" {
		return w.FirstName
	}
	return w.FirstName + " " + w.LastName
}

// PendingClockIn marks a worker with an open clock-in (no matching clock-out) on a
// date. Derived from the remote store at session start, never cached across sessions.
type PendingClockIn struct {
	EmployeeID  string    `json:"employee_id"`
	ClockInTime time.Time `json:"clock_in_time"`
}

// Supervisor identifies the device operator stamping batches.
type Supervisor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
