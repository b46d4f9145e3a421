// Package device holds the contracts for on-device capabilities the capture flow
// depends on. Camera and GPS are optional capabilities: a permission denial is a
// normal outcome carried in the result, not an error, so every call site is forced
// to handle the denied branch.
package device

import (
	"context"

	"crewclock-sync/internal/domain"
)

// PhotoCapture is the outcome of a camera capture attempt.
type PhotoCapture struct {
	Bytes  []byte
	Denied bool
}

// FixResult is the outcome of a GPS fix attempt.
type FixResult struct {
	Fix    domain.LocationFix
	Denied bool
}

// Camera produces verification photos. Implementations must not block past ctx.
type Camera interface {
	Capture(ctx context.Context) PhotoCapture
}

// Locator produces a single best-effort GPS fix. Implementations must not block
// past ctx; a timeout reads as Denied.
type Locator interface {
	CurrentFix(ctx context.Context) FixResult
}

// Identity resolves the supervisor operating the device.
type Identity interface {
	Supervisor() domain.Supervisor
}

// DeniedCamera is a Camera with no permission. Used for headless wiring and tests.
type DeniedCamera struct{}

func (DeniedCamera) Capture(ctx context.Context) PhotoCapture {
	return PhotoCapture{Denied: true}
}

// DeniedLocator is a Locator with no permission.
type DeniedLocator struct{}

func (DeniedLocator) CurrentFix(ctx context.Context) FixResult {
	return FixResult{Denied: true}
}

// StaticIdentity returns a fixed supervisor, typically from config.
type StaticIdentity struct {
	Sup domain.Supervisor
}

func (s StaticIdentity) Supervisor() domain.Supervisor { return s.Sup }
