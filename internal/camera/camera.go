// Package camera declares the local camera driver contract. Per spec.md §1
// the driver implementation (exposure control, sensor access) is an
// external collaborator; the core only calls Capture.
package camera

import "context"

// Driver captures one photo into dir/name and returns the final path on
// disk, or an error. Implementations are single-threaded per instance
// (spec.md §5 "the camera driver is single-threaded per instance").
type Driver interface {
	Capture(ctx context.Context, dir, name string) (path string, err error)
}

// Unavailable is a Driver that always fails, used when the local camera
// failed to initialize but the coordinator still starts without it
// (spec.md §7, tracked as a capability flag).
type Unavailable struct {
	Reason string
}

func (u Unavailable) Capture(ctx context.Context, dir, name string) (string, error) {
	return "", &NotAvailableError{Reason: u.Reason}
}

// NotAvailableError is returned by Unavailable.Capture.
type NotAvailableError struct {
	Reason string
}

func (e *NotAvailableError) Error() string {
	return "camera: not available: " + e.Reason
}
