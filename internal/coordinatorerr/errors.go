// Package coordinatorerr is the typed error taxonomy, in the shape of
// controlplane/internet-latency-collector/internal/collector/errors.go. The
// issuer returns a CoordinatorError when a publish fails, and the heartbeat
// driver logs its Kind.
package coordinatorerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error per spec.md §7.
type Kind string

const (
	KindTransport          Kind = "transport"
	KindMalformed          Kind = "malformed_message"
	KindUnknownID          Kind = "unknown_command_id"
	KindDuplicateResponse  Kind = "duplicate_response"
	KindCapture            Kind = "capture_failure"
	KindTimeout            Kind = "timeout"
	KindSensorUnavailable  Kind = "sensor_unavailable"
	KindHardwareInit       Kind = "hardware_init_failure"
)

// ErrNotConnected is returned by the Issuer when the Bus Client has no live
// connection to publish on (spec.md §4.2).
var ErrNotConnected = errors.New("bus: not connected")

// CoordinatorError wraps a Kind, the operation it occurred in, and an
// optional cause, so callers can classify failures without string matching.
type CoordinatorError struct {
	Kind      Kind
	Operation string
	Cause     error
}

func New(kind Kind, operation string, cause error) *CoordinatorError {
	return &CoordinatorError{Kind: kind, Operation: operation, Cause: cause}
}

func (e *CoordinatorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Kind)
}

func (e *CoordinatorError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, coordinatorerr.ErrNotConnected) work through a
// CoordinatorError wrapping it.
func (e *CoordinatorError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}
