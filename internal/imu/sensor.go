// Package imu declares the inertial sensor driver contract. Per spec.md §1
// the driver itself is an external collaborator out of scope; the core only
// depends on this narrow interface.
package imu

import "github.com/helmcam/coordinator/internal/protocol"

// Sensor exposes a blocking snapshot read producing a fixed-shape struct.
// Implementations must never block longer than the caller's context allows
// and must report Available=false rather than erroring when no data can be
// produced (spec.md §7 "Sensor unavailable").
type Sensor interface {
	Snapshot() protocol.IMUSnapshot
}

// Unavailable is a Sensor that always reports itself unavailable, used when
// hardware init failed but the coordinator is configured to start anyway
// (spec.md §7 "Hardware init failure").
type Unavailable struct {
	Reason string
}

func (u Unavailable) Snapshot() protocol.IMUSnapshot {
	return protocol.Unavailable(u.Reason)
}
