// Package movement implements the Movement Detector (spec.md §4.5): it
// samples the inertial sensor at 10 Hz and emits a trigger tick when the
// acceleration-magnitude delta exceeds a threshold, subject to a cooldown.
package movement

import (
	"context"
	"time"

	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/imu"
)

// Detector owns its own sampling loop and publishes only trigger ticks
// (spec.md §3 "Ownership").
type Detector struct {
	sensor    imu.Sensor
	clock     clock.Clock
	threshold float64
	cooldown  time.Duration
	triggers  chan<- struct{}

	hasSample      bool
	lastMagnitude  float64
	lastTriggerSet bool
	lastTrigger    clock.MonoTime
}

// New builds a Detector. triggers is the channel the Arbiter's movement
// feeder reads from; it should be buffered by at least 1 so a trigger is
// never dropped while the Arbiter is mid-tick.
func New(sensor imu.Sensor, clk clock.Clock, threshold float64, cooldown time.Duration, triggers chan<- struct{}) *Detector {
	return &Detector{sensor: sensor, clock: clk, threshold: threshold, cooldown: cooldown, triggers: triggers}
}

// Run blocks, sampling at 10 Hz until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sample()
		}
	}
}

// sample takes one reading and decides whether to emit. State resets on
// startup: the first sample seeds lastMagnitude without triggering
// (spec.md §4.5).
func (d *Detector) sample() {
	snap := d.sensor.Snapshot()
	if !snap.Available {
		return
	}

	magnitude := snap.Magnitude()
	if !d.hasSample {
		d.hasSample = true
		d.lastMagnitude = magnitude
		return
	}

	delta := magnitude - d.lastMagnitude
	if delta < 0 {
		delta = -delta
	}
	d.lastMagnitude = magnitude

	if delta <= d.threshold {
		return
	}

	now := d.clock.NowMono()
	if d.lastTriggerSet && now.Sub(d.lastTrigger) < d.cooldown {
		return
	}

	d.lastTrigger = now
	d.lastTriggerSet = true

	select {
	case d.triggers <- struct{}{}:
	default:
		// Arbiter is still draining a previous tick; movement triggers
		// coalesce rather than queue unboundedly.
	}
}
