package movement

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/protocol"
)

// sequenceSensor replays a fixed list of magnitudes as triaxial samples on
// the X axis, one per Snapshot() call.
type sequenceSensor struct {
	magnitudes []float64
	i          int
	available  bool
}

func (s *sequenceSensor) Snapshot() protocol.IMUSnapshot {
	if !s.available {
		return protocol.Unavailable("no data")
	}
	m := s.magnitudes[s.i]
	if s.i < len(s.magnitudes)-1 {
		s.i++
	}
	return protocol.IMUSnapshot{Available: true, AccelX: m}
}

func TestMovementCooldownGatesRepeatedTriggers(t *testing.T) {
	// Δ sequence (1.0, 3.0, 4.0, 5.0) at t=(0,1,5,40); threshold=2.0,
	// cooldown=30s. Expected: triggers only at t=1 and t=40 (spec.md §8
	// scenario 4).
	fc := clockwork.NewFakeClock()
	clk := clock.NewFromClockwork(fc)
	triggers := make(chan struct{}, 8)

	sensor := &sequenceSensor{available: true, magnitudes: []float64{0, 1.0, 4.0, 8.0, 13.0}}
	d := New(sensor, clk, 2.0, 30*time.Second, triggers)

	d.sample() // seeds lastMagnitude=0, before t=0

	d.sample() // t=0: delta=1.0, at/below threshold, no trigger
	require.Len(t, triggers, 0)

	fc.Advance(1 * time.Second)
	d.sample() // t=1: delta=3.0, above threshold, no prior trigger -> fires
	require.Len(t, triggers, 1)

	fc.Advance(4 * time.Second)
	d.sample() // t=5: delta=4.0, above threshold, but only 4s since last trigger -> gated
	require.Len(t, triggers, 1)

	fc.Advance(35 * time.Second)
	d.sample() // t=40: delta=5.0, above threshold, 39s since last trigger -> fires
	require.Len(t, triggers, 2)
}

func TestMovementFirstSampleNeverTriggers(t *testing.T) {
	fc := clockwork.NewFakeClock()
	clk := clock.NewFromClockwork(fc)
	triggers := make(chan struct{}, 8)

	sensor := &sequenceSensor{available: true, magnitudes: []float64{100}}
	d := New(sensor, clk, 0, time.Second, triggers)
	d.sample()

	require.Len(t, triggers, 0)
}

func TestMovementZeroThresholdTriggersOnAnyDelta(t *testing.T) {
	fc := clockwork.NewFakeClock()
	clk := clock.NewFromClockwork(fc)
	triggers := make(chan struct{}, 8)

	sensor := &sequenceSensor{available: true, magnitudes: []float64{0, 0.01}}
	d := New(sensor, clk, 0, time.Second, triggers)
	d.sample() // seed
	d.sample() // delta = 0.01 > 0 threshold

	require.Len(t, triggers, 1)
}

func TestMovementRespectsCooldown(t *testing.T) {
	fc := clockwork.NewFakeClock()
	clk := clock.NewFromClockwork(fc)
	triggers := make(chan struct{}, 8)

	sensor := &sequenceSensor{available: true, magnitudes: []float64{0, 10, 0}}
	d := New(sensor, clk, 1.0, 30*time.Second, triggers)
	d.sample() // seed at 0
	d.sample() // delta=10, triggers
	require.Len(t, triggers, 1)

	fc.Advance(5 * time.Second)
	d.sample() // delta=10 again, but within cooldown
	require.Len(t, triggers, 1)
}

func TestMovementIdlesWhenSensorUnavailable(t *testing.T) {
	fc := clockwork.NewFakeClock()
	clk := clock.NewFromClockwork(fc)
	triggers := make(chan struct{}, 8)

	sensor := &sequenceSensor{available: false}
	d := New(sensor, clk, 0, time.Second, triggers)
	d.sample()
	d.sample()

	require.Len(t, triggers, 0)
}
