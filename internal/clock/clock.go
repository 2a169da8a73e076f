// Package clock provides an injectable notion of "now" so the Sweeper and
// Movement Detector can be driven deterministically under test, per the
// re-architecture guidance in spec.md §9.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// MonoTime is an opaque monotonic instant. Only subtraction and comparison
// are meaningful; never serialize it or derive a wall-clock value from it.
type MonoTime struct {
	t time.Time
}

// Sub returns the duration elapsed between two MonoTime values.
func (m MonoTime) Sub(other MonoTime) time.Duration {
	return m.t.Sub(other.t)
}

// Add returns a MonoTime offset by d.
func (m MonoTime) Add(d time.Duration) MonoTime {
	return MonoTime{t: m.t.Add(d)}
}

// After reports whether m is strictly after other.
func (m MonoTime) After(other MonoTime) bool {
	return m.t.After(other.t)
}

// Before reports whether m is strictly before other.
func (m MonoTime) Before(other MonoTime) bool {
	return m.t.Before(other.t)
}

// Clock is the time source used by every worker that needs to reason about
// elapsed time or stamp a wall-clock nanosecond value. NowMono is used for
// deadlines and rtt/latency math; NowWallNs is used only for values that
// cross the wire or are logged for humans (spec.md §3).
type Clock interface {
	NowMono() MonoTime
	NowWallNs() int64
}

// real wraps a clockwork.Clock so production code and tests share the same
// interface; clockwork.NewFakeClock() backs the test implementation.
type real struct {
	c clockwork.Clock
}

// New returns a Clock backed by the real wall clock.
func New() Clock {
	return &real{c: clockwork.NewRealClock()}
}

// NewFromClockwork adapts an existing clockwork.Clock (real or fake).
func NewFromClockwork(c clockwork.Clock) Clock {
	return &real{c: c}
}

func (r *real) NowMono() MonoTime {
	return MonoTime{t: r.c.Now()}
}

func (r *real) NowWallNs() int64 {
	return r.c.Now().UnixNano()
}
