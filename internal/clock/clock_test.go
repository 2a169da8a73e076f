package clock

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvance(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := NewFromClockwork(fc)

	start := c.NowMono()
	fc.Advance(1500 * time.Millisecond)
	elapsed := c.NowMono().Sub(start)

	require.Equal(t, 1500*time.Millisecond, elapsed)
}

func TestNowWallNsMonotonicWithAdvance(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := NewFromClockwork(fc)

	first := c.NowWallNs()
	fc.Advance(time.Second)
	second := c.NowWallNs()

	require.Greater(t, second, first)
}

func TestMonoTimeOrdering(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := NewFromClockwork(fc)

	before := c.NowMono()
	fc.Advance(time.Millisecond)
	after := c.NowMono()

	require.True(t, after.After(before))
	require.True(t, before.Before(after))
	require.False(t, before.After(after))
}
