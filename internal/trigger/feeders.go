package trigger

import (
	"context"
	"time"

	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/gpio"
)

// RunTimerFeed blocks, enqueuing a timer tick every interval, until ctx is
// cancelled. A non-positive interval disables the feeder entirely (caller
// controls "timer_enabled" by whether it starts this goroutine at all).
func (a *Arbiter) RunTimerFeed(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.enqueue(ctx, SourceTimer)
		}
	}
}

// RunMovementFeed drains the Movement Detector's trigger channel and forwards
// each tick into the Arbiter's central queue, until ctx is cancelled or the
// channel is closed.
func (a *Arbiter) RunMovementFeed(ctx context.Context, triggers <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-triggers:
			if !ok {
				return
			}
			a.enqueue(ctx, SourceMovement)
		}
	}
}

// lineEdgeDebounce is the fixed debounce window for the line-edge source
// (spec.md §4.1 "debounced by 500 ms").
const lineEdgeDebounce = 500 * time.Millisecond

// RunLineEdgeFeed watches line for falling edges and enqueues a tick for
// each one not suppressed by the debounce window, until ctx is cancelled.
func (a *Arbiter) RunLineEdgeFeed(ctx context.Context, line gpio.Line) {
	edges, err := line.WatchEdges(ctx)
	if err != nil {
		a.log.Error("line-edge watch failed to start", "error", err.Error())
		return
	}

	var lastEdge clock.MonoTime
	var hasLast bool

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-edges:
			if !ok {
				return
			}
			if e != gpio.EdgeFalling {
				continue
			}
			now := a.clock.NowMono()
			if hasLast && now.Sub(lastEdge) < lineEdgeDebounce {
				continue
			}
			hasLast = true
			lastEdge = now
			a.enqueue(ctx, SourceLineEdge)
		}
	}
}
