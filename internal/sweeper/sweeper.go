// Package sweeper implements the Timeout Sweeper (spec.md §4.4): a periodic
// worker that evicts deadline-exceeded PendingEntries and turns their
// non-responders into timeout counts.
package sweeper

import (
	"context"
	"time"

	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/pending"
)

// Sweeper drives Table.SweepExpired on a fixed interval.
type Sweeper struct {
	table    *pending.Table
	clock    clock.Clock
	interval time.Duration
}

// New builds a Sweeper. interval defaults to 30s per spec.md §4.4 when zero.
func New(table *pending.Table, clk clock.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{table: table, clock: clk, interval: interval}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.table.SweepExpired(s.clock.NowMono())
		}
	}
}
