// Package heartbeat implements the Heartbeat Driver (spec.md §4.6): it
// periodically issues a poll command so the Sweeper can surface
// unresponsive peers even when no capture traffic is flowing.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/helmcam/coordinator/internal/coordinatorerr"
	"github.com/helmcam/coordinator/internal/protocol"
)

// CommandIssuer is the subset of internal/issuer.Issuer the driver depends
// on.
type CommandIssuer interface {
	Issue(ctx context.Context, kind protocol.CommandKind, notes string) (protocol.CommandID, error)
}

// ConnectionChecker reports whether the bus currently has a live connection,
// so the driver can skip issuing when disconnected (spec.md §4.6).
type ConnectionChecker interface {
	Connected() bool
}

type Driver struct {
	issuer   CommandIssuer
	bus      ConnectionChecker
	interval time.Duration
	log      *slog.Logger
}

// New builds a Driver. interval defaults to 60s per spec.md §4.6 when zero.
func New(issuer CommandIssuer, bus ConnectionChecker, interval time.Duration, log *slog.Logger) *Driver {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Driver{issuer: issuer, bus: bus, interval: interval, log: log}
}

// Run blocks, issuing a poll on every tick until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.beat(ctx)
		}
	}
}

func (d *Driver) beat(ctx context.Context) {
	if !d.bus.Connected() {
		d.log.Debug("heartbeat skipped, bus not connected")
		return
	}
	if _, err := d.issuer.Issue(ctx, protocol.KindPoll, "heartbeat"); err != nil {
		if cerr, ok := err.(*coordinatorerr.CoordinatorError); ok {
			d.log.Warn("heartbeat poll failed", slog.String("kind", string(cerr.Kind)), slog.String("error", cerr.Error()))
			return
		}
		d.log.Warn("heartbeat poll failed", slog.String("error", err.Error()))
	}
}
