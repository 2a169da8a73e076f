// Package dashboard implements the Dashboard Bridge (spec.md §4.9): a single
// atomic read snapshot plus two write operations that feed into the Trigger
// Arbiter. It is transport-agnostic; internal/dashboardhttp exposes it over
// net/http.
package dashboard

import (
	"context"
	"time"

	"github.com/helmcam/coordinator/internal/pending"
	"github.com/helmcam/coordinator/internal/protocol"
	"github.com/helmcam/coordinator/internal/registry"
)

// Arbiter is the subset of internal/trigger.Arbiter the bridge drives.
type Arbiter interface {
	CaptureSingle(ctx context.Context)
	CaptureSequence(ctx context.Context, count int, interval time.Duration)
}

// TriggerStatus reports whether a configured trigger source is enabled and
// its feeder loop is running, for the triggers_status endpoint.
type TriggerStatus struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
}

// Snapshot is the single atomic read returned by Status (spec.md §4.9).
type Snapshot struct {
	Global       registry.GlobalStats                    `json:"global"`
	Peers        map[protocol.PeerID]registry.PeerStats  `json:"peers"`
	PendingCount int                                      `json:"pending_count"`
	SessionLabel string                                   `json:"session_label"`
	Rollup       registry.Rollup                         `json:"rollup"`
}

// Bridge wires the Pending Table and the Arbiter together for dashboard
// consumption. The Peer Registry is read only through the table's own
// locked Snapshot (spec.md §5 single-mutex policy); Bridge holds no
// separate reference to it.
type Bridge struct {
	table        *pending.Table
	arbiter      Arbiter
	triggers     map[string]TriggerStatus
	sessionLabel func() string
}

// New builds a Bridge. reg is accepted for symmetry with how table was
// constructed (same Registry backs both) but is never read directly here;
// all registry reads go through table.Snapshot() under its lock.
// sessionLabel reports the current local session name (e.g. from
// internal/session.Grouper.Name), and may be nil when the coordinator has
// no local camera.
func New(table *pending.Table, reg *registry.Registry, arbiter Arbiter, triggers map[string]TriggerStatus, sessionLabel func() string) *Bridge {
	return &Bridge{table: table, arbiter: arbiter, triggers: triggers, sessionLabel: sessionLabel}
}

// Status returns the atomic snapshot for the GET status / GET peers
// endpoints (spec.md §4.9, §6). Every stats field comes from one call to
// table.Snapshot(), taken under the Pending Table's single mutex, so this
// never races a concurrent RecordResponse/SweepExpired.
func (b *Bridge) Status() Snapshot {
	label := ""
	if b.sessionLabel != nil {
		label = b.sessionLabel()
	}
	snap := b.table.Snapshot()
	return Snapshot{
		Global:       snap.Global,
		Peers:        snap.Peers,
		PendingCount: snap.PendingCount,
		SessionLabel: label,
		Rollup:       snap.Rollup,
	}
}

// TriggersStatus returns the enabled/running flags for each trigger source
// (spec.md §6 "GET triggers_status").
func (b *Bridge) TriggersStatus() map[string]TriggerStatus {
	out := make(map[string]TriggerStatus, len(b.triggers))
	for k, v := range b.triggers {
		out[k] = v
	}
	return out
}

// CaptureSequence enqueues count ticks spaced by interval through the
// Arbiter (spec.md §6 "POST command").
func (b *Bridge) CaptureSequence(ctx context.Context, count int, interval time.Duration) {
	b.arbiter.CaptureSequence(ctx, count, interval)
}

// CaptureSingle enqueues one tick through the Arbiter (spec.md §6
// "POST single_capture").
func (b *Bridge) CaptureSingle(ctx context.Context) {
	b.arbiter.CaptureSingle(ctx)
}
