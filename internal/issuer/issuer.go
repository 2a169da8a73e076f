// Package issuer implements the Command Issuer (spec.md §4.2): it owns the
// CommandID counter, builds the wire envelope, inserts the PendingEntry, and
// publishes to the bus.
package issuer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/coordinatorerr"
	"github.com/helmcam/coordinator/internal/imu"
	"github.com/helmcam/coordinator/internal/pending"
	"github.com/helmcam/coordinator/internal/protocol"
	"github.com/helmcam/coordinator/internal/registry"
)

// Publisher is the subset of the Bus Client the Issuer depends on.
type Publisher interface {
	PublishCommand(ctx context.Context, cmd protocol.Command) error
}

// Issuer allocates CommandIDs, builds envelopes, and drives the Pending
// Table + bus publish. Safe for concurrent callers (spec.md §4.2).
type Issuer struct {
	nextID   atomic.Uint64
	table    *pending.Table
	registry *registry.Registry
	bus      Publisher
	clock    clock.Clock
	sensor   imu.Sensor

	exposureUs int
	timeoutMs  int
}

// New builds an Issuer. The counter starts at 1 per spec.md §3.
func New(table *pending.Table, reg *registry.Registry, bus Publisher, clk clock.Clock, sensor imu.Sensor, exposureUs, timeoutMs int) *Issuer {
	i := &Issuer{
		table:      table,
		registry:   reg,
		bus:        bus,
		clock:      clk,
		sensor:     sensor,
		exposureUs: exposureUs,
		timeoutMs:  timeoutMs,
	}
	i.nextID.Store(0)
	return i
}

// Issue allocates the next CommandID, builds the envelope, inserts the
// PendingEntry, and publishes it (spec.md §4.2). For a capture command the
// IMU is sampled here. On publish failure the just-inserted entry is rolled
// back and ErrNotConnected is returned.
func (i *Issuer) Issue(ctx context.Context, kind protocol.CommandKind, notes string) (protocol.CommandID, error) {
	var snap *protocol.IMUSnapshot
	if kind == protocol.KindCapture {
		s := i.sensor.Snapshot()
		snap = &s
	}
	return i.issue(ctx, kind, notes, snap)
}

// IssueCaptureWithIMU is like Issue(KindCapture, notes) but takes an
// already-sampled IMU snapshot instead of sampling the sensor again. The
// Trigger Arbiter uses this so one snapshot per tick feeds both the wire
// envelope and the local IMU log (spec.md §4.1).
func (i *Issuer) IssueCaptureWithIMU(ctx context.Context, notes string, snap protocol.IMUSnapshot) (protocol.CommandID, error) {
	return i.issue(ctx, protocol.KindCapture, notes, &snap)
}

func (i *Issuer) issue(ctx context.Context, kind protocol.CommandKind, notes string, snap *protocol.IMUSnapshot) (protocol.CommandID, error) {
	id := protocol.CommandID(i.nextID.Add(1))

	cmd := protocol.Command{
		ID:        id,
		Kind:      kind,
		TIssueNs:  i.clock.NowWallNs(),
		TimeoutMs: i.timeoutMs,
		Notes:     notes,
	}
	if kind == protocol.KindCapture {
		cmd.ExposureUs = i.exposureUs
		cmd.MasterIMU = snap
	}

	issuedAt := i.clock.NowMono()
	deadline := issuedAt.Add(time.Duration(i.timeoutMs) * time.Millisecond)
	i.table.Insert(id, kind, i.registry.Peers(), issuedAt, deadline)

	if err := i.bus.PublishCommand(ctx, cmd); err != nil {
		i.table.Remove(id)
		return 0, coordinatorerr.New(coordinatorerr.KindTransport, "issuer.Issue", fmt.Errorf("%w: %v", coordinatorerr.ErrNotConnected, err))
	}

	// Counted once per successful Issue, not per peer response (spec.md
	// §3/§8), so a multi-peer capture still contributes exactly 1 and a
	// rolled-back publish contributes 0.
	i.table.MarkIssued()

	return id, nil
}
