package issuer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/coordinatorerr"
	"github.com/helmcam/coordinator/internal/pending"
	"github.com/helmcam/coordinator/internal/protocol"
	"github.com/helmcam/coordinator/internal/registry"
)

type fakeSensor struct{ snap protocol.IMUSnapshot }

func (f fakeSensor) Snapshot() protocol.IMUSnapshot { return f.snap }

type fakePublisher struct {
	published []protocol.Command
	err       error
}

func (f *fakePublisher) PublishCommand(ctx context.Context, cmd protocol.Command) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, cmd)
	return nil
}

func newIssuer(t *testing.T, peers []protocol.PeerID, bus *fakePublisher) (*Issuer, *pending.Table, *registry.GlobalStats) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	clk := clock.NewFromClockwork(fc)
	reg := registry.New(peers)
	global := &registry.GlobalStats{}
	table := pending.New(reg, global, clk, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)
	t.Cleanup(table.Stop)
	iss := New(table, reg, bus, clk, fakeSensor{snap: protocol.IMUSnapshot{Available: true}}, 5000, 1500)
	return iss, table, global
}

func TestIssueAllocatesIncreasingIDs(t *testing.T) {
	bus := &fakePublisher{}
	iss, _, _ := newIssuer(t, []protocol.PeerID{"p1"}, bus)

	id1, err := iss.Issue(context.Background(), protocol.KindCapture, "timer")
	require.NoError(t, err)
	id2, err := iss.Issue(context.Background(), protocol.KindCapture, "timer")
	require.NoError(t, err)

	require.Equal(t, protocol.CommandID(1), id1)
	require.Equal(t, protocol.CommandID(2), id2)
	require.Len(t, bus.published, 2)
}

func TestIssueCapturesIncludeIMU(t *testing.T) {
	bus := &fakePublisher{}
	iss, _, _ := newIssuer(t, []protocol.PeerID{"p1"}, bus)

	_, err := iss.Issue(context.Background(), protocol.KindCapture, "timer")
	require.NoError(t, err)
	require.NotNil(t, bus.published[0].MasterIMU)
	require.Equal(t, 5000, bus.published[0].ExposureUs)
}

func TestIssuePollOmitsIMU(t *testing.T) {
	bus := &fakePublisher{}
	iss, _, _ := newIssuer(t, []protocol.PeerID{"p1"}, bus)

	_, err := iss.Issue(context.Background(), protocol.KindPoll, "heartbeat")
	require.NoError(t, err)
	require.Nil(t, bus.published[0].MasterIMU)
}

func TestIssuePublishFailureRollsBackPendingEntry(t *testing.T) {
	bus := &fakePublisher{err: errors.New("socket closed")}
	iss, table, global := newIssuer(t, []protocol.PeerID{"p1"}, bus)

	_, err := iss.Issue(context.Background(), protocol.KindCapture, "timer")
	require.Error(t, err)
	require.ErrorIs(t, err, coordinatorerr.ErrNotConnected)
	require.Equal(t, 0, table.Count())
	require.EqualValues(t, 0, global.TotalCommands) // rolled-back publish is not a successful Issue
}

func TestIssueIncrementsTotalCommandsOncePerIssueRegardlessOfPeerCount(t *testing.T) {
	bus := &fakePublisher{}
	iss, _, global := newIssuer(t, []protocol.PeerID{"p1", "p2", "p3"}, bus)

	_, err := iss.Issue(context.Background(), protocol.KindCapture, "timer")
	require.NoError(t, err)
	require.EqualValues(t, 1, global.TotalCommands) // one Issue fanned out to 3 peers still counts once

	_, err = iss.Issue(context.Background(), protocol.KindPoll, "heartbeat")
	require.NoError(t, err)
	require.EqualValues(t, 2, global.TotalCommands) // polls count too (spec.md §3)
}

func TestIssueCaptureWithIMUUsesSuppliedSnapshot(t *testing.T) {
	bus := &fakePublisher{}
	iss, _, _ := newIssuer(t, []protocol.PeerID{"p1"}, bus)

	snap := protocol.IMUSnapshot{Available: true, AccelX: 9.81}
	_, err := iss.IssueCaptureWithIMU(context.Background(), "line_edge", snap)
	require.NoError(t, err)
	require.Equal(t, &snap, bus.published[0].MasterIMU)
}

func TestIssueEmptyFleetCompletesImmediately(t *testing.T) {
	bus := &fakePublisher{}
	iss, table, global := newIssuer(t, nil, bus)

	id, err := iss.Issue(context.Background(), protocol.KindCapture, "timer")
	require.NoError(t, err)
	require.Equal(t, protocol.CommandID(1), id)
	require.Equal(t, 0, table.Count())
	require.EqualValues(t, 1, global.TotalCommands) // slaves=[] still counts as a successful Issue
}
