package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/gpio"
	"github.com/helmcam/coordinator/internal/protocol"
	"github.com/helmcam/coordinator/internal/session"
)

type fakeIssuer struct {
	mu    sync.Mutex
	calls []string
	next  uint64
	fail  bool
}

func (f *fakeIssuer) IssueCaptureWithIMU(ctx context.Context, notes string, snap protocol.IMUSnapshot) (protocol.CommandID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("not connected")
	}
	f.next++
	f.calls = append(f.calls, notes)
	return protocol.CommandID(f.next), nil
}

func (f *fakeIssuer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeLine struct {
	mu          sync.Mutex
	highCount   int
	lowCount    int
	edges       chan gpio.Edge
	watchErr    error
}

func (f *fakeLine) SetHigh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.highCount++
	return nil
}

func (f *fakeLine) SetLow(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lowCount++
	return nil
}

func (f *fakeLine) Read(ctx context.Context) (bool, error) { return false, nil }

func (f *fakeLine) WatchEdges(ctx context.Context) (<-chan gpio.Edge, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.edges, nil
}

func (f *fakeLine) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.highCount, f.lowCount
}

type fakeCamera struct {
	calls int32
	fail  bool
}

func (f *fakeCamera) Capture(ctx context.Context, dir, name string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return "", errors.New("sensor busy")
	}
	return filepath.Join(dir, name), nil
}

type fakeLocal struct {
	ok  int32
	err int32
}

func (f *fakeLocal) RecordLocalCapture(ok bool) {
	if ok {
		atomic.AddInt32(&f.ok, 1)
	} else {
		atomic.AddInt32(&f.err, 1)
	}
}

type fakeSensor struct{ snap protocol.IMUSnapshot }

func (f fakeSensor) Snapshot() protocol.IMUSnapshot { return f.snap }

func newTestArbiter(t *testing.T, iss *fakeIssuer, line *fakeLine, cam *fakeCamera, local *fakeLocal) (*Arbiter, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	clk := clock.NewFromClockwork(fc)
	sessions := session.New(t.TempDir(), 0, time.Hour, clk)

	a := New(Config{
		Issuer:          iss,
		Line:            line,
		Camera:          cam,
		Sensor:          fakeSensor{snap: protocol.IMUSnapshot{Available: true}},
		Clock:           clk,
		Sessions:        sessions,
		LocalStats:      local,
		Log:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		CameraOrdinal:   0,
		PulseDurationMs: 1,
	})
	return a, fc
}

func TestCaptureSingleRunsIssuePulseAndLocalCapture(t *testing.T) {
	iss := &fakeIssuer{}
	line := &fakeLine{edges: make(chan gpio.Edge, 1)}
	cam := &fakeCamera{}
	local := &fakeLocal{}
	a, _ := newTestArbiter(t, iss, line, cam, local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.CaptureSingle(ctx)

	require.Eventually(t, func() bool {
		return len(iss.Calls()) == 1 && atomic.LoadInt32(&cam.calls) == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { h, l := line.counts(); return h == 1 && l == 1 }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&local.ok))
}

func TestCaptureSequenceEnqueuesCountTicksWithSharedLabel(t *testing.T) {
	iss := &fakeIssuer{}
	line := &fakeLine{edges: make(chan gpio.Edge, 1)}
	cam := &fakeCamera{}
	local := &fakeLocal{}
	a, _ := newTestArbiter(t, iss, line, cam, local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.CaptureSequence(ctx, 3, time.Millisecond)

	require.Eventually(t, func() bool { return len(iss.Calls()) == 3 }, time.Second, 5*time.Millisecond)

	calls := iss.Calls()
	for _, c := range calls {
		require.Equal(t, "web_sequence_1", c)
	}
}

func TestCaptureLocalFailureDoesNotAbortOtherSteps(t *testing.T) {
	iss := &fakeIssuer{}
	line := &fakeLine{edges: make(chan gpio.Edge, 1)}
	cam := &fakeCamera{fail: true}
	local := &fakeLocal{}
	a, _ := newTestArbiter(t, iss, line, cam, local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.CaptureSingle(ctx)

	require.Eventually(t, func() bool {
		return len(iss.Calls()) == 1 && atomic.LoadInt32(&local.err) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLineEdgeDebounceSuppressesSecondEdgeWithinWindow(t *testing.T) {
	iss := &fakeIssuer{}
	line := &fakeLine{edges: make(chan gpio.Edge, 4)}
	cam := &fakeCamera{}
	local := &fakeLocal{}
	a, fc := newTestArbiter(t, iss, line, cam, local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.RunLineEdgeFeed(ctx, line)

	line.edges <- gpio.EdgeFalling
	require.Eventually(t, func() bool { return len(a.captureQueue) == 1 }, time.Second, 5*time.Millisecond)

	fc.Advance(200 * time.Millisecond)
	line.edges <- gpio.EdgeFalling
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, len(a.captureQueue), "second edge within 500ms debounce is suppressed")

	fc.Advance(400 * time.Millisecond)
	line.edges <- gpio.EdgeFalling
	require.Eventually(t, func() bool { return len(a.captureQueue) == 2 }, time.Second, 5*time.Millisecond)
}

func TestTimerFeedEnqueuesOnEachInterval(t *testing.T) {
	iss := &fakeIssuer{}
	line := &fakeLine{edges: make(chan gpio.Edge, 1)}
	cam := &fakeCamera{}
	local := &fakeLocal{}
	a, _ := newTestArbiter(t, iss, line, cam, local)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	go a.RunTimerFeed(ctx, 10*time.Millisecond)
	go a.Run(ctx)

	time.Sleep(70 * time.Millisecond)
	require.GreaterOrEqual(t, len(iss.Calls()), 2)
}

func TestMovementFeedForwardsTicks(t *testing.T) {
	iss := &fakeIssuer{}
	line := &fakeLine{edges: make(chan gpio.Edge, 1)}
	cam := &fakeCamera{}
	local := &fakeLocal{}
	a, _ := newTestArbiter(t, iss, line, cam, local)

	movement := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.RunMovementFeed(ctx, movement)
	go a.Run(ctx)

	movement <- struct{}{}

	require.Eventually(t, func() bool { return len(iss.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{SourceMovement}, iss.Calls())
}
