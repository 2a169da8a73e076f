// Package trigger implements the Trigger Arbiter (spec.md §4.1): it fans in
// the four trigger sources into one FIFO queue, and for each tick issues
// the capture command, drives the sync-line pulse, and runs the local
// camera capture concurrently, joining all three before accepting the next
// tick.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/helmcam/coordinator/internal/camera"
	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/gpio"
	"github.com/helmcam/coordinator/internal/imu"
	"github.com/helmcam/coordinator/internal/protocol"
	"github.com/helmcam/coordinator/internal/session"
)

// Source labels carried into the Issuer as "notes", matching spec.md §4.1's
// opaque trigger_source label used for logging and per-session notes.
const (
	SourceTimer    = "timer"
	SourceMovement = "movement"
	SourceLineEdge = "line_edge"
)

// Issuer is the subset of internal/issuer.Issuer the Arbiter depends on.
type Issuer interface {
	IssueCaptureWithIMU(ctx context.Context, notes string, snap protocol.IMUSnapshot) (protocol.CommandID, error)
}

// LocalCaptureRecorder is the subset of internal/pending.Table the Arbiter
// uses to account the master's own camera outcome (spec.md §4.1 item 3).
type LocalCaptureRecorder interface {
	RecordLocalCapture(ok bool)
}

type tick struct {
	source string
}

// Arbiter owns the central trigger queue and the per-tick fan-out. Build one
// with New, start its feeder loops and its own Run, and drive sequences
// through CaptureSequence/CaptureSingle (spec.md §4.9).
type Arbiter struct {
	issuer   Issuer
	line     gpio.Line
	cam      camera.Driver
	sensor   imu.Sensor
	clock    clock.Clock
	sessions *session.Grouper
	imuLog   *imuLog
	local    LocalCaptureRecorder
	log      *slog.Logger

	cameraOrdinal   int
	pulseDurationMs int
	captureQueue    chan tick
	pool            pond.Pool // bounds in-flight ticks to BatchSize
	tickPool        pond.Pool // runs each tick's 3 fan-out steps concurrently
	webSeq          atomic.Uint64
}

// Config bundles the Arbiter's static dependencies.
type Config struct {
	Issuer          Issuer
	Line            gpio.Line
	Camera          camera.Driver
	Sensor          imu.Sensor
	Clock           clock.Clock
	Sessions        *session.Grouper
	LocalStats      LocalCaptureRecorder
	Log             *slog.Logger
	CameraOrdinal   int
	PulseDurationMs int
	// QueueDepth bounds the central trigger queue (design notes §9: "a
	// single bounded queue consumed by the Arbiter"). Defaults to 8.
	QueueDepth int
	// BatchSize bounds how many ticks may be mid-flight at once. Defaults
	// to 1, matching spec.md §4.1's default "at most one capture issuance
	// in flight at any moment".
	BatchSize int
	// IMULogPath is the append-only JSON array file for the master
	// session's IMU log (spec.md §6 "IMU log (master session)").
	IMULogPath string
}

// New builds an Arbiter. It does not start any goroutines.
func New(cfg Config) *Arbiter {
	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = 8
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	return &Arbiter{
		issuer:          cfg.Issuer,
		line:            cfg.Line,
		cam:             cfg.Camera,
		sensor:          cfg.Sensor,
		clock:           cfg.Clock,
		sessions:        cfg.Sessions,
		imuLog:          newIMULog(cfg.IMULogPath),
		local:           cfg.LocalStats,
		log:             cfg.Log,
		cameraOrdinal:   cfg.CameraOrdinal,
		pulseDurationMs: cfg.PulseDurationMs,
		captureQueue:    make(chan tick, queueDepth),
		pool:            pond.NewPool(batchSize),
		tickPool:        pond.NewPool(3 * batchSize),
	}
}

// enqueue pushes a tick onto the central queue, blocking if it is full. Feed
// loops (timer, movement, line-edge) call this directly.
func (a *Arbiter) enqueue(ctx context.Context, source string) {
	select {
	case a.captureQueue <- tick{source: source}:
	case <-ctx.Done():
	}
}

// CaptureSingle enqueues one tick labelled by source, for the Dashboard
// Bridge's single_capture endpoint (spec.md §4.9).
func (a *Arbiter) CaptureSingle(ctx context.Context) {
	a.enqueue(ctx, "web")
}

// CaptureSequence enqueues count sequential ticks spaced by interval,
// labelled "web_sequence_N" (spec.md §4.1, §4.9). It is non-blocking:
// pacing happens in a background goroutine that stops early on ctx
// cancellation, matching the "interruptible only by shutdown" fairness
// rule.
func (a *Arbiter) CaptureSequence(ctx context.Context, count int, interval time.Duration) {
	n := a.webSeq.Add(1)
	go func() {
		for i := 0; i < count; i++ {
			source := fmt.Sprintf("web_sequence_%d", n)
			a.enqueue(ctx, source)
			if i < count-1 && interval > 0 {
				select {
				case <-time.After(interval):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// Run drains the central queue, processing one tick's fan-out at a time
// (or up to BatchSize concurrently), until ctx is cancelled.
func (a *Arbiter) Run(ctx context.Context) {
	defer a.pool.StopAndWait()
	defer a.tickPool.StopAndWait()

	for {
		select {
		case <-ctx.Done():
			return
		case tk := <-a.captureQueue:
			a.pool.Submit(func() { a.processTick(ctx, tk) })
		}
	}
}

// processTick performs the three per-tick actions concurrently and joins
// them before returning, so the next tick is only picked up once this one's
// work is fully accounted for (spec.md §4.1).
func (a *Arbiter) processTick(ctx context.Context, tk tick) {
	snap := a.sensor.Snapshot()

	group := a.tickPool.NewGroupContext(ctx)

	group.SubmitErr(func() error {
		id, err := a.issuer.IssueCaptureWithIMU(ctx, tk.source, snap)
		if err != nil {
			a.log.Warn("tick issue failed", slog.String("source", tk.source), slog.String("error", err.Error()))
			return err
		}
		if a.imuLog != nil {
			if err := a.imuLog.Append(id, a.clock.NowWallNs(), snap); err != nil {
				a.log.Warn("imu log append failed", slog.Uint64("command_id", uint64(id)), slog.String("error", err.Error()))
			}
		}
		return nil
	})

	group.SubmitErr(func() error {
		return a.drivePulse(ctx, tk.source)
	})

	group.SubmitErr(func() error {
		return a.captureLocal(ctx, tk.source)
	})

	// Per spec.md §7 "Propagation policy", a failing step never aborts the
	// others within a tick; errors are already logged at their origin.
	_ = group.Wait()
}

// drivePulse sets the sync line high for pulse_duration_ms, then low.
func (a *Arbiter) drivePulse(ctx context.Context, source string) error {
	if a.line == nil {
		return nil
	}
	if err := a.line.SetHigh(ctx); err != nil {
		a.log.Warn("sync pulse set-high failed", slog.String("source", source), slog.String("error", err.Error()))
		return err
	}
	select {
	case <-time.After(time.Duration(a.pulseDurationMs) * time.Millisecond):
	case <-ctx.Done():
	}
	if err := a.line.SetLow(ctx); err != nil {
		a.log.Warn("sync pulse set-low failed", slog.String("source", source), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// captureLocal runs the master's own camera capture into its own session
// directory, accounting the outcome in GlobalStats.
func (a *Arbiter) captureLocal(ctx context.Context, source string) error {
	if a.cam == nil || a.sessions == nil {
		return nil
	}

	dir, err := a.sessions.Resolve()
	if err != nil {
		a.local.RecordLocalCapture(false)
		a.log.Warn("local session resolve failed", slog.String("error", err.Error()))
		return err
	}

	name := fmt.Sprintf("cam%d_%s_%d.jpg", a.cameraOrdinal, time.Unix(0, a.clock.NowWallNs()).Format("150405"), a.sessions.PhotosInSession()+1)

	path, err := a.cam.Capture(ctx, dir, name)
	if err != nil {
		a.local.RecordLocalCapture(false)
		_ = a.sessions.RecordFailure(err.Error())
		a.log.Warn("local capture failed", slog.String("source", source), slog.String("error", err.Error()))
		return err
	}

	if _, err := a.sessions.RecordPhoto(path); err != nil {
		a.log.Warn("local session log write failed", slog.String("error", err.Error()))
	}
	a.local.RecordLocalCapture(true)
	return nil
}
