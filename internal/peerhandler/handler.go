// Package peerhandler implements the Peer Handler (spec.md §4.7) that runs
// on each capture node: it consumes inbound commands from the Bus Client,
// suppresses duplicates, resolves the session directory, runs the local
// camera, and publishes a Response envelope.
package peerhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/helmcam/coordinator/internal/camera"
	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/metrics"
	"github.com/helmcam/coordinator/internal/protocol"
	"github.com/helmcam/coordinator/internal/session"
)

// Publisher is the subset of the Bus Client the handler depends on.
type Publisher interface {
	PublishResponse(ctx context.Context, resp protocol.Response) error
}

// Handler owns the last-seen-id de-duplication state and the last-capture
// snapshot reported on poll (spec.md §4.7).
type Handler struct {
	clientID protocol.PeerID
	cam      camera.Driver
	sessions *session.Grouper
	clock    clock.Clock
	bus      Publisher
	log      *slog.Logger
	metrics  *metrics.PeerMetrics

	mu          sync.Mutex
	lastSeenID  protocol.CommandID
	hasSeen     bool
	lastCapture protocol.Response
}

// New builds a Handler for one capture node.
func New(clientID protocol.PeerID, cam camera.Driver, sessions *session.Grouper, clk clock.Clock, bus Publisher, log *slog.Logger, m *metrics.PeerMetrics) *Handler {
	return &Handler{clientID: clientID, cam: cam, sessions: sessions, clock: clk, bus: bus, log: log, metrics: m}
}

// HandleFrame decodes one inbound command frame and dispatches it. Malformed
// JSON is dropped with a warning (spec.md §7 "Malformed message").
func (h *Handler) HandleFrame(ctx context.Context, raw []byte) {
	var cmd protocol.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.log.Warn("malformed command frame dropped", slog.String("error", err.Error()))
		return
	}
	h.Handle(ctx, cmd)
}

// Handle applies the duplicate-suppression rule and dispatches by kind
// (spec.md §4.7).
func (h *Handler) Handle(ctx context.Context, cmd protocol.Command) {
	h.mu.Lock()
	if h.hasSeen && cmd.ID == h.lastSeenID {
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.DuplicatesSuppressed.Inc()
		}
		h.log.Debug("duplicate command ignored", slog.Uint64("command_id", uint64(cmd.ID)))
		return
	}
	h.lastSeenID = cmd.ID
	h.hasSeen = true
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.CommandsReceived.WithLabelValues(string(cmd.Kind)).Inc()
	}

	switch cmd.Kind {
	case protocol.KindPoll:
		h.respondPoll(ctx, cmd)
	default:
		h.respondCapture(ctx, cmd)
	}
}

// respondPoll answers immediately with the last-known-capture snapshot
// (spec.md §4.7 "Poll kind").
func (h *Handler) respondPoll(ctx context.Context, cmd protocol.Command) {
	h.mu.Lock()
	last := h.lastCapture
	h.mu.Unlock()

	resp := protocol.Response{
		ID:              cmd.ID,
		Client:          h.clientID,
		Status:          protocol.StatusOnline,
		StartedNs:       last.StartedNs,
		FinishedNs:      last.FinishedNs,
		File:            last.File,
		SessionDir:      last.SessionDir,
		PhotosInSession: h.sessions.PhotosInSession(),
	}
	if resp.SessionDir == "" {
		resp.SessionDir = h.sessions.Name()
	}
	h.publish(ctx, resp)
}

// respondCapture resolves the session, derives the filename, runs the
// camera, and publishes the outcome (spec.md §4.7 "Capture kind").
func (h *Handler) respondCapture(ctx context.Context, cmd protocol.Command) {
	startedNs := h.clock.NowWallNs()

	dir, err := h.sessions.Resolve()
	if err != nil {
		h.captureFailed(ctx, cmd, startedNs, err)
		return
	}

	name := fmt.Sprintf("cam%d_%s_%06d.jpg", h.sessions.CameraOrdinal(), time.Unix(0, startedNs).Format("150405"), cmd.ID)

	path, err := h.cam.Capture(ctx, dir, name)
	if err != nil {
		h.captureFailed(ctx, cmd, startedNs, err)
		return
	}

	if _, err := h.sessions.RecordPhoto(path); err != nil {
		h.log.Warn("session log write failed", slog.String("error", err.Error()))
	}

	finishedNs := h.clock.NowWallNs()
	resp := protocol.Response{
		ID:              cmd.ID,
		Client:          h.clientID,
		Status:          protocol.StatusOK,
		StartedNs:       startedNs,
		FinishedNs:      finishedNs,
		File:            path,
		JitterUs:        (startedNs - cmd.TIssueNs) / 1000,
		SessionDir:      h.sessions.Name(),
		PhotosInSession: h.sessions.PhotosInSession(),
	}

	h.mu.Lock()
	h.lastCapture = resp
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.CapturesOK.Inc()
	}
	h.publish(ctx, resp)
}

func (h *Handler) captureFailed(ctx context.Context, cmd protocol.Command, startedNs int64, err error) {
	_ = h.sessions.RecordFailure(err.Error())
	if h.metrics != nil {
		h.metrics.CapturesError.Inc()
	}
	h.log.Warn("local capture failed", slog.Uint64("command_id", uint64(cmd.ID)), slog.String("error", err.Error()))

	resp := protocol.Response{
		ID:         cmd.ID,
		Client:     h.clientID,
		Status:     protocol.StatusError,
		StartedNs:  startedNs,
		FinishedNs: h.clock.NowWallNs(),
		Error:      err.Error(),
	}
	h.publish(ctx, resp)
}

func (h *Handler) publish(ctx context.Context, resp protocol.Response) {
	if err := h.bus.PublishResponse(ctx, resp); err != nil {
		if h.metrics != nil {
			h.metrics.ResponsePublishErr.Inc()
		}
		h.log.Warn("response publish failed", slog.Uint64("command_id", uint64(resp.ID)), slog.String("error", err.Error()))
	}
}

// Run drains frames until ctx is cancelled, dispatching each one.
func (h *Handler) Run(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				return
			}
			h.HandleFrame(ctx, raw)
		}
	}
}
