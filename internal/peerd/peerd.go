// Package peerd wires the capture-node side workers (Bus Client, Peer
// Handler, Session Grouper) into one Run(ctx) entry point, mirroring
// internal/coordinator's shape for the master side (spec.md §9).
package peerd

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helmcam/coordinator/internal/bus"
	"github.com/helmcam/coordinator/internal/camera"
	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/config"
	"github.com/helmcam/coordinator/internal/metrics"
	"github.com/helmcam/coordinator/internal/peerhandler"
	"github.com/helmcam/coordinator/internal/protocol"
	"github.com/helmcam/coordinator/internal/session"
)

// Deps bundles the hardware collaborators a peer daemon needs.
type Deps struct {
	Camera camera.Driver
	Clock  clock.Clock
}

// Peerd holds every constructed worker for a capture node's lifetime.
type Peerd struct {
	cfg     *config.PeerConfig
	bus     *bus.Client
	handler *peerhandler.Handler
}

// New constructs the peer daemon's workers but starts none of them.
func New(cfg *config.PeerConfig, deps Deps, reg prometheus.Registerer, log *slog.Logger) (*Peerd, error) {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	busCfg := bus.Config{
		ClientID:       cfg.ClientID,
		Brokers:        []string{cfg.BrokerHost + ":" + strconv.Itoa(cfg.BrokerPort)},
		TopicCommands:  cfg.TopicCommands,
		TopicResponses: cfg.TopicResponses,
		QoS:            cfg.QoS,
		Keepalive:      cfg.Keepalive,
	}
	busClient, err := bus.New(busCfg, cfg.TopicCommands, log)
	if err != nil {
		return nil, err
	}

	cam := deps.Camera
	if cam == nil {
		cam = camera.Unavailable{Reason: "not configured"}
	}

	sessions := session.New(cfg.PhotoBaseDir, cfg.CameraOrdinal, cfg.SessionInactivityTimeout, clk)
	m := metrics.NewPeerMetrics(reg)
	handler := peerhandler.New(protocol.PeerID(cfg.ClientID), cam, sessions, clk, busClient, log, m)

	return &Peerd{cfg: cfg, bus: busClient, handler: handler}, nil
}

// Run starts the bus connectivity loop and the Peer Handler's frame
// dispatch, blocking until ctx is cancelled.
func (p *Peerd) Run(ctx context.Context) {
	go p.bus.Run(ctx)
	p.handler.Run(ctx, p.bus.Frames(ctx))
}
