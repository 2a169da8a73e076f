// Package coordinator wires every master-side worker into one Run(ctx)
// entry point, following the re-architecture guidance in spec.md §9:
// "encapsulate Coordinator, Peer Handler, Bus Client, and sensor drivers as
// values passed to a Run(ctx) entry point; shutdown is by context
// cancellation, not by atexit hooks."
package coordinator

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helmcam/coordinator/internal/bus"
	"github.com/helmcam/coordinator/internal/camera"
	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/config"
	"github.com/helmcam/coordinator/internal/dashboard"
	"github.com/helmcam/coordinator/internal/gpio"
	"github.com/helmcam/coordinator/internal/heartbeat"
	"github.com/helmcam/coordinator/internal/imu"
	"github.com/helmcam/coordinator/internal/issuer"
	"github.com/helmcam/coordinator/internal/metrics"
	"github.com/helmcam/coordinator/internal/movement"
	"github.com/helmcam/coordinator/internal/pending"
	"github.com/helmcam/coordinator/internal/protocol"
	"github.com/helmcam/coordinator/internal/registry"
	"github.com/helmcam/coordinator/internal/responses"
	"github.com/helmcam/coordinator/internal/session"
	"github.com/helmcam/coordinator/internal/sweeper"
	"github.com/helmcam/coordinator/internal/trigger"
)

// Deps bundles the hardware/transport collaborators a Coordinator needs.
// Line, Camera, and Sensor may be nil (or an Unavailable implementation),
// matching spec.md §7's "coordinator may still start without local camera
// if configured (tracked as a capability flag)".
type Deps struct {
	Line   gpio.Line // sync-pulse output (gpio_pin)
	Edge   gpio.Line // line-edge trigger input (gpio_pin20), optional
	Camera camera.Driver
	Sensor imu.Sensor
	Clock  clock.Clock
}

// Coordinator holds every constructed worker for a master node's lifetime.
type Coordinator struct {
	cfg              *config.MasterConfig
	bus              *bus.Client
	table            *pending.Table
	registry         *registry.Registry
	issuer           *issuer.Issuer
	sweeper          *sweeper.Sweeper
	heartbeat        *heartbeat.Driver
	arbiter          *trigger.Arbiter
	detector         *movement.Detector
	sessions         *session.Grouper
	bridge           *dashboard.Bridge
	metrics          *metrics.CoordinatorMetrics
	movementTriggers chan struct{}
	edgeLine         gpio.Line
	log              *slog.Logger
}

// New constructs every worker but starts none of them.
func New(cfg *config.MasterConfig, deps Deps, reg prometheus.Registerer, log *slog.Logger) (*Coordinator, error) {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	busCfg := bus.Config{
		ClientID:       cfg.MasterID,
		Brokers:        []string{fmtBroker(cfg.BrokerHost, cfg.BrokerPort)},
		TopicCommands:  cfg.TopicCommands,
		TopicResponses: cfg.TopicResponses,
		QoS:            cfg.QoS,
		Keepalive:      cfg.Keepalive,
	}
	busClient, err := bus.New(busCfg, cfg.TopicResponses, log)
	if err != nil {
		return nil, err
	}

	peers := make([]protocol.PeerID, len(cfg.Slaves))
	for i, s := range cfg.Slaves {
		peers[i] = protocol.PeerID(s)
	}
	peerRegistry := registry.New(peers)
	global := &registry.GlobalStats{}
	table := pending.New(peerRegistry, global, clk, log, time.Duration(cfg.TimeoutMs)*time.Millisecond*10)

	sensor := deps.Sensor
	if sensor == nil {
		sensor = imu.Unavailable{Reason: "not configured"}
	}

	cmdIssuer := issuer.New(table, peerRegistry, busClient, clk, sensor, cfg.ExposureUs, cfg.TimeoutMs)

	sweep := sweeper.New(table, clk, 0)
	hb := heartbeat.New(cmdIssuer, busClient, 0, log)

	var sessions *session.Grouper
	var cam camera.Driver = deps.Camera
	if cam != nil {
		sessions = session.New(cfg.PhotoBaseDir, 0, defaultLocalInactivity, clk)
	} else {
		cam = camera.Unavailable{Reason: "not configured"}
	}

	m := metrics.NewCoordinatorMetrics(reg)

	arb := trigger.New(trigger.Config{
		Issuer:          cmdIssuer,
		Line:            deps.Line,
		Camera:          cam,
		Sensor:          sensor,
		Clock:           clk,
		Sessions:        sessions,
		LocalStats:      table,
		Log:             log,
		CameraOrdinal:   0,
		PulseDurationMs: cfg.PulseDurationMs,
		QueueDepth:      cfg.QueueDepth,
		BatchSize:       cfg.BatchSize,
		IMULogPath:      cfg.IMULogPath,
	})

	movementTriggers := make(chan struct{}, 1)
	detector := movement.New(sensor, clk, cfg.CaptureTriggers.IMUMovementThreshold,
		time.Duration(cfg.CaptureTriggers.IMUMovementCooldownS)*time.Second, movementTriggers)

	triggerStatus := map[string]dashboard.TriggerStatus{
		trigger.SourceTimer:    {Enabled: cfg.CaptureTriggers.TimerEnabled, Running: cfg.CaptureTriggers.TimerEnabled && cfg.CaptureTriggers.TimerIntervalSeconds > 0},
		trigger.SourceMovement: {Enabled: cfg.CaptureTriggers.IMUMovementEnabled, Running: cfg.CaptureTriggers.IMUMovementEnabled},
		trigger.SourceLineEdge: {Enabled: cfg.CaptureTriggers.GPIOPin20Enabled, Running: cfg.CaptureTriggers.GPIOPin20Enabled && deps.Edge != nil},
	}
	var sessionLabel func() string
	if sessions != nil {
		sessionLabel = sessions.Name
	}
	bridge := dashboard.New(table, peerRegistry, arb, triggerStatus, sessionLabel)

	return &Coordinator{
		cfg:              cfg,
		bus:              busClient,
		table:            table,
		registry:         peerRegistry,
		issuer:           cmdIssuer,
		sweeper:          sweep,
		heartbeat:        hb,
		arbiter:          arb,
		detector:         detector,
		sessions:         sessions,
		bridge:           bridge,
		metrics:          m,
		movementTriggers: movementTriggers,
		edgeLine:         deps.Edge,
		log:              log,
	}, nil
}

// defaultLocalInactivity mirrors the peer-side default session inactivity
// timeout for the master's own local session (spec.md §4.8).
const defaultLocalInactivity = 10 * time.Minute

// Bridge exposes the Dashboard Bridge for the HTTP facade.
func (c *Coordinator) Bridge() *dashboard.Bridge {
	return c.bridge
}

// Run starts every worker and blocks until ctx is cancelled, then tears
// down cleanly: pending entries are abandoned without writing timeout
// counters (spec.md §5).
func (c *Coordinator) Run(ctx context.Context) {
	defer c.table.Stop()
	defer c.table.AbandonAll()

	go c.bus.Run(ctx)
	go c.runResponseProcessor(ctx)
	go c.sweeper.Run(ctx)
	go c.heartbeat.Run(ctx)
	go c.arbiter.Run(ctx)
	go c.detector.Run(ctx)

	if c.cfg.CaptureTriggers.TimerEnabled {
		go c.arbiter.RunTimerFeed(ctx, time.Duration(c.cfg.CaptureTriggers.TimerIntervalSeconds)*time.Second)
	}
	if c.cfg.CaptureTriggers.IMUMovementEnabled {
		go c.arbiter.RunMovementFeed(ctx, c.movementTriggers)
	}
	if c.cfg.CaptureTriggers.GPIOPin20Enabled && c.edgeLine != nil {
		go c.arbiter.RunLineEdgeFeed(ctx, c.edgeLine)
	}

	<-ctx.Done()
}

func (c *Coordinator) runResponseProcessor(ctx context.Context) {
	proc := responses.New(c.table, c.log)
	for raw := range c.bus.Frames(ctx) {
		proc.HandleFrame(raw)
	}
}

func fmtBroker(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
