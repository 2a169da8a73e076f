// Package config loads and validates the JSON configuration recognized by
// the master coordinator and the peer daemon (spec.md §6 "Environment
// inputs"). It follows the teacher's Validate()-fills-defaults pattern
// (telemetry/state-ingest/pkg/server.Config) rather than a separate
// DefaultConfig constructor.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	defaultKeepalive            = 30 * time.Second
	defaultTopicCommands        = "helmcam_commands"
	defaultTopicResponses       = "helmcam_responses"
	defaultGPIOPin              = 17
	defaultPulseDurationMs      = 20
	defaultPulseIntervalMs      = 0
	defaultExposureUs           = 10000
	defaultTimeoutMs            = 1500
	defaultPhotoBaseDir         = "/var/lib/helmcam/photos"
	defaultTimerIntervalSeconds = 0
	defaultIMUMovementThreshold = 2.0
	defaultIMUMovementCooldown  = 30 * time.Second
	defaultGPIOPin20Pin         = 27
	defaultWebPort              = 8080
	defaultLogDir               = "/var/log/helmcam"
	defaultStartupDelay         = 0
	defaultSessionInactivity    = 10 * time.Minute
	defaultQueueDepth           = 8
	defaultBatchSize            = 1
)

// CaptureTriggers mirrors spec.md §6's nested "capture_triggers" block.
type CaptureTriggers struct {
	TimerEnabled         bool    `json:"timer_enabled"`
	TimerIntervalSeconds int     `json:"timer_interval_seconds"`
	IMUMovementEnabled   bool    `json:"imu_movement_enabled"`
	IMUMovementThreshold float64 `json:"imu_movement_threshold"`
	IMUMovementCooldownS int     `json:"imu_movement_cooldown_seconds"`
	GPIOPin20Enabled     bool    `json:"gpio_pin20_enabled"`
	GPIOPin20Pin         int     `json:"gpio_pin20_pin"`
}

// MasterConfig is the JSON document consumed by helmcam-masterd.
type MasterConfig struct {
	MasterID string   `json:"master_id"`
	Slaves   []string `json:"slaves"`

	// Optional configuration.
	BrokerHost       string          `json:"broker_host"`
	BrokerPort       int             `json:"broker_port"`
	Keepalive        time.Duration   `json:"-"`
	KeepaliveSeconds int             `json:"keepalive_seconds"`
	QoS              int             `json:"qos"`
	TopicCommands    string          `json:"topic_commands"`
	TopicResponses   string          `json:"topic_responses"`
	GPIOPin          int             `json:"gpio_pin"`
	PulseDurationMs  int             `json:"pulse_duration_ms"`
	PulseIntervalMs  int             `json:"pulse_interval_ms"`
	ExposureUs       int             `json:"exposure_us"`
	TimeoutMs        int             `json:"timeout_ms"`
	PhotoBaseDir     string          `json:"photo_base_dir"`
	CaptureTriggers  CaptureTriggers `json:"capture_triggers"`
	WebPort          int             `json:"web_port"`
	LogDir           string          `json:"log_dir"`
	StartupDelayMs   int             `json:"startup_delay_ms"`
	QueueDepth       int             `json:"queue_depth"`
	BatchSize        int             `json:"batch_size"`
	IMULogPath       string          `json:"imu_log_path"`
}

// Validate fills in zero-valued optional fields with their documented
// defaults and rejects a config missing required identity/topology fields.
func (c *MasterConfig) Validate() error {
	if c.MasterID == "" {
		return errors.New("config: master_id is required")
	}
	if c.BrokerHost == "" {
		return errors.New("config: broker_host is required")
	}

	// Optional configuration.
	if c.BrokerPort <= 0 {
		c.BrokerPort = 9092
	}
	if c.KeepaliveSeconds > 0 {
		c.Keepalive = time.Duration(c.KeepaliveSeconds) * time.Second
	} else {
		c.Keepalive = defaultKeepalive
	}
	if c.TopicCommands == "" {
		c.TopicCommands = defaultTopicCommands
	}
	if c.TopicResponses == "" {
		c.TopicResponses = defaultTopicResponses
	}
	if c.GPIOPin <= 0 {
		c.GPIOPin = defaultGPIOPin
	}
	if c.PulseDurationMs <= 0 {
		c.PulseDurationMs = defaultPulseDurationMs
	}
	if c.ExposureUs <= 0 {
		c.ExposureUs = defaultExposureUs
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = defaultTimeoutMs
	}
	if c.PhotoBaseDir == "" {
		c.PhotoBaseDir = defaultPhotoBaseDir
	}
	if c.CaptureTriggers.IMUMovementThreshold <= 0 {
		c.CaptureTriggers.IMUMovementThreshold = defaultIMUMovementThreshold
	}
	if c.CaptureTriggers.IMUMovementCooldownS <= 0 {
		c.CaptureTriggers.IMUMovementCooldownS = int(defaultIMUMovementCooldown / time.Second)
	}
	if c.CaptureTriggers.GPIOPin20Pin <= 0 {
		c.CaptureTriggers.GPIOPin20Pin = defaultGPIOPin20Pin
	}
	if c.WebPort <= 0 {
		c.WebPort = defaultWebPort
	}
	if c.LogDir == "" {
		c.LogDir = defaultLogDir
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return nil
}

// StartupDelay returns the configured startup delay as a Duration.
func (c *MasterConfig) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelayMs) * time.Millisecond
}

// PeerConfig is the JSON document consumed by helmcam-peerd.
type PeerConfig struct {
	ClientID string `json:"client_id"`

	// Optional configuration.
	BrokerHost               string        `json:"broker_host"`
	BrokerPort               int           `json:"broker_port"`
	Keepalive                time.Duration `json:"-"`
	KeepaliveSeconds         int           `json:"keepalive_seconds"`
	QoS                      int           `json:"qos"`
	TopicCommands            string        `json:"topic_commands"`
	TopicResponses           string        `json:"topic_responses"`
	PhotoBaseDir             string        `json:"photo_base_dir"`
	CameraOrdinal            int           `json:"camera_ordinal"`
	SessionInactivityTimeout time.Duration `json:"-"`
	SessionInactivitySeconds int           `json:"session_inactivity_timeout_seconds"`
	LogDir                   string        `json:"log_dir"`
	StartupDelayMs           int           `json:"startup_delay_ms"`
}

// Validate fills in zero-valued optional fields with their documented
// defaults and rejects a config missing a client identity.
func (c *PeerConfig) Validate() error {
	if c.ClientID == "" {
		return errors.New("config: client_id is required")
	}
	if c.BrokerHost == "" {
		return errors.New("config: broker_host is required")
	}

	// Optional configuration.
	if c.BrokerPort <= 0 {
		c.BrokerPort = 9092
	}
	if c.KeepaliveSeconds > 0 {
		c.Keepalive = time.Duration(c.KeepaliveSeconds) * time.Second
	} else {
		c.Keepalive = defaultKeepalive
	}
	if c.TopicCommands == "" {
		c.TopicCommands = defaultTopicCommands
	}
	if c.TopicResponses == "" {
		c.TopicResponses = defaultTopicResponses
	}
	if c.PhotoBaseDir == "" {
		c.PhotoBaseDir = defaultPhotoBaseDir
	}
	if c.SessionInactivitySeconds > 0 {
		c.SessionInactivityTimeout = time.Duration(c.SessionInactivitySeconds) * time.Second
	} else {
		c.SessionInactivityTimeout = defaultSessionInactivity
	}
	if c.LogDir == "" {
		c.LogDir = defaultLogDir
	}
	return nil
}

// StartupDelay returns the configured startup delay as a Duration.
func (c *PeerConfig) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelayMs) * time.Millisecond
}

// LoadMaster reads and validates a MasterConfig from a JSON file.
func LoadMaster(path string) (*MasterConfig, error) {
	var cfg MasterConfig
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadPeer reads and validates a PeerConfig from a JSON file.
func LoadPeer(path string) (*PeerConfig, error) {
	var cfg PeerConfig
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
