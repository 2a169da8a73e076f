package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMasterConfigValidateRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     MasterConfig
		wantErr string
	}{
		{
			name:    "missing master id",
			cfg:     MasterConfig{BrokerHost: "localhost"},
			wantErr: "master_id is required",
		},
		{
			name:    "missing broker host",
			cfg:     MasterConfig{MasterID: "m1"},
			wantErr: "broker_host is required",
		},
		{
			name: "ok minimal",
			cfg:  MasterConfig{MasterID: "m1", BrokerHost: "localhost"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestMasterConfigValidateAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := MasterConfig{MasterID: "m1", BrokerHost: "localhost"}
	require.NoError(t, cfg.Validate())

	require.Equal(t, 9092, cfg.BrokerPort)
	require.Equal(t, defaultKeepalive, cfg.Keepalive)
	require.Equal(t, defaultTopicCommands, cfg.TopicCommands)
	require.Equal(t, defaultTopicResponses, cfg.TopicResponses)
	require.Equal(t, defaultGPIOPin, cfg.GPIOPin)
	require.Equal(t, defaultPulseDurationMs, cfg.PulseDurationMs)
	require.Equal(t, defaultExposureUs, cfg.ExposureUs)
	require.Equal(t, defaultTimeoutMs, cfg.TimeoutMs)
	require.Equal(t, defaultPhotoBaseDir, cfg.PhotoBaseDir)
	require.Equal(t, defaultIMUMovementThreshold, cfg.CaptureTriggers.IMUMovementThreshold)
	require.Equal(t, 30, cfg.CaptureTriggers.IMUMovementCooldownS)
	require.Equal(t, defaultGPIOPin20Pin, cfg.CaptureTriggers.GPIOPin20Pin)
	require.Equal(t, defaultWebPort, cfg.WebPort)
	require.Equal(t, defaultLogDir, cfg.LogDir)
	require.Equal(t, defaultQueueDepth, cfg.QueueDepth)
	require.Equal(t, defaultBatchSize, cfg.BatchSize)
}

func TestMasterConfigValidateDoesNotOverrideProvidedValues(t *testing.T) {
	t.Parallel()

	cfg := MasterConfig{
		MasterID:         "m1",
		BrokerHost:       "localhost",
		BrokerPort:       19092,
		KeepaliveSeconds: 5,
		TopicCommands:    "cmds",
		TopicResponses:   "resps",
		GPIOPin:          4,
		PulseDurationMs:  50,
		ExposureUs:       20000,
		TimeoutMs:        3000,
		PhotoBaseDir:     "/data/photos",
		WebPort:          9090,
		LogDir:           "/data/logs",
		QueueDepth:       16,
		BatchSize:        2,
	}
	require.NoError(t, cfg.Validate())

	require.Equal(t, 19092, cfg.BrokerPort)
	require.Equal(t, 5*time.Second, cfg.Keepalive)
	require.Equal(t, "cmds", cfg.TopicCommands)
	require.Equal(t, "resps", cfg.TopicResponses)
	require.Equal(t, 4, cfg.GPIOPin)
	require.Equal(t, 50, cfg.PulseDurationMs)
	require.Equal(t, 20000, cfg.ExposureUs)
	require.Equal(t, 3000, cfg.TimeoutMs)
	require.Equal(t, "/data/photos", cfg.PhotoBaseDir)
	require.Equal(t, 9090, cfg.WebPort)
	require.Equal(t, "/data/logs", cfg.LogDir)
	require.Equal(t, 16, cfg.QueueDepth)
	require.Equal(t, 2, cfg.BatchSize)
}

func TestPeerConfigValidateRequiredFields(t *testing.T) {
	t.Parallel()

	err := (&PeerConfig{BrokerHost: "localhost"}).Validate()
	require.ErrorContains(t, err, "client_id is required")

	err = (&PeerConfig{ClientID: "p1"}).Validate()
	require.ErrorContains(t, err, "broker_host is required")
}

func TestPeerConfigValidateAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := PeerConfig{ClientID: "p1", BrokerHost: "localhost"}
	require.NoError(t, cfg.Validate())

	require.Equal(t, defaultSessionInactivity, cfg.SessionInactivityTimeout)
	require.Equal(t, defaultPhotoBaseDir, cfg.PhotoBaseDir)
	require.Equal(t, defaultTopicCommands, cfg.TopicCommands)
	require.Equal(t, defaultTopicResponses, cfg.TopicResponses)
	require.Equal(t, defaultLogDir, cfg.LogDir)
}

func TestStartupDelayConvertsMillisecondsToDuration(t *testing.T) {
	t.Parallel()

	master := MasterConfig{MasterID: "m1", BrokerHost: "localhost", StartupDelayMs: 2500}
	require.Equal(t, 2500*time.Millisecond, master.StartupDelay())

	peer := PeerConfig{ClientID: "p1", BrokerHost: "localhost", StartupDelayMs: 1000}
	require.Equal(t, time.Second, peer.StartupDelay())

	require.Zero(t, (&PeerConfig{}).StartupDelay())
}

func TestLoadMasterReadsAndValidatesJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "master.json")
	body := `{
		"master_id": "m1",
		"slaves": ["p1", "p2"],
		"broker_host": "localhost",
		"capture_triggers": {"timer_enabled": true, "timer_interval_seconds": 5}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadMaster(path)
	require.NoError(t, err)
	require.Equal(t, "m1", cfg.MasterID)
	require.Equal(t, []string{"p1", "p2"}, cfg.Slaves)
	require.True(t, cfg.CaptureTriggers.TimerEnabled)
	require.Equal(t, 5, cfg.CaptureTriggers.TimerIntervalSeconds)
	require.Equal(t, defaultTopicCommands, cfg.TopicCommands)
}

func TestLoadMasterRejectsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadMaster(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadPeerReadsAndValidatesJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "peer.json")
	body := `{"client_id": "p1", "broker_host": "localhost", "camera_ordinal": 2}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadPeer(path)
	require.NoError(t, err)
	require.Equal(t, "p1", cfg.ClientID)
	require.Equal(t, 2, cfg.CameraOrdinal)
	require.Equal(t, defaultSessionInactivity, cfg.SessionInactivityTimeout)
}
