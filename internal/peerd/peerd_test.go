package peerd

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/helmcam/coordinator/internal/config"
)

func testConfig(t *testing.T) *config.PeerConfig {
	t.Helper()
	cfg := &config.PeerConfig{
		ClientID:      "p1",
		BrokerHost:    "localhost",
		PhotoBaseDir:  t.TempDir(),
		CameraOrdinal: 1,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewWiresBusAndHandlerWithoutError(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := New(cfg, Deps{}, prometheus.NewRegistry(), log)
	require.NoError(t, err)
	require.NotNil(t, p.handler)
}

func TestRunReturnsPromptlyOnContextCancellation(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := New(cfg, Deps{}, prometheus.NewRegistry(), log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
