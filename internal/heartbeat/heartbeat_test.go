package heartbeat

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helmcam/coordinator/internal/protocol"
)

type fakeIssuer struct {
	calls int
}

func (f *fakeIssuer) Issue(ctx context.Context, kind protocol.CommandKind, notes string) (protocol.CommandID, error) {
	f.calls++
	return protocol.CommandID(f.calls), nil
}

type fakeConn struct{ connected bool }

func (f fakeConn) Connected() bool { return f.connected }

func TestHeartbeatSkippedWhenDisconnected(t *testing.T) {
	issuer := &fakeIssuer{}
	d := New(issuer, fakeConn{connected: false}, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Equal(t, 0, issuer.calls)
}

func TestHeartbeatIssuesWhenConnected(t *testing.T) {
	issuer := &fakeIssuer{}
	d := New(issuer, fakeConn{connected: true}, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Greater(t, issuer.calls, 0)
}
