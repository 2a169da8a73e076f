package trigger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/helmcam/coordinator/internal/protocol"
)

// imuLogEntry is one row of the append-only master-session IMU log
// (spec.md §6 "IMU log (master session)").
type imuLogEntry struct {
	CommandID protocol.CommandID   `json:"command_id"`
	Timestamp string               `json:"timestamp"`
	IMUData   protocol.IMUSnapshot `json:"imu_data"`
}

// imuLog accumulates entries in memory and rewrites the backing file on
// every append. A nil *imuLog (no path configured) is a no-op.
type imuLog struct {
	mu      sync.Mutex
	path    string
	entries []imuLogEntry
}

func newIMULog(path string) *imuLog {
	if path == "" {
		return nil
	}
	return &imuLog{path: path}
}

// Append records one tick's IMU snapshot keyed by the CommandId it was
// issued with.
func (l *imuLog) Append(id protocol.CommandID, wallNs int64, snap protocol.IMUSnapshot) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, imuLogEntry{
		CommandID: id,
		Timestamp: time.Unix(0, wallNs).UTC().Format(time.RFC3339Nano),
		IMUData:   snap,
	})

	b, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("imulog: marshal: %w", err)
	}
	if err := os.WriteFile(l.path, b, 0o644); err != nil {
		return fmt.Errorf("imulog: write %s: %w", l.path, err)
	}
	return nil
}
