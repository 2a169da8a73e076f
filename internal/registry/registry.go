// Package registry holds the static Peer Registry (configured peer set) and
// the per-peer/global statistics cells mutated by the Response Processor and
// Timeout Sweeper (spec.md §3, §4.3, §4.4). Registry itself is not
// concurrency-safe by design: per spec.md §5, PeerStats share the Pending
// Table's single mutex, so all mutation here is expected to happen with the
// caller (internal/pending.Table) already holding that lock.
package registry

import (
	"sort"

	"github.com/helmcam/coordinator/internal/protocol"
)

// PeerStatus mirrors the last known disposition of a peer.
type PeerStatus string

const (
	StatusUnknown PeerStatus = "unknown"
	StatusOnline  PeerStatus = "online"
	StatusError   PeerStatus = "error"
	StatusTimeout PeerStatus = "timeout"
)

// PeerStats is the per-peer accounting cell described in spec.md §3.
type PeerStats struct {
	Status        PeerStatus
	TotalCommands uint64
	OK            uint64
	Failed        uint64
	TimedOut      uint64
	LastSeenWallNs int64
	ResponseCount uint64
	LastRTTMs     int64
	AvgRTTMs      float64
}

// GlobalStats is the aggregate counter set described in spec.md §3.
type GlobalStats struct {
	TotalCommands   uint64
	OKResponses     uint64
	FailedResponses uint64
	TimeoutResponses uint64
	LocalCaptureOK  uint64
	LocalCaptureErr uint64
}

// Registry is the static set of configured peers plus their stats cells.
type Registry struct {
	order []protocol.PeerID
	stats map[protocol.PeerID]*PeerStats
}

// New creates a Registry with a PeerStats cell for every configured peer,
// created at startup per spec.md §3.
func New(peers []protocol.PeerID) *Registry {
	r := &Registry{
		order: append([]protocol.PeerID(nil), peers...),
		stats: make(map[protocol.PeerID]*PeerStats, len(peers)),
	}
	for _, p := range peers {
		r.stats[p] = &PeerStats{Status: StatusUnknown}
	}
	return r
}

// Peers returns the configured peer set in a stable order.
func (r *Registry) Peers() []protocol.PeerID {
	return append([]protocol.PeerID(nil), r.order...)
}

// Contains reports whether id is part of the configured fleet.
func (r *Registry) Contains(id protocol.PeerID) bool {
	_, ok := r.stats[id]
	return ok
}

// Stats returns the mutable stats cell for a configured peer, or nil.
// Callers must already hold the caller-side mutex (internal/pending.Table).
func (r *Registry) Stats(id protocol.PeerID) *PeerStats {
	return r.stats[id]
}

// Snapshot returns a defensive copy of every peer's stats, keyed by id, for
// the Dashboard Bridge (spec.md §4.9). Callers must hold the Pending Table's
// mutex; internal/pending.Table.Snapshot calls it under that lock.
func (r *Registry) Snapshot() map[protocol.PeerID]PeerStats {
	out := make(map[protocol.PeerID]PeerStats, len(r.stats))
	for id, s := range r.stats {
		out[id] = *s
	}
	return out
}

// Rollup summarizes online/timeout/error counts across the fleet.
type Rollup struct {
	Online  int
	Timeout int
	Error   int
	Unknown int
}

func (r *Registry) RollupStatus() Rollup {
	var roll Rollup
	for _, s := range r.stats {
		switch s.Status {
		case StatusOnline:
			roll.Online++
		case StatusTimeout:
			roll.Timeout++
		case StatusError:
			roll.Error++
		default:
			roll.Unknown++
		}
	}
	return roll
}

// SortedIDs returns the configured peer ids sorted lexically, useful for
// deterministic logging and test assertions.
func SortedIDs(ids []protocol.PeerID) []protocol.PeerID {
	out := append([]protocol.PeerID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
