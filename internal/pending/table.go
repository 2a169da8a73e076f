// Package pending implements the Pending Table described in spec.md §3-§5:
// the map from CommandID to in-flight capture record, guarded by a single
// mutex that also guards PeerStats and GlobalStats mutation (spec.md §5
// "Shared-resource policy"), following the one-mutex-per-related-state
// idiom used throughout the teacher's telemetry collectors (e.g.
// controlplane/agent/internal/telemetry.Collector.recordSample).
package pending

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/helmcam/coordinator/internal/clock"
	"github.com/helmcam/coordinator/internal/protocol"
	"github.com/helmcam/coordinator/internal/registry"
)

// closedReason records why a CommandID left the table, for the short-TTL
// "recently closed" cache that improves diagnostics on late responses
// (SPEC_FULL.md DOMAIN STACK: jellydator/ttlcache).
type closedReason string

const (
	closedCompleted closedReason = "completed"
	closedTimedOut  closedReason = "timed_out"
	closedAborted   closedReason = "aborted_at_shutdown"
)

// Entry is the per-command in-flight record (spec.md §3).
type Entry struct {
	Kind      protocol.CommandKind
	IssuedAt  clock.MonoTime
	Deadline  clock.MonoTime
	Waiting   map[protocol.PeerID]struct{}
	Responses map[protocol.PeerID]protocol.Response
}

// waitingSnapshot returns a stable copy of the waiting set for callers that
// must not hold the table lock (e.g. dashboard reads, invariant checks).
func (e *Entry) waitingSnapshot() []protocol.PeerID {
	out := make([]protocol.PeerID, 0, len(e.Waiting))
	for id := range e.Waiting {
		out = append(out, id)
	}
	return out
}

// Table is the single point of mutation for in-flight commands and the
// stats they feed. Safe for concurrent callers; the critical section on
// every method is a short map operation (spec.md §5).
type Table struct {
	mu       sync.Mutex
	entries  map[protocol.CommandID]*Entry
	registry *registry.Registry
	global   *registry.GlobalStats
	clock    clock.Clock
	log      *slog.Logger

	recentlyClosed *ttlcache.Cache[protocol.CommandID, closedReason]
}

// New builds a Table bound to a Registry and GlobalStats cell. recentCloseTTL
// bounds how long a just-closed CommandID is remembered for the "late
// response for closed command" diagnostic (a few multiples of the largest
// configured timeout is a reasonable choice; internal/coordinator passes 10x
// the command timeout).
func New(reg *registry.Registry, global *registry.GlobalStats, clk clock.Clock, log *slog.Logger, recentCloseTTL time.Duration) *Table {
	cache := ttlcache.New[protocol.CommandID, closedReason](
		ttlcache.WithTTL[protocol.CommandID, closedReason](recentCloseTTL),
	)
	go cache.Start()

	return &Table{
		entries:        make(map[protocol.CommandID]*Entry),
		registry:       reg,
		global:         global,
		clock:          clk,
		log:            log,
		recentlyClosed: cache,
	}
}

// Stop releases the recently-closed cache's background eviction goroutine.
func (t *Table) Stop() {
	t.recentlyClosed.Stop()
}

// Insert creates a PendingEntry for a freshly issued command. waiting is the
// configured peer set at issuance time (spec.md §4.2 step 3). For kind ==
// poll the same timeout applies (spec.md §4.6).
func (t *Table) Insert(id protocol.CommandID, kind protocol.CommandKind, waiting []protocol.PeerID, issuedAt, deadline clock.MonoTime) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := make(map[protocol.PeerID]struct{}, len(waiting))
	for _, p := range waiting {
		w[p] = struct{}{}
	}
	e := &Entry{
		Kind:      kind,
		IssuedAt:  issuedAt,
		Deadline:  deadline,
		Waiting:   w,
		Responses: make(map[protocol.PeerID]protocol.Response),
	}

	// An empty configured fleet completes immediately with 0/0 (spec.md §8
	// "slaves = []").
	if len(w) == 0 {
		t.closeEntry(id, e, closedCompleted)
		return
	}

	t.entries[id] = e
}

// Remove deletes an entry without any stats side effects, used by the Issuer
// to roll back an Insert after a failed publish (spec.md §4.2 step 4).
func (t *Table) Remove(id protocol.CommandID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Count returns the number of pending entries, for the Dashboard Bridge.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// GlobalStats returns a copy of the aggregate counter set, for the
// Dashboard Bridge's atomic snapshot (spec.md §4.9).
func (t *Table) GlobalStats() registry.GlobalStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.global
}

// StatsSnapshot is a single consistent read of every stats cell the table's
// mutex guards, including the Peer Registry's: Registry itself takes no
// lock of its own and is documented as safe to read only while this mutex
// is held (internal/registry doc comment).
type StatsSnapshot struct {
	Global       registry.GlobalStats
	Peers        map[protocol.PeerID]registry.PeerStats
	PendingCount int
	Rollup       registry.Rollup
}

// Snapshot takes the table lock once and returns a StatsSnapshot, so callers
// like the Dashboard Bridge never read the Registry's stats map
// concurrently with a RecordResponse/SweepExpired mutation (spec.md §5
// single-mutex policy).
func (t *Table) Snapshot() StatsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return StatsSnapshot{
		Global:       *t.global,
		Peers:        t.registry.Snapshot(),
		PendingCount: len(t.entries),
		Rollup:       t.registry.RollupStatus(),
	}
}

// MarkIssued increments GlobalStats.TotalCommands once for a successfully
// issued command, capture or poll (spec.md §3 "sum of Issued capture + poll
// commands", §8 "equals the count of successful Issues"). The Issuer calls
// this exactly once per Issue, after the publish that makes it successful,
// never once per peer response and never for a publish that was rolled
// back, so a capture fanned out to N peers still counts as one issued
// command and the slaves=[] case (which completes via Insert without ever
// gaining a response) is still counted.
func (t *Table) MarkIssued() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.global.TotalCommands++
}

// Waiting returns a defensive copy of the waiting set for id, or nil if the
// id is not pending. Exposed for the invariant checks in spec.md §8.
func (t *Table) Waiting(id protocol.CommandID) []protocol.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil
	}
	return e.waitingSnapshot()
}

// RecordOutcome is the result of applying one Response to the table,
// reported back to the caller (internal/responses) for logging at the
// call site that owns "how a frame arrived" context; the stats and entry
// mutation itself always happens here, under the single lock.
type RecordOutcome int

const (
	OutcomeApplied RecordOutcome = iota
	OutcomeUnknownID
	OutcomeLateOrSpurious
	OutcomeDuplicate
	OutcomeClosed // this response closed the entry (waiting emptied)
)

// RecordResponse matches an inbound Response to its PendingEntry and updates
// PeerStats/GlobalStats accordingly (spec.md §4.3). It returns how the
// response was classified so the caller can log with full context.
func (t *Table) RecordResponse(resp protocol.Response) RecordOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[resp.ID]
	if !ok {
		if item := t.recentlyClosed.Get(resp.ID); item != nil {
			t.log.Warn("late response for already-closed command dropped",
				slog.Uint64("command_id", uint64(resp.ID)),
				slog.String("peer", string(resp.Client)),
				slog.String("closed_reason", string(item.Value())))
		} else {
			t.log.Warn("response for unknown command id dropped",
				slog.Uint64("command_id", uint64(resp.ID)),
				slog.String("peer", string(resp.Client)))
		}
		return OutcomeUnknownID
	}

	if _, already := e.Responses[resp.Client]; already {
		t.log.Warn("duplicate response ignored for stats",
			slog.Uint64("command_id", uint64(resp.ID)),
			slog.String("peer", string(resp.Client)))
		return OutcomeDuplicate
	}

	if _, waiting := e.Waiting[resp.Client]; !waiting {
		t.log.Warn("late or spurious response dropped",
			slog.Uint64("command_id", uint64(resp.ID)),
			slog.String("peer", string(resp.Client)))
		return OutcomeLateOrSpurious
	}

	e.Responses[resp.Client] = resp

	rttMs := t.clock.NowMono().Sub(e.IssuedAt).Milliseconds()
	t.applyStats(resp, rttMs)

	delete(e.Waiting, resp.Client)
	if len(e.Waiting) == 0 {
		t.closeEntry(resp.ID, e, closedCompleted)
		return OutcomeClosed
	}
	return OutcomeApplied
}

// applyStats updates the peer's stats cell and the matching GlobalStats
// counter per the transition table in spec.md §4.3 step 5. Caller must hold
// t.mu.
func (t *Table) applyStats(resp protocol.Response, rttMs int64) {
	stats := t.registry.Stats(resp.Client)
	if stats == nil {
		// Response from a client outside the configured fleet; Waiting check
		// above already filters this in practice, but stay defensive.
		return
	}

	stats.TotalCommands++
	stats.ResponseCount++
	stats.LastSeenWallNs = t.clock.NowWallNs()
	stats.LastRTTMs = rttMs
	stats.AvgRTTMs = stats.AvgRTTMs + (float64(rttMs)-stats.AvgRTTMs)/float64(stats.ResponseCount)

	switch resp.Status {
	case protocol.StatusOK:
		stats.Status = registry.StatusOnline
		stats.OK++
		t.global.OKResponses++
	case protocol.StatusTimeout:
		stats.Status = registry.StatusTimeout
		stats.TimedOut++
		t.global.TimeoutResponses++
	default:
		stats.Status = registry.StatusError
		stats.Failed++
		t.global.FailedResponses++
	}
}

// closeEntry deletes the entry, records it in the recently-closed cache, and
// logs completion. Caller must hold t.mu.
func (t *Table) closeEntry(id protocol.CommandID, e *Entry, reason closedReason) {
	delete(t.entries, id)
	t.recentlyClosed.Set(id, reason, ttlcache.DefaultTTL)

	ok := 0
	for _, r := range e.Responses {
		if r.Status == protocol.StatusOK {
			ok++
		}
	}
	t.log.Info("command closed",
		slog.Uint64("command_id", uint64(id)),
		slog.String("kind", string(e.Kind)),
		slog.Int("ok", ok),
		slog.Int("total", len(e.Responses)),
		slog.String("reason", string(reason)))
}

// SweepExpired evicts every entry whose deadline has passed, recording a
// timeout for each non-responder (spec.md §4.4). It returns the number of
// entries swept.
func (t *Table) SweepExpired(now clock.MonoTime) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	swept := 0
	for id, e := range t.entries {
		if now.Before(e.Deadline) {
			continue
		}

		nonResponders := e.waitingSnapshot()
		for _, peer := range nonResponders {
			stats := t.registry.Stats(peer)
			if stats == nil {
				continue
			}
			stats.TimedOut++
			stats.Status = registry.StatusTimeout
			t.global.TimeoutResponses++
		}

		t.log.Info("command swept on timeout",
			slog.Uint64("command_id", uint64(id)),
			slog.String("kind", string(e.Kind)),
			slog.Any("non_responders", nonResponders))

		delete(t.entries, id)
		t.recentlyClosed.Set(id, closedTimedOut, ttlcache.DefaultTTL)
		swept++
	}
	return swept
}

// AbandonAll deletes every pending entry without writing timeout counters,
// for clean shutdown (spec.md §5 "Pending entries at shutdown are
// abandoned without writing timeout counters").
func (t *Table) AbandonAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.entries {
		t.recentlyClosed.Set(id, closedAborted, ttlcache.DefaultTTL)
		delete(t.entries, id)
	}
}

// RecordLocalCapture updates GlobalStats.LocalCaptureOK/LocalCaptureErr for
// the master's own camera (spec.md §4.1 item 3). It shares the Pending
// Table's mutex rather than leaving these counters unguarded, per spec.md
// §5's single-mutex policy for all shared stats cells.
func (t *Table) RecordLocalCapture(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.global.LocalCaptureOK++
	} else {
		t.global.LocalCaptureErr++
	}
}

// RecentlyClosedReason reports why id is no longer pending, if it was closed
// within the cache's TTL window. Used only for diagnostics.
func (t *Table) RecentlyClosedReason(id protocol.CommandID) (string, bool) {
	item := t.recentlyClosed.Get(id)
	if item == nil {
		return "", false
	}
	return string(item.Value()), true
}
