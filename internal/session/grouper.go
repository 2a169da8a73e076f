// Package session implements the Session Grouper (spec.md §4.8): it picks
// and rolls over the on-disk directory a camera's captures land in, and
// maintains the per-session JSON log of photos and failures. It is used on
// both the peer side (per §4.8) and by the Trigger Arbiter for the
// master's own local camera (spec.md §4.1 item 3).
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/helmcam/coordinator/internal/clock"
)

// PhotoEntry is one successful capture recorded in the per-session log.
type PhotoEntry struct {
	Index     int    `json:"index"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// FailureEntry is one failed capture recorded in the per-session log.
type FailureEntry struct {
	Index     int    `json:"index"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// logFile mirrors the on-disk per-session log format from spec.md §6
// ("On-disk artifacts").
type logFile struct {
	Camera    int            `json:"camera"`
	StartTime string         `json:"start_time"`
	EndTime   string         `json:"end_time"`
	Photos    []PhotoEntry   `json:"photos"`
	Failures  []FailureEntry `json:"failures"`
}

type active struct {
	dir             string
	date            string
	lastCapture     clock.MonoTime
	photosInSession int
	log             logFile
}

// Grouper owns the rollover decision and the per-session log file for one
// camera. Safe for concurrent use.
type Grouper struct {
	mu                sync.Mutex
	baseDir           string
	cameraOrdinal     int
	inactivityTimeout time.Duration
	clock             clock.Clock

	cur *active
}

// New builds a Grouper rooted at baseDir/helmet-cam{n}.
func New(baseDir string, cameraOrdinal int, inactivityTimeout time.Duration, clk clock.Clock) *Grouper {
	return &Grouper{
		baseDir:           baseDir,
		cameraOrdinal:     cameraOrdinal,
		inactivityTimeout: inactivityTimeout,
		clock:             clk,
	}
}

// CameraOrdinal returns the camera index this Grouper was built for.
func (g *Grouper) CameraOrdinal() int {
	return g.cameraOrdinal
}

func (g *Grouper) cameraDir() string {
	return filepath.Join(g.baseDir, fmt.Sprintf("helmet-cam%d", g.cameraOrdinal))
}

// Resolve returns the directory the next capture should land in, rolling
// over to a new session if needed per spec.md §4.8. The mono clock drives
// the inactivity comparison; the wall clock is used only for the date and
// for values written to the session log (spec.md §3: MonoTime is never a
// wall-clock source). It must be called once per capture attempt, before
// deriving the filename.
func (g *Grouper) Resolve() (dir string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowMono := g.clock.NowMono()
	nowWall := time.Unix(0, g.clock.NowWallNs()).UTC()
	date := nowWall.Format("20060102")

	needsRoll := g.cur == nil ||
		g.cur.date != date ||
		nowMono.Sub(g.cur.lastCapture) > g.inactivityTimeout

	if needsRoll {
		if err := g.roll(nowWall, date); err != nil {
			return "", err
		}
	}

	return g.cur.dir, nil
}

// roll creates a fresh session directory and, if the prior session was
// still open, finalizes its log. Caller holds g.mu.
func (g *Grouper) roll(nowWall time.Time, date string) error {
	prev := g.cur
	if prev != nil {
		g.finalizeLocked(nowWall)
	}

	base := filepath.Join(g.cameraDir(), "session_"+date)
	dir := base

	exists := dirExists(base)
	overflowed := prev != nil && prev.date == date && prev.photosInSession > 100
	if exists && overflowed {
		dir = firstAvailableSuffixed(base)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", dir, err)
	}

	g.cur = &active{
		dir:  dir,
		date: date,
		log: logFile{
			Camera:    g.cameraOrdinal,
			StartTime: nowWall.Format(time.RFC3339Nano),
		},
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func firstAvailableSuffixed(base string) string {
	for n := 1; n < 1000; n++ {
		candidate := fmt.Sprintf("%s_%03d", base, n)
		if !dirExists(candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("%s_999", base)
}

// RecordPhoto appends a successful capture to the current session's log and
// returns the running photos-in-session count.
func (g *Grouper) RecordPhoto(path string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cur == nil {
		return 0, fmt.Errorf("session: RecordPhoto called before Resolve")
	}

	nowWall := time.Unix(0, g.clock.NowWallNs()).UTC()
	g.cur.photosInSession++
	g.cur.lastCapture = g.clock.NowMono()
	g.cur.log.Photos = append(g.cur.log.Photos, PhotoEntry{
		Index:     g.cur.photosInSession,
		Path:      path,
		Timestamp: nowWall.Format(time.RFC3339Nano),
	})

	if err := g.writeLogLocked(); err != nil {
		return g.cur.photosInSession, err
	}
	return g.cur.photosInSession, nil
}

// RecordFailure appends a failed capture attempt to the current session's
// log without advancing photos_in_session.
func (g *Grouper) RecordFailure(reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cur == nil {
		return fmt.Errorf("session: RecordFailure called before Resolve")
	}

	nowWall := time.Unix(0, g.clock.NowWallNs()).UTC()
	g.cur.log.Failures = append(g.cur.log.Failures, FailureEntry{
		Index:     len(g.cur.log.Failures) + 1,
		Reason:    reason,
		Timestamp: nowWall.Format(time.RFC3339Nano),
	})
	return g.writeLogLocked()
}

// PhotosInSession returns the current session's running photo count.
func (g *Grouper) PhotosInSession() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cur == nil {
		return 0
	}
	return g.cur.photosInSession
}

// Name returns the base name of the current session directory, e.g.
// "session_20260729" or "session_20260729_001".
func (g *Grouper) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cur == nil {
		return ""
	}
	return filepath.Base(g.cur.dir)
}

func (g *Grouper) finalizeLocked(nowWall time.Time) {
	g.cur.log.EndTime = nowWall.Format(time.RFC3339Nano)
	_ = g.writeLogLocked()
}

func (g *Grouper) writeLogLocked() error {
	path := filepath.Join(g.cur.dir, "session.json")
	b, err := json.MarshalIndent(g.cur.log, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal log: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("session: write log %s: %w", path, err)
	}
	return nil
}
