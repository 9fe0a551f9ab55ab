package engine

import (
	"sync"
	"time"
)

// DefaultStallAfter is how long without a progress signal counts as a stall.
const DefaultStallAfter = 90 * time.Second

// watchdog tracks wall-clock progress per phase. Incremental tokens and tool
// progress refresh lastProgressAt without changing phase; the snapshot tells
// the UI when the loop looks hung so it can offer manual recovery.
type watchdog struct {
	mu sync.Mutex

	phase             ExecPhase
	activityStartedAt time.Time
	lastProgressAt    time.Time
	stallAfter        time.Duration
}

func newWatchdog(stallAfter time.Duration) *watchdog {
	if stallAfter <= 0 {
		stallAfter = DefaultStallAfter
	}
	return &watchdog{stallAfter: stallAfter}
}

// BeginPhase marks a phase transition, resetting both timestamps.
func (w *watchdog) BeginPhase(phase ExecPhase) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.phase = phase
	w.activityStartedAt = now
	w.lastProgressAt = now
}

// Touch records a progress signal in the current phase.
func (w *watchdog) Touch() {
	w.mu.Lock()
	w.lastProgressAt = time.Now()
	w.mu.Unlock()
}

// StallInfo is the watchdog's exposed view.
type StallInfo struct {
	Phase         ExecPhase     `json:"phase"`
	ActiveFor     time.Duration `json:"activeFor"`
	SinceProgress time.Duration `json:"sinceProgress"`
	Stalled       bool          `json:"stalled"`
}

func (w *watchdog) Snapshot() StallInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.activityStartedAt.IsZero() {
		return StallInfo{Phase: w.phase}
	}
	now := time.Now()
	since := now.Sub(w.lastProgressAt)
	return StallInfo{
		Phase:         w.phase,
		ActiveFor:     now.Sub(w.activityStartedAt),
		SinceProgress: since,
		Stalled:       since > w.stallAfter,
	}
}
