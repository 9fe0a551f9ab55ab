package engine

import (
	"sync"
	"time"
)

// recentDurationsKept bounds the rolling tool-duration window.
const recentDurationsKept = 20

// diagnostics accumulates counters for one run. Monotonic: nothing resets it
// except an explicit fresh start.
type diagnostics struct {
	mu sync.Mutex

	iterations       int
	toolCalls        int
	toolSucceeded    int
	toolFailed       int
	recent           []time.Duration
	totalToolTime    time.Duration
	promptTokens     int
	completionTokens int
	startedAt        time.Time
}

// DiagnosticsSnapshot is the exposed, immutable view.
type DiagnosticsSnapshot struct {
	Iterations       int             `json:"iterations"`
	ToolCalls        int             `json:"toolCalls"`
	ToolSucceeded    int             `json:"toolSucceeded"`
	ToolFailed       int             `json:"toolFailed"`
	AvgToolDuration  time.Duration   `json:"avgToolDuration"`
	RecentDurations  []time.Duration `json:"recentDurations"`
	PromptTokens     int             `json:"promptTokens"`
	CompletionTokens int             `json:"completionTokens"`
	TotalRuntime     time.Duration   `json:"totalRuntime"`
}

func (d *diagnostics) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.iterations = 0
	d.toolCalls = 0
	d.toolSucceeded = 0
	d.toolFailed = 0
	d.recent = nil
	d.totalToolTime = 0
	d.promptTokens = 0
	d.completionTokens = 0
	d.startedAt = time.Now()
}

func (d *diagnostics) RecordIteration() {
	d.mu.Lock()
	d.iterations++
	d.mu.Unlock()
}

func (d *diagnostics) RecordTool(dur time.Duration, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.toolCalls++
	if success {
		d.toolSucceeded++
	} else {
		d.toolFailed++
	}
	d.totalToolTime += dur
	d.recent = append(d.recent, dur)
	if len(d.recent) > recentDurationsKept {
		d.recent = d.recent[len(d.recent)-recentDurationsKept:]
	}
}

func (d *diagnostics) RecordUsage(u Usage) {
	d.mu.Lock()
	d.promptTokens += u.Prompt
	d.completionTokens += u.Completion
	d.mu.Unlock()
}

func (d *diagnostics) Snapshot() DiagnosticsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := DiagnosticsSnapshot{
		Iterations:       d.iterations,
		ToolCalls:        d.toolCalls,
		ToolSucceeded:    d.toolSucceeded,
		ToolFailed:       d.toolFailed,
		PromptTokens:     d.promptTokens,
		CompletionTokens: d.completionTokens,
	}
	if d.toolCalls > 0 {
		snap.AvgToolDuration = d.totalToolTime / time.Duration(d.toolCalls)
	}
	snap.RecentDurations = append([]time.Duration(nil), d.recent...)
	if !d.startedAt.IsZero() {
		snap.TotalRuntime = time.Since(d.startedAt)
	}
	return snap
}
