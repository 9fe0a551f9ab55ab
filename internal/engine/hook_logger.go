// engine/hook_logger.go
package engine

import (
	"context"
	"log"
	"time"
)

type LoggerHook struct{ L *log.Logger }

func (h LoggerHook) OnRunStart(_ context.Context, a *Agent) {
	h.L.Printf("[agent %s] run start model=%s permission=%s", short(a.ID), a.Config.Model, a.Config.Permission)
}
func (h LoggerHook) OnStatusChange(_ context.Context, a *Agent, from, to AgentStatus) {
	h.L.Printf("[agent %s] %s → %s", short(a.ID), from, to)
}
func (h LoggerHook) OnPhaseChange(_ context.Context, a *Agent, phase ExecPhase, activity string) {
	h.L.Printf("[agent %s] phase=%s %s", short(a.ID), phase, activity)
}
func (h LoggerHook) OnStreamDelta(_ context.Context, _ *Agent, _ string) {}
func (h LoggerHook) OnStepAdded(_ context.Context, a *Agent, step *AgentStep) {
	preview := step.Content
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	h.L.Printf("[agent %s] step %s: %s", short(a.ID), step.Kind, preview)
}
func (h LoggerHook) OnToolStart(_ context.Context, a *Agent, rec *ToolCallRecord) {
	h.L.Printf("[agent %s] tool → %s args=%v", short(a.ID), rec.Tool, rec.Args)
}
func (h LoggerHook) OnToolEnd(_ context.Context, a *Agent, rec *ToolCallRecord) {
	if rec.Status == CallFailed {
		h.L.Printf("[agent %s] tool %s failed in %v: %s", short(a.ID), rec.Tool, rec.Duration, rec.Error)
		return
	}
	preview := rec.Result
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	h.L.Printf("[agent %s] tool %s done in %v: %s", short(a.ID), rec.Tool, rec.Duration, preview)
}
func (h LoggerHook) OnApprovalRequired(_ context.Context, a *Agent, rec *ToolCallRecord) {
	h.L.Printf("[agent %s] approval required: %s risk=%s", short(a.ID), rec.Tool, rec.Risk)
}
func (h LoggerHook) OnTokenUsage(_ context.Context, a *Agent, m TokenMetrics) {
	h.L.Printf("[agent %s] tokens %d/%d (%.1f%%) level=%s approx=%t",
		short(a.ID), m.ContextUsed, m.ContextMax, m.UsagePercent, m.WarningLevel, m.Approximate)
}
func (h LoggerHook) OnTruncation(_ context.Context, a *Agent, removed int) {
	h.L.Printf("[agent %s] context truncated: removed %d messages", short(a.ID), removed)
}
func (h LoggerHook) OnVerification(_ context.Context, a *Agent, v Verdict) {
	h.L.Printf("[agent %s] verification complete=%t stage=%s reason=%s", short(a.ID), v.Complete, v.Stage, v.Reason)
}
func (h LoggerHook) OnRetryAttempt(_ context.Context, a *Agent, attempt, maxAttempts int, delay time.Duration, err error) {
	h.L.Printf("[agent %s] retry attempt=%d/%d delay=%v error=%v", short(a.ID), attempt, maxAttempts, delay, err)
}
func (h LoggerHook) OnError(_ context.Context, a *Agent, err error) {
	h.L.Printf("[agent %s] error: %v", short(a.ID), err)
}
func (h LoggerHook) OnDone(_ context.Context, a *Agent) {
	h.L.Printf("[agent %s] done: %d steps", short(a.ID), len(a.Steps))
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
