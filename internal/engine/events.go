package engine

import (
	"context"
	"time"
)

// Event is the loosely-typed bridge from engine hooks to a consuming UI.
type Event struct {
	Kind string // "status", "phase", "delta", "step", "tool_start", "tool_done", "approval_required", "token_usage", "truncation", "verification", "retry_attempt", "error", "done"
	Data any
}

// UIHook bridges engine callbacks onto an event channel. The channel owner
// must keep draining it; sends never block the loop (full channel drops).
type UIHook struct{ Ch chan<- Event }

func (h UIHook) send(ev Event) {
	select {
	case h.Ch <- ev:
	default:
	}
}

func (h UIHook) OnRunStart(_ context.Context, a *Agent) {
	h.send(Event{Kind: "run_start", Data: a.ID})
}
func (h UIHook) OnStatusChange(_ context.Context, a *Agent, from, to AgentStatus) {
	h.send(Event{Kind: "status", Data: map[string]string{"from": string(from), "to": string(to)}})
}
func (h UIHook) OnPhaseChange(_ context.Context, _ *Agent, phase ExecPhase, activity string) {
	h.send(Event{Kind: "phase", Data: map[string]string{"phase": string(phase), "activity": activity}})
}
func (h UIHook) OnStreamDelta(_ context.Context, _ *Agent, d string) {
	h.send(Event{Kind: "delta", Data: d})
}
func (h UIHook) OnStepAdded(_ context.Context, _ *Agent, step *AgentStep) {
	h.send(Event{Kind: "step", Data: step})
}
func (h UIHook) OnToolStart(_ context.Context, _ *Agent, rec *ToolCallRecord) {
	h.send(Event{Kind: "tool_start", Data: rec.Tool})
}
func (h UIHook) OnToolEnd(_ context.Context, _ *Agent, rec *ToolCallRecord) {
	h.send(Event{Kind: "tool_done", Data: map[string]any{"tool": rec.Tool, "status": rec.Status}})
}
func (h UIHook) OnApprovalRequired(_ context.Context, _ *Agent, rec *ToolCallRecord) {
	h.send(Event{Kind: "approval_required", Data: rec})
}
func (h UIHook) OnTokenUsage(_ context.Context, _ *Agent, m TokenMetrics) {
	h.send(Event{Kind: "token_usage", Data: m})
}
func (h UIHook) OnTruncation(_ context.Context, _ *Agent, removed int) {
	h.send(Event{Kind: "truncation", Data: removed})
}
func (h UIHook) OnVerification(_ context.Context, _ *Agent, v Verdict) {
	h.send(Event{Kind: "verification", Data: v})
}
func (h UIHook) OnRetryAttempt(_ context.Context, _ *Agent, attempt, maxAttempts int, delay time.Duration, err error) {
	h.send(Event{Kind: "retry_attempt", Data: map[string]any{
		"attempt":     attempt,
		"maxAttempts": maxAttempts,
		"delay":       delay,
		"error":       err.Error(),
	}})
}
func (h UIHook) OnError(_ context.Context, _ *Agent, err error) {
	h.send(Event{Kind: "error", Data: err.Error()})
}
func (h UIHook) OnDone(_ context.Context, a *Agent) {
	h.send(Event{Kind: "done", Data: a.ID})
}
