package engine

import (
	"context"
	"time"
)

type Hooks []Hook

func (hs Hooks) OnRunStart(ctx context.Context, a *Agent) {
	for _, h := range hs {
		h.OnRunStart(ctx, a)
	}
}
func (hs Hooks) OnStatusChange(ctx context.Context, a *Agent, from, to AgentStatus) {
	for _, h := range hs {
		h.OnStatusChange(ctx, a, from, to)
	}
}
func (hs Hooks) OnPhaseChange(ctx context.Context, a *Agent, phase ExecPhase, activity string) {
	for _, h := range hs {
		h.OnPhaseChange(ctx, a, phase, activity)
	}
}
func (hs Hooks) OnStreamDelta(ctx context.Context, a *Agent, d string) {
	for _, h := range hs {
		h.OnStreamDelta(ctx, a, d)
	}
}
func (hs Hooks) OnStepAdded(ctx context.Context, a *Agent, step *AgentStep) {
	for _, h := range hs {
		h.OnStepAdded(ctx, a, step)
	}
}
func (hs Hooks) OnToolStart(ctx context.Context, a *Agent, rec *ToolCallRecord) {
	for _, h := range hs {
		h.OnToolStart(ctx, a, rec)
	}
}
func (hs Hooks) OnToolEnd(ctx context.Context, a *Agent, rec *ToolCallRecord) {
	for _, h := range hs {
		h.OnToolEnd(ctx, a, rec)
	}
}
func (hs Hooks) OnApprovalRequired(ctx context.Context, a *Agent, rec *ToolCallRecord) {
	for _, h := range hs {
		h.OnApprovalRequired(ctx, a, rec)
	}
}
func (hs Hooks) OnTokenUsage(ctx context.Context, a *Agent, metrics TokenMetrics) {
	for _, h := range hs {
		h.OnTokenUsage(ctx, a, metrics)
	}
}
func (hs Hooks) OnTruncation(ctx context.Context, a *Agent, removed int) {
	for _, h := range hs {
		h.OnTruncation(ctx, a, removed)
	}
}
func (hs Hooks) OnVerification(ctx context.Context, a *Agent, verdict Verdict) {
	for _, h := range hs {
		h.OnVerification(ctx, a, verdict)
	}
}
func (hs Hooks) OnRetryAttempt(ctx context.Context, a *Agent, attempt, maxAttempts int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetryAttempt(ctx, a, attempt, maxAttempts, delay, err)
	}
}
func (hs Hooks) OnError(ctx context.Context, a *Agent, err error) {
	for _, h := range hs {
		h.OnError(ctx, a, err)
	}
}
func (hs Hooks) OnDone(ctx context.Context, a *Agent) {
	for _, h := range hs {
		h.OnDone(ctx, a)
	}
}
