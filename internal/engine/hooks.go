// engine/hooks.go
package engine

import (
	"context"
	"time"
)

// Hook receives lifecycle callbacks from a running controller. Callbacks fire
// synchronously, in order, from inside the controller; implementations must
// not block and must not call back into the controller. OnToolStart is the
// one exception to ordering: during parallel execution it fires from each
// worker goroutine.
type Hook interface {
	OnRunStart(ctx context.Context, a *Agent)
	OnStatusChange(ctx context.Context, a *Agent, from, to AgentStatus)
	OnPhaseChange(ctx context.Context, a *Agent, phase ExecPhase, activity string)
	OnStreamDelta(ctx context.Context, a *Agent, delta string)
	OnStepAdded(ctx context.Context, a *Agent, step *AgentStep)
	OnToolStart(ctx context.Context, a *Agent, rec *ToolCallRecord)
	OnToolEnd(ctx context.Context, a *Agent, rec *ToolCallRecord)
	OnApprovalRequired(ctx context.Context, a *Agent, rec *ToolCallRecord)
	OnTokenUsage(ctx context.Context, a *Agent, metrics TokenMetrics)
	OnTruncation(ctx context.Context, a *Agent, removed int)
	OnVerification(ctx context.Context, a *Agent, verdict Verdict)
	OnRetryAttempt(ctx context.Context, a *Agent, attempt, maxAttempts int, delay time.Duration, err error)
	OnError(ctx context.Context, a *Agent, err error)
	OnDone(ctx context.Context, a *Agent)
}

// NopHook lets you implement only the hooks you need.
type NopHook struct{}

func (NopHook) OnRunStart(context.Context, *Agent)                                   {}
func (NopHook) OnStatusChange(context.Context, *Agent, AgentStatus, AgentStatus)     {}
func (NopHook) OnPhaseChange(context.Context, *Agent, ExecPhase, string)             {}
func (NopHook) OnStreamDelta(context.Context, *Agent, string)                        {}
func (NopHook) OnStepAdded(context.Context, *Agent, *AgentStep)                      {}
func (NopHook) OnToolStart(context.Context, *Agent, *ToolCallRecord)                 {}
func (NopHook) OnToolEnd(context.Context, *Agent, *ToolCallRecord)                   {}
func (NopHook) OnApprovalRequired(context.Context, *Agent, *ToolCallRecord)          {}
func (NopHook) OnTokenUsage(context.Context, *Agent, TokenMetrics)                   {}
func (NopHook) OnTruncation(context.Context, *Agent, int)                            {}
func (NopHook) OnVerification(context.Context, *Agent, Verdict)                      {}
func (NopHook) OnRetryAttempt(context.Context, *Agent, int, int, time.Duration, error) {}
func (NopHook) OnError(context.Context, *Agent, error)                               {}
func (NopHook) OnDone(context.Context, *Agent)                                       {}
