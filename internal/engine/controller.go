package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// ControllerConfig tunes one controller instance.
type ControllerConfig struct {
	MaxIterations   int           // safety bound on loop iterations per run
	ToolTimeout     time.Duration // per-tool hard timeout
	StallAfter      time.Duration // watchdog threshold
	CheckpointEvery int           // journal checkpoint interval in iterations
	Temperature     float32
	MaxOutputTokens int
	RetryPolicy     *RetryPolicy // model stream retry; nil = defaults
}

// DefaultControllerConfig returns the defaults used by the desktop client.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxIterations:   40,
		ToolTimeout:     DefaultToolTimeout,
		StallAfter:      DefaultStallAfter,
		CheckpointEvery: 5,
		MaxOutputTokens: 8192,
	}
}

// Controller owns one Agent and drives its execution loop. All mutation of
// the agent record happens from inside the controller; callers see snapshots.
//
// The loop is single-threaded cooperative: one drive goroutine runs an
// iteration to a suspension point (model stream, tool execution, approval
// wait) and the re-entrancy guard prevents a second from starting.
type Controller struct {
	mu sync.Mutex

	agent    *Agent
	model    ModelClient
	gateway  ToolGateway
	policy   ApprovalPolicy
	verifier *CompletionVerifier
	journal  Journal // may be nil
	hooks    Hooks
	logger   *log.Logger
	cfg      ControllerConfig

	ctxman *ContextManager
	coord  coordinator
	ledger toolLedger
	diag   diagnostics
	dog    *watchdog

	phase     ExecPhase
	activity  string
	running   bool // re-entrancy guard: at most one drive goroutine
	streaming bool
	retrying  bool
	streamBuf strings.Builder

	iteration int
	interject []string // user messages queued while an iteration is running

	opCancel  context.CancelFunc // aborts the in-flight operation
	kill      chan struct{}      // non-nil only while tools execute
	pauseReq  bool
	stopReq   bool
	forceReq  bool
}

// NewController wires a controller around an agent and its collaborators.
func NewController(agent *Agent, model ModelClient, gateway ToolGateway, approvals ApprovalSource, verifier *CompletionVerifier, journal Journal, hooks Hooks, cfg ControllerConfig) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultControllerConfig().MaxIterations
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultControllerConfig().MaxOutputTokens
	}
	if verifier == nil {
		verifier = &CompletionVerifier{}
	}
	return &Controller{
		agent:    agent,
		model:    model,
		gateway:  gateway,
		policy:   ApprovalPolicy{Tier: agent.Config.Permission, Approvals: approvals},
		verifier: verifier,
		journal:  journal,
		hooks:    hooks,
		logger:   log.Default(),
		cfg:      cfg,
		ctxman:   NewContextManager(agent.Config.Model),
		coord:    coordinator{gateway: gateway, timeout: cfg.ToolTimeout},
		dog:      newWatchdog(cfg.StallAfter),
		phase:    PhaseIdle,
	}
}

// SetLogger replaces the controller's internal logger.
func (c *Controller) SetLogger(l *log.Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

// Agent returns the owned agent record. Callers must treat it as read-only;
// the controller is its single writer.
func (c *Controller) Agent() *Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent
}

// State assembles the exposed runner snapshot.
func (c *Controller) State() RunnerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RunnerState{
		IsRunning:   c.running,
		IsStreaming: c.streaming,
		IsRetrying:  c.retrying,
		Buffer:      c.streamBuf.String(),
		Status:      c.agent.Status,
		Phase:       c.phase,
		Activity:    c.activity,
		Tokens:      c.ctxman.Metrics(c.agent.Messages),
		Diagnostics: c.diag.Snapshot(),
		LastError:   c.agent.Error,
	}
}

// Stall reports the watchdog's current view.
func (c *Controller) Stall() StallInfo { return c.dog.Snapshot() }

// Start begins a fresh run with the given task. Valid from idle; counters
// and the tool ledger reset, history stays whatever the agent carries.
func (c *Controller) Start(task string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agent.Status != StatusIdle {
		return fmt.Errorf("start: agent is %s, not idle", c.agent.Status)
	}
	if c.running {
		return fmt.Errorf("start: loop already active")
	}

	c.diag.Start()
	c.ledger.Reset()
	c.iteration = 0
	c.agent.StartedAt = time.Now()
	c.agent.Error = ""
	c.pauseReq, c.stopReq, c.forceReq = false, false, false

	content := task
	if c.agent.Config.SeedContext != "" {
		content = c.agent.Config.SeedContext + "\n\n" + task
	}
	c.agent.Append(ChatMessage{Role: RoleUser, Content: content})
	c.addStepLocked(StepMessage, task)

	c.openJournalLocked(task)
	c.setStatusLocked(StatusRunning)
	c.hooks.OnRunStart(context.Background(), c.agent)
	c.launchLocked(nil)
	return nil
}

// Pause suspends the loop cooperatively: the abort signal detaches the
// current stream listeners and the loop parks before its next iteration.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.agent.Status {
	case StatusRunning, StatusWaiting:
	default:
		return fmt.Errorf("pause: agent is %s", c.agent.Status)
	}
	c.pauseReq = true
	if c.opCancel != nil {
		c.opCancel()
	}
	if !c.running {
		c.setStatusLocked(StatusPaused)
	}
	return nil
}

// Resume continues a paused agent. If a tool call is still pending approval
// the agent returns to waiting instead of running.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.agent.Status != StatusPaused {
		return fmt.Errorf("resume: agent is %s, not paused", c.agent.Status)
	}
	c.pauseReq = false
	if c.agent.PendingCall != nil {
		c.setStatusLocked(StatusWaiting)
		return nil
	}
	c.setStatusLocked(StatusRunning)
	c.launchLocked(nil)
	return nil
}

// Stop aborts the run and returns the agent to idle. Terminal until a new
// Start. In-flight tool calls are not forcibly killed; the loop just stops
// waiting on them.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.agent.Status {
	case StatusRunning, StatusWaiting, StatusPaused:
	default:
		return fmt.Errorf("stop: agent is %s", c.agent.Status)
	}
	c.stopReq = true
	if c.opCancel != nil {
		c.opCancel()
	}
	if !c.running {
		c.finishStopLocked()
	}
	return nil
}

// Retry restarts the loop after a failure. History is not rebuilt: tool
// results already queued stay in place and the failed iteration runs again.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.agent.Status != StatusFailed {
		return fmt.Errorf("retry: agent is %s, not failed", c.agent.Status)
	}
	if c.running {
		return fmt.Errorf("retry: loop already active")
	}
	c.agent.Error = ""
	c.pauseReq, c.stopReq, c.forceReq = false, false, false
	c.setStatusLocked(StatusRunning)
	c.launchLocked(nil)
	return nil
}

// SendMessage injects a user message. While an iteration runs it queues for
// the next turn; from waiting or completed it starts a continuation.
func (c *Controller) SendMessage(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.agent.Status {
	case StatusRunning:
		if c.running {
			c.interject = append(c.interject, text)
			return nil
		}
		c.agent.Append(ChatMessage{Role: RoleUser, Content: text})
		c.addStepLocked(StepMessage, text)
		c.launchLocked(nil)
		return nil
	case StatusWaiting:
		c.agent.Append(ChatMessage{Role: RoleUser, Content: text})
		c.addStepLocked(StepMessage, text)
		if c.agent.PendingCall != nil {
			// still gated on the approval decision
			return nil
		}
		c.setStatusLocked(StatusRunning)
		c.launchLocked(nil)
		return nil
	case StatusCompleted, StatusIdle:
		c.agent.Append(ChatMessage{Role: RoleUser, Content: text})
		c.addStepLocked(StepMessage, text)
		c.setStatusLocked(StatusRunning)
		c.launchLocked(nil)
		return nil
	case StatusPaused, StatusFailed:
		// queued into history; resume/retry picks it up
		c.agent.Append(ChatMessage{Role: RoleUser, Content: text})
		c.addStepLocked(StepMessage, text)
		return nil
	}
	return fmt.Errorf("send: agent is %s", c.agent.Status)
}

// ApproveTool approves the pending call by ID and resumes the loop with its
// execution. Approving a call that already reached a terminal status is a
// no-op.
func (c *Controller) ApproveTool(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.agent.FindCall(id)
	if rec == nil {
		return fmt.Errorf("approve: no tool call %s", id)
	}
	if rec.Terminal() || rec.Status == CallApproved {
		return nil
	}
	if c.agent.PendingCall == nil || c.agent.PendingCall.ID != id {
		return fmt.Errorf("approve: call %s is not awaiting approval", id)
	}
	if c.running {
		return fmt.Errorf("approve: loop already active")
	}

	rec.Approve(false)
	c.agent.PendingCall = nil
	c.setStatusLocked(StatusRunning)
	c.launchLocked(func(ctx context.Context) {
		c.runApprovedSet(ctx, []*ToolCallRecord{rec})
	})
	return nil
}

// RejectTool rejects the pending call; the model is told and the loop
// continues. Rejecting an already-settled call is a no-op.
func (c *Controller) RejectTool(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.agent.FindCall(id)
	if rec == nil {
		return fmt.Errorf("reject: no tool call %s", id)
	}
	if rec.Terminal() {
		return nil
	}
	if c.agent.PendingCall == nil || c.agent.PendingCall.ID != id {
		return fmt.Errorf("reject: call %s is not awaiting approval", id)
	}
	if c.running {
		return fmt.Errorf("reject: loop already active")
	}

	rec.Reject()
	c.agent.PendingCall = nil
	content := fmt.Sprintf("[%s] rejected by user; do not attempt this call again without asking", rec.Tool)
	c.agent.Append(ChatMessage{Role: RoleTool, Name: rec.ID, Content: content})
	st := c.addStepLocked(StepToolResult, content)
	st.ToolCall = rec
	c.recordLocked("tool_result", content, 2)
	c.setStatusLocked(StatusRunning)
	c.launchLocked(nil)
	return nil
}

// ForceRetry aborts whatever the loop is doing, discards any partially
// buffered output and native-call events, and restarts the iteration fresh.
// Manual recovery for a stalled loop; independent of automatic timeouts.
func (c *Controller) ForceRetry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		if c.agent.Status == StatusFailed {
			c.agent.Error = ""
			c.pauseReq, c.stopReq, c.forceReq = false, false, false
			c.setStatusLocked(StatusRunning)
			c.launchLocked(nil)
			return nil
		}
		return fmt.Errorf("force retry: loop not active")
	}
	c.forceReq = true
	if c.opCancel != nil {
		c.opCancel()
	}
	return nil
}

// KillCurrentTool synthesizes failed results for the executing tool set and
// resumes the loop. Valid only while tools are executing. The underlying
// gateway calls are not cancellable and may still run to completion; the
// loop just stops waiting for them.
func (c *Controller) KillCurrentTool() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseExecutingTool || c.kill == nil {
		return fmt.Errorf("kill: no tool is executing")
	}
	select {
	case <-c.kill:
		// already fired
	default:
		close(c.kill)
	}
	return nil
}
