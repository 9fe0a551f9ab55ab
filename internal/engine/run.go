package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// iterOutcome tells the drive loop what one iteration decided.
type iterOutcome int

const (
	iterContinue iterOutcome = iota // self-continuation: run another iteration
	iterWaitApproval
	iterWaitUser
	iterCompleted
	iterAborted // pause/stop took effect mid-iteration
	iterRestart // forceRetry: rerun the iteration fresh
)

// launchLocked spawns the single drive goroutine. Callers hold c.mu; the
// re-entrancy guard means a second launch while one is active is a bug.
func (c *Controller) launchLocked(pre func(ctx context.Context)) {
	if c.running {
		return
	}
	c.running = true
	go c.drive(pre)
}

// drive is the loop body run by the one active goroutine. pre, when set,
// finishes work the loop suspended on (an approved tool execution) before
// iterating.
func (c *Controller) drive(pre func(ctx context.Context)) {
	ctx := context.Background()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.opCancel = nil
		c.mu.Unlock()
	}()

	if pre != nil {
		pre(ctx)
	}

	for {
		c.mu.Lock()
		if c.stopReq {
			c.finishStopLocked()
			c.mu.Unlock()
			return
		}
		if c.pauseReq {
			c.setStatusLocked(StatusPaused)
			c.setPhaseLocked(PhaseIdle, "paused")
			c.mu.Unlock()
			return
		}
		if c.iteration >= c.cfg.MaxIterations {
			c.failLocked(fmt.Errorf("iteration limit reached (%d)", c.cfg.MaxIterations))
			c.mu.Unlock()
			return
		}
		c.iteration++
		c.diag.RecordIteration()
		for _, text := range c.interject {
			c.agent.Append(ChatMessage{Role: RoleUser, Content: text})
			c.addStepLocked(StepMessage, text)
		}
		c.interject = nil
		iter := c.iteration
		c.mu.Unlock()

		outcome, err := c.iterate(ctx, iter)

		c.mu.Lock()
		if c.cfg.CheckpointEvery > 0 && iter%c.cfg.CheckpointEvery == 0 {
			c.checkpointLocked()
		}
		switch {
		case err != nil:
			c.failLocked(err)
			c.mu.Unlock()
			return
		case outcome == iterAborted:
			if c.stopReq {
				c.finishStopLocked()
			} else {
				c.setStatusLocked(StatusPaused)
				c.setPhaseLocked(PhaseIdle, "paused")
			}
			c.mu.Unlock()
			return
		case outcome == iterRestart:
			c.forceReq = false
			c.resetTurnLocked()
			c.mu.Unlock()
			continue
		case outcome == iterCompleted:
			c.completeLocked()
			c.mu.Unlock()
			return
		case outcome == iterWaitApproval:
			c.setStatusLocked(StatusWaiting)
			c.setPhaseLocked(PhaseAwaitingApproval, "waiting for tool approval")
			c.mu.Unlock()
			return
		case outcome == iterWaitUser:
			c.setStatusLocked(StatusWaiting)
			c.setPhaseLocked(PhaseIdle, "waiting for next message")
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		// iterContinue: running → running
	}
}

// iterate runs one full turn: build context, stream the model, extract and
// gate tool calls, execute or queue them, verify completion on tool-free
// turns.
func (c *Controller) iterate(ctx context.Context, iter int) (iterOutcome, error) {
	// Build context within the window.
	c.setPhase(PhaseBuildingContext, "assembling conversation context")
	c.mu.Lock()
	msgs, removed, metrics := c.ctxman.Prepare(c.agent.Messages)
	agent := c.agent
	c.mu.Unlock()

	c.hooks.OnTokenUsage(ctx, agent, metrics)
	if removed > 0 {
		c.mu.Lock()
		notice := fmt.Sprintf("context truncated: %d oldest messages dropped to fit the model window", removed)
		c.addStepLocked(StepMessage, notice)
		c.recordLocked("context", notice, 1)
		c.mu.Unlock()
		c.hooks.OnTruncation(ctx, agent, removed)
	}

	// Stream the model with retry on transient faults.
	text, native, usage, outcome, err := c.streamTurn(ctx, msgs)
	if outcome != iterContinue {
		return outcome, nil
	}
	if err != nil {
		return iterContinue, wrapIteration(err, iter, PhaseCallingModel, "model_stream", "")
	}
	c.diag.RecordUsage(usage)

	// Record the assistant turn.
	calls := ExtractCalls(text, native)
	c.mu.Lock()
	c.agent.Append(ChatMessage{Role: RoleAssistant, Content: text, ToolCalls: native})
	if text != "" {
		kind := StepMessage
		if len(calls) > 0 {
			kind = StepThinking
		}
		c.addStepLocked(kind, text)
	}
	c.recordLocked("assistant", text, 2)
	c.mu.Unlock()

	if len(calls) == 0 {
		return c.verifyTurn(ctx, text)
	}
	return c.dispatchCalls(ctx, calls)
}

// streamTurn performs the model request, buffering deltas and collecting
// native function-call events. Pause/stop/forceRetry abort it via opCancel.
func (c *Controller) streamTurn(parent context.Context, msgs []ChatMessage) (string, []NativeCall, Usage, iterOutcome, error) {
	c.setPhase(PhaseCallingModel, "requesting model completion")

	opCtx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.opCancel = cancel
	c.resetTurnLocked()
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.opCancel = nil
		c.streaming = false
		c.retrying = false
		c.mu.Unlock()
	}()

	policy := DefaultModelRetryPolicy()
	if c.cfg.RetryPolicy != nil {
		policy = *c.cfg.RetryPolicy
	}

	type turn struct {
		text   string
		native []NativeCall
		usage  Usage
	}

	result, err := RetryWithPolicy(
		opCtx,
		policy,
		func(ctx context.Context) (turn, error) {
			// A fresh attempt discards anything buffered by the failed one.
			c.mu.Lock()
			c.resetTurnLocked()
			c.streaming = true
			c.mu.Unlock()
			text, native, usage, err := c.drainStream(ctx, msgs)
			return turn{text: text, native: native, usage: usage}, err
		},
		ClassifyModelError,
		func(attempt int, delay time.Duration, retryErr error) {
			c.mu.Lock()
			c.retrying = true
			agent := c.agent
			c.mu.Unlock()
			c.hooks.OnRetryAttempt(parent, agent, attempt, policy.MaxRetries, delay, retryErr)
		},
	)

	if err != nil {
		// Cancellation means a control action, not a model fault.
		if opCtx.Err() != nil {
			c.mu.Lock()
			force := c.forceReq
			stopOrPause := c.stopReq || c.pauseReq
			c.mu.Unlock()
			if force {
				return "", nil, Usage{}, iterRestart, nil
			}
			if stopOrPause {
				return "", nil, Usage{}, iterAborted, nil
			}
		}
		return "", nil, Usage{}, iterContinue, err
	}
	return result.text, result.native, result.usage, iterContinue, nil
}

// drainStream consumes one streaming response to its terminal event.
// Incremental tokens only refresh the progress clock; they never change
// phase.
func (c *Controller) drainStream(ctx context.Context, msgs []ChatMessage) (string, []NativeCall, Usage, error) {
	c.mu.Lock()
	model := c.agent.Config.Model
	agent := c.agent
	c.mu.Unlock()

	schemas := c.toolSchemas()
	opts := ChatOptions{Temperature: c.cfg.Temperature, MaxOutputTokens: c.cfg.MaxOutputTokens}

	c.setPhase(PhaseStreaming, "streaming model output")
	eventCh, errCh := c.model.Stream(ctx, model, msgs, schemas, opts)

	var buf strings.Builder
	var native []NativeCall
	var usage Usage

	for eventCh != nil || errCh != nil {
		select {
		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			switch ev.Type {
			case "text_delta":
				buf.WriteString(ev.Text)
				c.dog.Touch()
				c.mu.Lock()
				c.streamBuf.WriteString(ev.Text)
				c.mu.Unlock()
				c.hooks.OnStreamDelta(ctx, agent, ev.Text)
			case "tool_call":
				native = append(native, ev.ToolCall)
				c.dog.Touch()
			case "usage":
				usage = ev.Usage
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", nil, Usage{}, err
			}
			errCh = nil
		}
	}

	return buf.String(), native, usage, nil
}

// dispatchCalls turns extracted requests into records, executes what policy
// allows and queues the first held call for approval.
func (c *Controller) dispatchCalls(ctx context.Context, calls []ToolRequest) (iterOutcome, error) {
	var records []*ToolCallRecord
	var broken []ToolRequest

	c.mu.Lock()
	for _, req := range calls {
		if req.Err != "" {
			broken = append(broken, req)
			continue
		}
		rec := &ToolCallRecord{
			ID:          req.ID,
			Tool:        req.Name,
			Args:        req.Args,
			Status:      CallPending,
			Explanation: req.Explanation,
			Risk:        ClassifyRisk(req.Name),
			Origin:      req.Origin,
		}
		records = append(records, rec)
		st := c.addStepLocked(StepToolCall, rec.Tool)
		st.ToolCall = rec
		c.recordLocked("tool_request", rec.Tool, 2)
	}
	// Provider-reported broken calls feed back as failures so the model can
	// correct itself.
	for _, req := range broken {
		content := fmt.Sprintf("[%s] call arrived malformed: %s", req.Name, req.Err)
		c.agent.Append(ChatMessage{Role: RoleTool, Name: req.ID, Content: content})
		c.addStepLocked(StepError, content)
	}
	agent := c.agent
	c.mu.Unlock()

	if len(records) == 0 {
		if len(broken) > 0 {
			return iterContinue, nil
		}
		return c.verifyTurn(ctx, "")
	}

	auto, held := splitByApproval(records, c.policy)

	if len(auto) > 0 {
		c.runApprovedSet(ctx, auto)
	}

	if len(held) > 0 {
		first := held[0]
		c.mu.Lock()
		c.agent.PendingCall = first
		// Only one approval surfaces per turn; the rest are deferred, not
		// silently dropped.
		for _, rec := range held[1:] {
			note := fmt.Sprintf("deferred tool call %s: one approval per turn", rec.Tool)
			c.addStepLocked(StepMessage, note)
			c.recordLocked("tool_deferred", rec.Tool, 1)
		}
		c.mu.Unlock()
		c.hooks.OnApprovalRequired(ctx, agent, first)
		c.recordSafe("approval_wait", first.Tool, 2)
		return iterWaitApproval, nil
	}

	return iterContinue, nil
}

// runApprovedSet executes approved records concurrently and feeds the
// combined, order-preserving result back into history as one entry. Records
// stay untouched until every call settles; all status transitions happen here,
// on the drive goroutine.
func (c *Controller) runApprovedSet(ctx context.Context, records []*ToolCallRecord) {
	kill := make(chan struct{})
	c.mu.Lock()
	c.kill = kill
	c.setPhaseLocked(PhaseExecutingTool, activityFor(records))
	agent := c.agent
	c.mu.Unlock()

	outcomes := c.coord.runParallel(ctx, records, kill, func(rec *ToolCallRecord) {
		c.dog.Touch()
		c.hooks.OnToolStart(ctx, agent, rec)
	})

	c.mu.Lock()
	c.kill = nil
	c.dog.Touch()
	for i, rec := range records {
		rec.Settle(outcomes[i])
		c.ledger.Record(rec.Tool, rec.Args, outcomes[i].Success)
		c.diag.RecordTool(outcomes[i].Duration, outcomes[i].Success)
		c.hooks.OnToolEnd(ctx, agent, rec)
	}
	combined := combineResults(records, outcomes)
	c.agent.Append(ChatMessage{Role: RoleTool, Name: records[0].ID, Content: combined})
	for _, rec := range records {
		st := c.addStepLocked(StepToolResult, resultPreview(rec))
		st.ToolCall = rec
		c.recordLocked("tool_result", resultPreview(rec), 2)
	}
	c.mu.Unlock()
}

// verifyTurn gates a tool-free turn through the completion verifier.
func (c *Controller) verifyTurn(ctx context.Context, text string) (iterOutcome, error) {
	c.setPhase(PhaseVerifying, "verifying completion")

	c.mu.Lock()
	workdir := c.agent.Config.Workspace
	agent := c.agent
	c.mu.Unlock()

	verdict := c.verifier.Verify(ctx, text, workdir, &c.ledger)
	c.hooks.OnVerification(ctx, agent, verdict)

	switch {
	case verdict.Complete:
		if len(verdict.Warnings) > 0 {
			c.mu.Lock()
			for _, w := range verdict.Warnings {
				c.addStepLocked(StepMessage, "verification warning: "+w)
			}
			c.mu.Unlock()
		}
		return iterCompleted, nil
	case verdict.NotClaimed:
		// No completion claim: a plain reply, wait for the user.
		return iterWaitUser, nil
	default:
		c.mu.Lock()
		c.addStepLocked(StepMessage, fmt.Sprintf("verification failed at %s: %s", verdict.Stage, verdict.Reason))
		c.recordLocked("verification", verdict.Reason, 2)
		if verdict.Inject != "" {
			c.agent.Append(ChatMessage{Role: RoleUser, Content: verdict.Inject})
		}
		c.mu.Unlock()
		return iterContinue, nil
	}
}

// ---- locked helpers (callers hold c.mu) ----

func (c *Controller) setStatusLocked(to AgentStatus) {
	from := c.agent.Status
	if from == to {
		return
	}
	c.agent.Status = to
	c.hooks.OnStatusChange(context.Background(), c.agent, from, to)
}

func (c *Controller) setPhaseLocked(phase ExecPhase, activity string) {
	c.phase = phase
	c.activity = activity
	c.dog.BeginPhase(phase)
	c.hooks.OnPhaseChange(context.Background(), c.agent, phase, activity)
}

func (c *Controller) setPhase(phase ExecPhase, activity string) {
	c.mu.Lock()
	c.setPhaseLocked(phase, activity)
	c.mu.Unlock()
}

func (c *Controller) addStepLocked(kind StepKind, content string) *AgentStep {
	st := c.agent.AddStep(kind, content)
	c.hooks.OnStepAdded(context.Background(), c.agent, st)
	return st
}

func (c *Controller) resetTurnLocked() {
	c.streamBuf.Reset()
}

func (c *Controller) failLocked(err error) {
	c.agent.Error = err.Error()
	c.addStepLocked(StepError, err.Error())
	c.setStatusLocked(StatusFailed)
	c.setPhaseLocked(PhaseIdle, "failed")
	c.recordLocked("error", err.Error(), 3)
	c.updateSessionLocked("failed")
	c.hooks.OnError(context.Background(), c.agent, err)
}

func (c *Controller) completeLocked() {
	c.agent.CompletedAt = time.Now()
	c.setStatusLocked(StatusCompleted)
	c.setPhaseLocked(PhaseIdle, "completed")
	c.recordLocked("completed", "task complete", 3)
	c.checkpointLocked()
	c.updateSessionLocked("completed")
	c.hooks.OnDone(context.Background(), c.agent)
}

func (c *Controller) finishStopLocked() {
	c.stopReq = false
	if pc := c.agent.PendingCall; pc != nil {
		pc.Reject()
	}
	c.agent.PendingCall = nil
	c.setStatusLocked(StatusIdle)
	c.setPhaseLocked(PhaseIdle, "stopped")
	c.recordLocked("stopped", "run stopped by user", 2)
	c.updateSessionLocked("stopped")
}

// ---- journal plumbing: every call is fire-and-forget ----

func (c *Controller) openJournalLocked(task string) {
	if c.journal == nil {
		return
	}
	id, err := c.journal.CreateSession(context.Background(), task)
	if err != nil {
		c.logger.Printf("journal session failed: %v", err)
		return
	}
	c.agent.JournalID = id
}

func (c *Controller) recordLocked(kind, content string, importance int) {
	if c.journal == nil || c.agent.JournalID == "" {
		return
	}
	if err := c.journal.LogEntry(context.Background(), c.agent.JournalID, kind, content, importance); err != nil {
		c.logger.Printf("journal entry failed: %v", err)
	}
}

func (c *Controller) recordSafe(kind, content string, importance int) {
	c.mu.Lock()
	c.recordLocked(kind, content, importance)
	c.mu.Unlock()
}

func (c *Controller) checkpointLocked() {
	if c.journal == nil || c.agent.JournalID == "" {
		return
	}
	if err := c.journal.CreateCheckpoint(context.Background(), c.agent.JournalID); err != nil {
		c.logger.Printf("journal checkpoint failed: %v", err)
	}
}

func (c *Controller) updateSessionLocked(status string) {
	if c.journal == nil || c.agent.JournalID == "" {
		return
	}
	if err := c.journal.UpdateSessionStatus(context.Background(), c.agent.JournalID, status); err != nil {
		c.logger.Printf("journal status failed: %v", err)
	}
}

// ---- misc ----

// toolSchemas asks the gateway for its schema list when it can provide one.
func (c *Controller) toolSchemas() []ToolSchema {
	if p, ok := c.gateway.(interface{ Schemas() []ToolSchema }); ok {
		return p.Schemas()
	}
	return nil
}

func activityFor(records []*ToolCallRecord) string {
	if len(records) == 1 {
		return "executing " + records[0].Tool
	}
	return fmt.Sprintf("executing %d tools", len(records))
}

func resultPreview(rec *ToolCallRecord) string {
	s := rec.Result
	if rec.Status == CallFailed {
		s = rec.Error
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
