package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptTurn describes what the fake model does for one Stream call.
type scriptTurn struct {
	text  string
	calls []NativeCall
	err   error
	block bool // serve nothing until the request context is cancelled
}

// scriptedModel plays back turns in order. An exhausted script answers with
// an empty turn, which the loop treats as a plain reply.
type scriptedModel struct {
	mu         sync.Mutex
	turns      []scriptTurn
	repeatLast bool
	n          int
}

func (m *scriptedModel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

func (m *scriptedModel) Stream(ctx context.Context, model string, msgs []ChatMessage, schemas []ToolSchema, opts ChatOptions) (<-chan StreamEvent, <-chan error) {
	m.mu.Lock()
	idx := m.n
	m.n++
	var turn scriptTurn
	switch {
	case idx < len(m.turns):
		turn = m.turns[idx]
	case m.repeatLast && len(m.turns) > 0:
		turn = m.turns[len(m.turns)-1]
	}
	m.mu.Unlock()

	evCh := make(chan StreamEvent)
	errCh := make(chan error, 1)
	go func() {
		defer close(evCh)
		defer close(errCh)
		if turn.block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if turn.err != nil {
			errCh <- turn.err
			return
		}
		if turn.text != "" {
			evCh <- StreamEvent{Type: "text_delta", Text: turn.text}
		}
		for _, call := range turn.calls {
			evCh <- StreamEvent{Type: "tool_call", ToolCall: call}
		}
		evCh <- StreamEvent{Type: "usage", Usage: Usage{Prompt: 10, Completion: 5, Total: 15}}
	}()
	return evCh, errCh
}

func completionTurn() scriptTurn {
	return scriptTurn{text: "I created main.go as requested. TASK_COMPLETE"}
}

func newTestController(t *testing.T, model *scriptedModel, gw *fakeGateway, tier PermissionTier, approvals ApprovalSource, mods ...func(*ControllerConfig)) *Controller {
	t.Helper()
	agent := NewAgent(AgentConfig{
		Instructions: "You are a coding agent.",
		Permission:   tier,
		Model:        "test-model",
		Workspace:    t.TempDir(),
	})
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 8
	cfg.ToolTimeout = 2 * time.Second
	cfg.StallAfter = time.Minute
	for _, mod := range mods {
		mod(&cfg)
	}
	return NewController(agent, model, gw, approvals, nil, nil, Hooks{}, cfg)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitStatus(t *testing.T, c *Controller, want AgentStatus) {
	t.Helper()
	waitFor(t, "status "+string(want), func() bool {
		return c.State().Status == want && !c.State().IsRunning
	})
}

func toolMessages(a *Agent) []ChatMessage {
	var out []ChatMessage
	for _, m := range a.Messages {
		if m.Role == RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func hasUserMessage(a *Agent, substr string) bool {
	for _, m := range a.Messages {
		if m.Role == RoleUser && strings.Contains(m.Content, substr) {
			return true
		}
	}
	return false
}

func TestStartRunsToWaitingOnPlainReply(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{{text: "Nothing to do; the code already handles that case."}}}
	c := newTestController(t, model, &fakeGateway{}, PermissionStandard, nil)

	if err := c.Start("check the parser"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	st := c.State()
	if st.Phase != PhaseIdle {
		t.Errorf("Phase = %s, want idle while waiting for the user", st.Phase)
	}
	a := c.Agent()
	last := a.Messages[len(a.Messages)-1]
	if last.Role != RoleAssistant || !strings.Contains(last.Content, "already handles") {
		t.Errorf("last message = %+v, want the assistant reply", last)
	}
	if model.count() != 1 {
		t.Errorf("model calls = %d, want 1", model.count())
	}
}

func TestStandardTierHoldsModerateCall(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "main.go"}}}},
	}}
	gw := &fakeGateway{}
	c := newTestController(t, model, gw, PermissionStandard, nil)

	if err := c.Start("write the entry point"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if got := c.State().Phase; got != PhaseAwaitingApproval {
		t.Errorf("Phase = %s, want awaiting_approval", got)
	}
	a := c.Agent()
	if a.PendingCall == nil || a.PendingCall.ID != "call_1" {
		t.Fatalf("PendingCall = %+v, want call_1", a.PendingCall)
	}
	if a.PendingCall.Status != CallPending {
		t.Errorf("pending status = %s, want pending", a.PendingCall.Status)
	}
	if a.PendingCall.Risk != RiskModerate {
		t.Errorf("pending risk = %s, want moderate", a.PendingCall.Risk)
	}
	if gw.callCount() != 0 {
		t.Errorf("gateway calls = %d, want 0 before approval", gw.callCount())
	}
}

func TestApproveToolExecutesAndCompletes(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "main.go"}}}},
		completionTurn(),
	}}
	gw := &fakeGateway{outcomes: map[string]ToolOutcome{
		"write_file": {Success: true, Result: "wrote 120 bytes"},
	}}
	c := newTestController(t, model, gw, PermissionStandard, nil)

	if err := c.Start("write the entry point"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if err := c.ApproveTool("call_1"); err != nil {
		t.Fatalf("ApproveTool() error: %v", err)
	}
	waitStatus(t, c, StatusCompleted)

	a := c.Agent()
	rec := a.FindCall("call_1")
	if rec == nil || rec.Status != CallCompleted {
		t.Fatalf("record = %+v, want completed", rec)
	}
	if rec.AutoApproved {
		t.Error("a human approval must not be marked auto")
	}
	if a.PendingCall != nil {
		t.Error("PendingCall must clear on approval")
	}
	if a.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	tm := toolMessages(a)
	if len(tm) != 1 {
		t.Fatalf("tool messages = %d, want 1 combined entry", len(tm))
	}
	if tm[0].Name != "call_1" || !strings.Contains(tm[0].Content, "[write_file] ok") {
		t.Errorf("combined entry = %+v", tm[0])
	}
	if gw.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1", gw.callCount())
	}
	if d := c.State().Diagnostics; d.ToolCalls != 1 || d.ToolSucceeded != 1 {
		t.Errorf("diagnostics = %+v, want one successful tool call", d)
	}
}

func TestApproveToolIdempotentAfterSettle(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "a.go"}}}},
	}}
	gw := &fakeGateway{}
	c := newTestController(t, model, gw, PermissionStandard, nil)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if err := c.ApproveTool("call_1"); err != nil {
		t.Fatalf("first ApproveTool() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting) // exhausted script: plain reply after execution

	// The call settled; a duplicate approval must change nothing.
	if err := c.ApproveTool("call_1"); err != nil {
		t.Fatalf("second ApproveTool() error: %v, want no-op nil", err)
	}
	if gw.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1 after duplicate approval", gw.callCount())
	}
	if rec := c.Agent().FindCall("call_1"); rec.Status != CallCompleted {
		t.Errorf("record status = %s, want completed", rec.Status)
	}
}

func TestRejectToolFeedsResultBack(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "delete_file", Args: map[string]any{"path": "important.db"}}}},
		{text: "Understood, I will leave the file alone."},
	}}
	gw := &fakeGateway{}
	c := newTestController(t, model, gw, PermissionAutonomous, nil)

	if err := c.Start("clean up"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	a := c.Agent()
	if a.PendingCall == nil {
		t.Fatal("dangerous call must be held even under autonomous")
	}

	if err := c.RejectTool("call_1"); err != nil {
		t.Fatalf("RejectTool() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	a = c.Agent()
	rec := a.FindCall("call_1")
	if rec.Status != CallRejected {
		t.Errorf("record status = %s, want rejected", rec.Status)
	}
	if gw.callCount() != 0 {
		t.Errorf("gateway calls = %d, want 0 for a rejected call", gw.callCount())
	}

	tm := toolMessages(a)
	if len(tm) != 1 || !strings.Contains(tm[0].Content, "rejected by user") {
		t.Fatalf("tool messages = %+v, want the rejection fed back", tm)
	}
	if model.count() != 2 {
		t.Errorf("model calls = %d, want the loop to continue after rejection", model.count())
	}

	// Rejecting a settled call is a no-op.
	if err := c.RejectTool("call_1"); err != nil {
		t.Errorf("duplicate RejectTool() error: %v, want nil", err)
	}
}

func TestAutonomousAutoApprovesModerate(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "main.go"}}}},
		completionTurn(),
	}}
	gw := &fakeGateway{}
	c := newTestController(t, model, gw, PermissionAutonomous, nil)

	if err := c.Start("write the entry point"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusCompleted)

	a := c.Agent()
	rec := a.FindCall("call_1")
	if rec == nil || rec.Status != CallCompleted {
		t.Fatalf("record = %+v, want completed without human approval", rec)
	}
	if !rec.AutoApproved {
		t.Error("tier approval must be marked auto")
	}
	if a.PendingCall != nil {
		t.Error("nothing should have waited for approval")
	}
}

func TestRestrictedHoldsSafeCall(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "read_file", Args: map[string]any{"path": "main.go"}}}},
	}}
	gw := &fakeGateway{}
	c := newTestController(t, model, gw, PermissionRestricted, nil)

	if err := c.Start("inspect"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if c.Agent().PendingCall == nil {
		t.Fatal("restricted tier must hold even safe calls")
	}
	if gw.callCount() != 0 {
		t.Errorf("gateway calls = %d, want 0", gw.callCount())
	}
}

func TestAlwaysApproveListOverridesTier(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "run_command", Args: map[string]any{"command": "make test"}}}},
	}}
	gw := &fakeGateway{}
	c := newTestController(t, model, gw, PermissionStandard, staticApprovals{"run_command"})

	if err := c.Start("run the tests"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	a := c.Agent()
	if a.PendingCall != nil {
		t.Fatal("always-approved tool must not wait")
	}
	rec := a.FindCall("call_1")
	if rec == nil || rec.Status != CallCompleted || !rec.AutoApproved {
		t.Errorf("record = %+v, want auto-approved completion", rec)
	}
	if gw.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1", gw.callCount())
	}
}

func TestParallelCallsProduceSingleCombinedEntry(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{
			{ID: "c1", Name: "read_file", Args: map[string]any{"path": "a.go"}},
			{ID: "c2", Name: "list_dir", Args: map[string]any{"path": "src"}},
			{ID: "c3", Name: "write_file", Args: map[string]any{"path": "b.go"}},
		}},
	}}
	gw := &fakeGateway{delays: map[string]time.Duration{"read_file": 40 * time.Millisecond}}
	c := newTestController(t, model, gw, PermissionAutonomous, nil)

	if err := c.Start("do three things"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	a := c.Agent()
	tm := toolMessages(a)
	if len(tm) != 1 {
		t.Fatalf("tool messages = %d, want one combined entry for the set", len(tm))
	}
	// Order follows the call order even though read_file finished last.
	content := tm[0].Content
	i1 := strings.Index(content, "[read_file]")
	i2 := strings.Index(content, "[list_dir]")
	i3 := strings.Index(content, "[write_file]")
	if i1 < 0 || i2 < 0 || i3 < 0 || !(i1 < i2 && i2 < i3) {
		t.Errorf("combined sections out of order:\n%s", content)
	}

	results := 0
	for _, st := range a.Steps {
		if st.Kind == StepToolResult {
			results++
		}
	}
	if results != 3 {
		t.Errorf("tool_result steps = %d, want 3", results)
	}
	if d := c.State().Diagnostics; d.ToolCalls != 3 || d.ToolSucceeded != 3 {
		t.Errorf("diagnostics = %+v, want three successes", d)
	}
}

func TestFirstApprovalOnlySurfaced(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{
			{ID: "c1", Name: "write_file", Args: map[string]any{"path": "a.go"}},
			{ID: "c2", Name: "edit_file", Args: map[string]any{"path": "b.go"}},
		}},
	}}
	gw := &fakeGateway{}
	c := newTestController(t, model, gw, PermissionStandard, nil)

	if err := c.Start("change two files"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	a := c.Agent()
	if a.PendingCall == nil || a.PendingCall.ID != "c1" {
		t.Fatalf("PendingCall = %+v, want the first held call", a.PendingCall)
	}

	deferred := false
	for _, st := range a.Steps {
		if st.Kind == StepMessage && strings.Contains(st.Content, "deferred tool call edit_file") {
			deferred = true
		}
	}
	if !deferred {
		t.Error("second held call must be logged as deferred, not dropped silently")
	}
	if rec := a.FindCall("c2"); rec == nil || rec.Status != CallPending {
		t.Errorf("deferred record = %+v, want pending", rec)
	}
}

func TestToolFailureFedBackNotFatal(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "a.go"}}}},
		{text: "The disk seems full; I will try a smaller file."},
	}}
	gw := &fakeGateway{outcomes: map[string]ToolOutcome{
		"write_file": {Success: false, Error: "disk full"},
	}}
	c := newTestController(t, model, gw, PermissionAutonomous, nil)

	if err := c.Start("write it"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	a := c.Agent()
	if a.Status == StatusFailed {
		t.Fatal("a tool failure must not fail the run")
	}
	rec := a.FindCall("call_1")
	if rec.Status != CallFailed || rec.Error != "disk full" {
		t.Errorf("record = %+v, want failed with the gateway error", rec)
	}
	tm := toolMessages(a)
	if len(tm) != 1 || !strings.Contains(tm[0].Content, "[write_file] error") || !strings.Contains(tm[0].Content, "disk full") {
		t.Errorf("combined entry = %+v, want the failure formatted back", tm)
	}
	if model.count() != 2 {
		t.Errorf("model calls = %d, want the loop to continue", model.count())
	}
	if d := c.State().Diagnostics; d.ToolFailed != 1 {
		t.Errorf("diagnostics = %+v, want one failed call", d)
	}
}

func TestVerifierBlocksUnprovenCompletion(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		completionTurn(), // claims completion with zero tool calls behind it
		{text: "You're right, I haven't actually written anything yet."},
	}}
	c := newTestController(t, model, &fakeGateway{}, PermissionAutonomous, nil)

	if err := c.Start("write main.go"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	a := c.Agent()
	if a.Status == StatusCompleted {
		t.Fatal("an unproven completion claim must not complete the run")
	}
	if !hasUserMessage(a, "no file-writing or command-executing tool succeeded") {
		t.Error("corrective detail must be injected as the next turn's input")
	}

	failedStep := false
	for _, st := range a.Steps {
		if strings.Contains(st.Content, "verification failed at ledger") {
			failedStep = true
		}
	}
	if !failedStep {
		t.Error("verification failure must be visible in the step log")
	}
	if model.count() != 2 {
		t.Errorf("model calls = %d, want a corrective follow-up turn", model.count())
	}
}

func TestKillCurrentTool(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "a.go"}}}},
		{text: "The write was interrupted."},
	}}
	gw := &fakeGateway{block: make(chan struct{})}
	defer close(gw.block)
	c := newTestController(t, model, gw, PermissionAutonomous, nil)

	if err := c.Start("write it"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "tool execution", func() bool {
		return c.State().Phase == PhaseExecutingTool && gw.callCount() == 1
	})

	if err := c.KillCurrentTool(); err != nil {
		t.Fatalf("KillCurrentTool() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	rec := c.Agent().FindCall("call_1")
	if rec.Status != CallFailed || !strings.Contains(rec.Error, "killed") {
		t.Errorf("record = %+v, want a killed failure", rec)
	}

	// Nothing executing anymore.
	if err := c.KillCurrentTool(); err == nil {
		t.Error("KillCurrentTool() outside executing_tool must error")
	}
}

func TestPauseDuringStreamAndResume(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{block: true},
		{text: "Resumed and finished the survey."},
	}}
	c := newTestController(t, model, &fakeGateway{}, PermissionStandard, nil)

	if err := c.Start("survey the code"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "streaming", func() bool { return c.State().Phase == PhaseStreaming })

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	waitStatus(t, c, StatusPaused)

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if model.count() != 2 {
		t.Errorf("model calls = %d, want a fresh request after resume", model.count())
	}
}

func TestPauseWhileAwaitingApprovalKeepsPending(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "a.go"}}}},
	}}
	gw := &fakeGateway{}
	c := newTestController(t, model, gw, PermissionStandard, nil)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if got := c.State().Status; got != StatusPaused {
		t.Fatalf("status = %s, want paused", got)
	}

	// Resume falls back to waiting because the approval decision is still
	// outstanding.
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if got := c.State().Status; got != StatusWaiting {
		t.Fatalf("status after resume = %s, want waiting", got)
	}
	if c.Agent().PendingCall == nil {
		t.Fatal("pending call lost across pause/resume")
	}

	if err := c.ApproveTool("call_1"); err != nil {
		t.Fatalf("ApproveTool() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)
	if gw.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1 after approval", gw.callCount())
	}
}

func TestStopReturnsToIdle(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{{block: true}}}
	c := newTestController(t, model, &fakeGateway{}, PermissionStandard, nil)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "streaming", func() bool { return c.State().Phase == PhaseStreaming })

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	waitStatus(t, c, StatusIdle)

	if c.Agent().PendingCall != nil {
		t.Error("stop must clear any pending call")
	}
	// Terminal until a fresh start; a new Start is accepted.
	model.mu.Lock()
	model.turns = append(model.turns, scriptTurn{text: "fresh run"})
	model.mu.Unlock()
	if err := c.Start("again"); err != nil {
		t.Errorf("Start() after stop error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)
}

func TestForceRetryRestartsIteration(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{block: true},
		{text: "Second attempt went through."},
	}}
	c := newTestController(t, model, &fakeGateway{}, PermissionStandard, nil)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "streaming", func() bool { return c.State().Phase == PhaseStreaming })

	if err := c.ForceRetry(); err != nil {
		t.Fatalf("ForceRetry() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if model.count() != 2 {
		t.Errorf("model calls = %d, want the iteration rerun", model.count())
	}
	if c.State().Status == StatusFailed {
		t.Error("force retry must not fail the run")
	}
}

func TestRetryableModelErrorRecovers(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{err: errors.New("429 too many requests")},
		{text: "Recovered after the rate limit."},
	}}
	quick := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	c := newTestController(t, model, &fakeGateway{}, PermissionStandard, nil, func(cfg *ControllerConfig) {
		cfg.RetryPolicy = &quick
	})

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if model.count() != 2 {
		t.Errorf("model calls = %d, want retry then success", model.count())
	}
	if got := c.State().Status; got == StatusFailed {
		t.Errorf("status = %s, transient fault must not fail the run", got)
	}
}

func TestNonRetryableModelErrorFailsThenRetry(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{err: errors.New("401 invalid api key")},
		{text: "Key fixed, carrying on."},
	}}
	c := newTestController(t, model, &fakeGateway{}, PermissionStandard, nil)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusFailed)

	st := c.State()
	if !strings.Contains(st.LastError, "invalid api key") {
		t.Errorf("LastError = %q, want the provider error", st.LastError)
	}
	if model.count() != 1 {
		t.Errorf("model calls = %d, want no retries on auth errors", model.count())
	}

	msgsBefore := len(c.Agent().Messages)
	stepsBefore := len(c.Agent().Steps)

	if err := c.Retry(); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	a := c.Agent()
	if len(a.Messages) < msgsBefore || len(a.Steps) < stepsBefore {
		t.Error("retry must preserve accumulated history and steps")
	}
	if a.Error != "" {
		t.Errorf("Error = %q, want cleared on retry", a.Error)
	}
}

func TestMaxIterationsBound(t *testing.T) {
	model := &scriptedModel{
		turns:      []scriptTurn{{calls: []NativeCall{{ID: "c", Name: "read_file", Args: map[string]any{"path": "a.go"}}}}},
		repeatLast: true,
	}
	c := newTestController(t, model, &fakeGateway{}, PermissionAutonomous, nil, func(cfg *ControllerConfig) {
		cfg.MaxIterations = 3
	})

	if err := c.Start("loop forever"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusFailed)

	if !strings.Contains(c.State().LastError, "iteration limit") {
		t.Errorf("LastError = %q, want the iteration bound", c.State().LastError)
	}
	if model.count() != 3 {
		t.Errorf("model calls = %d, want exactly the limit", model.count())
	}
}

func TestSendMessageWhileWaitingContinues(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{text: "Anything else?"},
		{text: "On it."},
	}}
	c := newTestController(t, model, &fakeGateway{}, PermissionStandard, nil)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if err := c.SendMessage("also update the README"); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if model.count() != 2 {
		t.Errorf("model calls = %d, want a continuation turn", model.count())
	}
	if !hasUserMessage(c.Agent(), "also update the README") {
		t.Error("follow-up not in history")
	}
}

func TestSendMessageGatedOnApproval(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{calls: []NativeCall{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "a.go"}}}},
	}}
	c := newTestController(t, model, &fakeGateway{}, PermissionStandard, nil)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if err := c.SendMessage("actually, be careful with that"); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if got := c.State().Status; got != StatusWaiting {
		t.Errorf("status = %s, must stay waiting while the approval is open", got)
	}
	if model.count() != 1 {
		t.Errorf("model calls = %d, message must queue behind the approval", model.count())
	}
	if !hasUserMessage(c.Agent(), "be careful") {
		t.Error("queued message missing from history")
	}
}

func TestInterjectionDrainedNextIteration(t *testing.T) {
	model := &scriptedModel{turns: []scriptTurn{
		{block: true},
		{text: "Noted."},
	}}
	c := newTestController(t, model, &fakeGateway{}, PermissionStandard, nil)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, "streaming", func() bool { return c.State().Phase == PhaseStreaming })

	// Mid-iteration: must queue, not interrupt.
	if err := c.SendMessage("urgent note"); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	waitStatus(t, c, StatusPaused)
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	waitStatus(t, c, StatusWaiting)

	if !hasUserMessage(c.Agent(), "urgent note") {
		t.Error("interjection must reach history on the next iteration")
	}
}

func TestInvalidTransitions(t *testing.T) {
	fresh := func() *Controller {
		return newTestController(t, &scriptedModel{}, &fakeGateway{}, PermissionStandard, nil)
	}

	t.Run("pause from idle", func(t *testing.T) {
		if err := fresh().Pause(); err == nil {
			t.Error("want error")
		}
	})
	t.Run("resume from idle", func(t *testing.T) {
		if err := fresh().Resume(); err == nil {
			t.Error("want error")
		}
	})
	t.Run("retry from idle", func(t *testing.T) {
		if err := fresh().Retry(); err == nil {
			t.Error("want error")
		}
	})
	t.Run("stop from idle", func(t *testing.T) {
		if err := fresh().Stop(); err == nil {
			t.Error("want error")
		}
	})
	t.Run("approve unknown call", func(t *testing.T) {
		if err := fresh().ApproveTool("nope"); err == nil {
			t.Error("want error")
		}
	})
	t.Run("kill with nothing executing", func(t *testing.T) {
		if err := fresh().KillCurrentTool(); err == nil {
			t.Error("want error")
		}
	})
	t.Run("start while not idle", func(t *testing.T) {
		c := newTestController(t, &scriptedModel{turns: []scriptTurn{{text: "hello"}}}, &fakeGateway{}, PermissionStandard, nil)
		if err := c.Start("one"); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		waitStatus(t, c, StatusWaiting)
		if err := c.Start("two"); err == nil {
			t.Error("second Start must error while not idle")
		}
	})
}
