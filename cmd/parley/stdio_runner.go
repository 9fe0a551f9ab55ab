package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parley-app/parley/internal/config"
	"github.com/parley-app/parley/internal/engine"
	"github.com/parley-app/parley/internal/factory"
	"github.com/parley-app/parley/internal/journal"
	"github.com/parley-app/parley/internal/project"
	"github.com/parley-app/parley/internal/protocol"
)

func runStdIOEngine(ctx context.Context, env *runtimeEnv) error {
	log.Println("starting engine stdio bridge")
	runner := newStdIORunner(os.Stdin, os.Stdout, env)
	defer runner.manager.Close()
	if runner.config != nil && !runner.config.Exists() {
		runner.emitEvent(protocol.NewAgentStateEvent("", "setup_required", "",
			"no saved configuration; send save_config with provider credentials"))
	}
	runner.emitEvent(protocol.NewAgentStateEvent("", "ready", "", "stdio protocol ready"))
	return runner.Run(ctx)
}

type stdioRunner struct {
	scanner *bufio.Scanner
	writer  *bufio.Writer
	events  chan protocol.Event
	manager *agentManager
	config  *config.Manager
}

func newStdIORunner(in io.Reader, out io.Writer, env *runtimeEnv) *stdioRunner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	events := make(chan protocol.Event, 256)

	cfgManager, err := config.NewManager()
	if err != nil {
		log.Printf("config manager unavailable: %v", err)
	} else {
		applyConfigToEnv(cfgManager.Current(), false)
	}

	return &stdioRunner{
		scanner: scanner,
		writer:  bufio.NewWriter(out),
		events:  events,
		manager: newAgentManager(env, cfgManager, events),
		config:  cfgManager,
	}
}

func (r *stdioRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go r.flushEvents(ctx, errCh)

	for {
		select {
		case <-ctx.Done():
			close(r.events)
			return <-errCh
		default:
		}

		if !r.scanner.Scan() {
			break
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		// Commands are handled off the input loop so approve/stop/pause get
		// through while a run is active.
		go func(l string) {
			if err := r.handleLine(ctx, l); err != nil {
				log.Printf("stdio command error: %v", err)
			}
		}(line)
	}

	if err := r.scanner.Err(); err != nil {
		r.emitEvent(protocol.NewErrorEvent("", fmt.Sprintf("stdin error: %v", err), "protocol_error"))
	}

	close(r.events)
	return <-errCh
}

func (r *stdioRunner) flushEvents(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			errCh <- nil
			return
		case ev, ok := <-r.events:
			if !ok {
				if err := r.writer.Flush(); err != nil {
					errCh <- err
					return
				}
				errCh <- nil
				return
			}
			if err := r.writeEvent(ev); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (r *stdioRunner) writeEvent(ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return r.writer.Flush()
}

func (r *stdioRunner) emitEvent(ev protocol.Event) {
	select {
	case r.events <- ev:
	default:
		log.Printf("stdio: dropping event %s due to full buffer", ev.GetType())
	}
}

func (r *stdioRunner) handleLine(ctx context.Context, line string) error {
	cmd, err := protocol.DecodeCommand([]byte(line))
	if err != nil {
		r.emitEvent(protocol.NewErrorEvent("", err.Error(), "invalid_command"))
		return err
	}

	switch c := cmd.(type) {
	case protocol.StartAgentCommand:
		handle, serr := r.manager.StartAgent(ctx, c)
		if serr != nil {
			r.emitEvent(protocol.NewErrorEvent("", serr.Error(), "agent_error"))
			return serr
		}
		log.Printf("agent %s started in %s", handle.id, handle.workspace)
		return nil

	case protocol.SendMessageCommand:
		handle, herr := r.manager.Get(c.AgentID)
		if herr != nil {
			r.emitEvent(protocol.NewErrorEvent(c.AgentID, herr.Error(), "agent_error"))
			return herr
		}
		if err := handle.controller.SendMessage(c.Message); err != nil {
			r.emitEvent(protocol.NewErrorEvent(c.AgentID, err.Error(), "engine_error"))
			return err
		}
		return nil

	case protocol.ApproveToolCommand:
		handle, herr := r.manager.Get(c.AgentID)
		if herr != nil {
			r.emitEvent(protocol.NewErrorEvent(c.AgentID, herr.Error(), "agent_error"))
			return herr
		}
		if c.Always && r.config != nil {
			if rec := handle.controller.Agent().FindCall(c.CallID); rec != nil {
				if err := r.config.AddAlwaysApprove(rec.Tool); err != nil {
					log.Printf("persist always-approve for %s: %v", rec.Tool, err)
				}
			}
		}
		if err := handle.controller.ApproveTool(c.CallID); err != nil {
			r.emitEvent(protocol.NewErrorEvent(c.AgentID, err.Error(), "approval_error"))
			return err
		}
		return nil

	case protocol.RejectToolCommand:
		handle, herr := r.manager.Get(c.AgentID)
		if herr != nil {
			r.emitEvent(protocol.NewErrorEvent(c.AgentID, herr.Error(), "agent_error"))
			return herr
		}
		if err := handle.controller.RejectTool(c.CallID); err != nil {
			r.emitEvent(protocol.NewErrorEvent(c.AgentID, err.Error(), "approval_error"))
			return err
		}
		return nil

	case protocol.AgentCommand:
		return r.handleLifecycle(c)

	case protocol.SaveConfigCommand:
		if r.config == nil {
			r.emitEvent(protocol.NewErrorEvent("", "config manager not initialized", "config_error"))
			return fmt.Errorf("config manager not initialized")
		}
		if err := r.config.SetValues(c.Config); err != nil {
			r.emitEvent(protocol.NewErrorEvent("", err.Error(), "config_error"))
			return err
		}
		// Export the new values so the next start_agent picks them up.
		applyConfigToEnv(r.config.Current(), true)
		r.emitEvent(protocol.NewConfigLoadedEvent(r.config.Values()))
		return nil

	case protocol.GetConfigCommand:
		if r.config == nil {
			r.emitEvent(protocol.NewConfigLoadedEvent(map[string]string{}))
			return nil
		}
		r.emitEvent(protocol.NewConfigLoadedEvent(r.config.Values()))
		return nil

	default:
		r.emitEvent(protocol.NewErrorEvent("", "unsupported command", "invalid_command"))
		return fmt.Errorf("unsupported command type %T", cmd)
	}
}

func (r *stdioRunner) handleLifecycle(c protocol.AgentCommand) error {
	handle, herr := r.manager.Get(c.AgentID)
	if herr != nil {
		r.emitEvent(protocol.NewErrorEvent(c.AgentID, herr.Error(), "agent_error"))
		return herr
	}
	ctrl := handle.controller

	var err error
	switch c.Type {
	case protocol.CommandPause:
		err = ctrl.Pause()
	case protocol.CommandResume:
		err = ctrl.Resume()
	case protocol.CommandStop:
		err = ctrl.Stop()
	case protocol.CommandRetry:
		err = ctrl.Retry()
	case protocol.CommandForceRetry:
		err = ctrl.ForceRetry()
	case protocol.CommandKillTool:
		err = ctrl.KillCurrentTool()
	case protocol.CommandGetState:
		st := ctrl.State()
		r.emitEvent(protocol.NewStateSnapshotEvent(c.AgentID, string(st.Status), string(st.Phase),
			st.Activity, st.LastError, diagnosticsInfo(st.Diagnostics)))
		r.emitEvent(protocol.NewTokenUsageEvent(c.AgentID, st.Tokens.ContextUsed, st.Tokens.ContextMax,
			st.Tokens.UsagePercent, string(st.Tokens.WarningLevel), st.Tokens.Approximate))
		return nil
	default:
		err = fmt.Errorf("unsupported lifecycle command: %s", c.Type)
	}
	if err != nil {
		r.emitEvent(protocol.NewErrorEvent(c.AgentID, err.Error(), "engine_error"))
		return err
	}
	return nil
}

type agentManager struct {
	mu      sync.Mutex
	agents  map[string]*agentHandle
	env     *runtimeEnv
	config  *config.Manager // may be nil
	journal *journal.Store  // may be nil
	events  chan<- protocol.Event
}

func newAgentManager(env *runtimeEnv, cfgManager *config.Manager, sink chan<- protocol.Event) *agentManager {
	m := &agentManager{
		agents: make(map[string]*agentHandle),
		env:    env,
		config: cfgManager,
		events: sink,
	}

	path := journalPath(cfgManager)
	if path == "" {
		return m
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("work journal disabled: %v", err)
		return m
	}
	store, err := journal.Open(context.Background(), path)
	if err != nil {
		log.Printf("work journal disabled: %v", err)
		return m
	}
	m.journal = store
	return m
}

// journalPath prefers the configured location, falling back to the user
// config directory.
func journalPath(cfgManager *config.Manager) string {
	if cfgManager != nil {
		if p := cfgManager.Current().JournalPath; p != "" {
			return p
		}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		log.Printf("work journal disabled: %v", err)
		return ""
	}
	return filepath.Join(dir, "parley", "journal.db")
}

func (m *agentManager) StartAgent(ctx context.Context, cmd protocol.StartAgentCommand) (*agentHandle, error) {
	workspace := cmd.Workspace
	if workspace == "" {
		workspace = m.env.Workspace
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}
	info, err := os.Stat(absWorkspace)
	if err != nil {
		return nil, fmt.Errorf("workspace not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace is not a directory: %s", absWorkspace)
	}

	projCfg, perr := project.Load(absWorkspace)
	if perr != nil {
		log.Printf("workspace config unreadable: %v", perr)
	}

	permission, err := parsePermission(cmd.Permission, m.fallbackPermission(projCfg))
	if err != nil {
		return nil, err
	}

	var approvals engine.ApprovalSource
	if m.config != nil {
		approvals = m.config
	}
	var journalSink engine.Journal
	if m.journal != nil {
		journalSink = m.journal
	}

	handle := &agentHandle{workspace: absWorkspace, events: m.events}
	hook := &protocolHook{handle: handle}

	model := cmd.Model
	if model == "" {
		model = m.env.Model
	}
	rt, err := factory.Build(ctx, factory.Options{
		Workspace:    absWorkspace,
		Model:        model,
		Permission:   permission,
		Instructions: cmd.System,
		ToolTimeout:  m.toolTimeout(projCfg),
		Approvals:    approvals,
		Journal:      journalSink,
		Hooks:        engine.Hooks{hook},
	})
	if err != nil {
		return nil, err
	}
	handle.id = rt.Agent.ID
	handle.controller = rt.Controller
	handle.runtime = rt

	m.mu.Lock()
	m.agents[handle.id] = handle
	m.mu.Unlock()

	// The shell needs the agent id before any hook event references it.
	handle.emit(protocol.NewAgentStateEvent(handle.id, string(rt.Agent.Status), "", "agent created"))

	if err := rt.Controller.Start(cmd.Task); err != nil {
		m.mu.Lock()
		delete(m.agents, handle.id)
		m.mu.Unlock()
		handle.close()
		return nil, err
	}
	return handle, nil
}

// fallbackPermission resolves the default tier when start_agent does not
// name one: CLI flag, then workspace settings, then the saved global
// configuration.
func (m *agentManager) fallbackPermission(proj *project.Config) string {
	if m.env.Permission != "" {
		return m.env.Permission
	}
	if proj != nil && proj.Permission != "" {
		return proj.Permission
	}
	if m.config != nil {
		return m.config.Current().Permission
	}
	return ""
}

// toolTimeout resolves the per-tool timeout the same way; zero keeps the
// engine default.
func (m *agentManager) toolTimeout(proj *project.Config) time.Duration {
	if proj != nil {
		if d := proj.ToolTimeoutDuration(); d > 0 {
			return d
		}
	}
	if m.config != nil {
		return m.config.Current().ToolTimeoutDuration()
	}
	return 0
}

func (m *agentManager) Get(id string) (*agentHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("unknown agent_id: %s", id)
	}
	return handle, nil
}

// Close releases every agent's resources and the shared journal.
func (m *agentManager) Close() {
	m.mu.Lock()
	handles := make([]*agentHandle, 0, len(m.agents))
	for _, h := range m.agents {
		handles = append(handles, h)
	}
	m.agents = make(map[string]*agentHandle)
	m.mu.Unlock()

	for _, h := range handles {
		h.close()
	}
	if m.journal != nil {
		if err := m.journal.Close(); err != nil {
			log.Printf("close journal: %v", err)
		}
	}
}

func parsePermission(requested, fallback string) (engine.PermissionTier, error) {
	tier := requested
	if tier == "" {
		tier = fallback
	}
	switch tier {
	case "", string(engine.PermissionStandard):
		return engine.PermissionStandard, nil
	case string(engine.PermissionRestricted):
		return engine.PermissionRestricted, nil
	case string(engine.PermissionAutonomous):
		return engine.PermissionAutonomous, nil
	default:
		return "", fmt.Errorf("unknown permission tier: %s", tier)
	}
}

// agentHandle pairs one agent's runtime with the event sink it reports
// through.
type agentHandle struct {
	id         string
	workspace  string
	controller *engine.Controller
	runtime    *factory.Runtime
	events     chan<- protocol.Event
}

func (h *agentHandle) emit(ev protocol.Event) {
	select {
	case h.events <- ev:
	default:
		log.Printf("agent %s: dropping event %s due to full buffer", h.id, ev.GetType())
	}
}

func (h *agentHandle) changedFiles(ctx context.Context) []string {
	return h.runtime.ChangedFiles(ctx)
}

func (h *agentHandle) close() {
	h.runtime.Close()
}

// protocolHook translates engine callbacks into protocol events. All
// callbacks except OnToolStart arrive on the controller's drive goroutine,
// so the assistant-text buffer needs no lock.
type protocolHook struct {
	engine.NopHook
	handle *agentHandle
	buf    strings.Builder
}

func (h *protocolHook) OnRunStart(_ context.Context, a *engine.Agent) {
	h.buf.Reset()
	h.handle.emit(protocol.NewAgentStateEvent(a.ID, string(a.Status), "", "run started"))
}

func (h *protocolHook) OnStatusChange(_ context.Context, a *engine.Agent, from, to engine.AgentStatus) {
	h.handle.emit(protocol.NewAgentStateEvent(a.ID, string(to), "", ""))
}

func (h *protocolHook) OnPhaseChange(_ context.Context, a *engine.Agent, phase engine.ExecPhase, activity string) {
	h.handle.emit(protocol.NewAgentStateEvent(a.ID, string(a.Status), string(phase), activity))
}

func (h *protocolHook) OnStreamDelta(_ context.Context, a *engine.Agent, delta string) {
	if delta == "" {
		return
	}
	h.buf.WriteString(delta)
	h.handle.emit(protocol.NewAssistantTextEvent(a.ID, delta, false))
}

func (h *protocolHook) OnStepAdded(_ context.Context, a *engine.Agent, step *engine.AgentStep) {
	// A non-empty buffer means this step carries the assistant turn that was
	// just streamed; it closes the incremental assistant_text sequence.
	if h.buf.Len() > 0 && (step.Kind == engine.StepThinking || step.Kind == engine.StepMessage) {
		h.handle.emit(protocol.NewAssistantTextEvent(a.ID, step.Content, true))
		h.buf.Reset()
	}

	tool, callID := "", ""
	if step.ToolCall != nil {
		tool = step.ToolCall.Tool
		callID = step.ToolCall.ID
	}
	h.handle.emit(protocol.NewStepEvent(a.ID, step.ID, string(step.Kind), truncate(step.Content, 500), tool, callID))
}

func (h *protocolHook) OnToolEnd(_ context.Context, a *engine.Agent, rec *engine.ToolCallRecord) {
	success := rec.Status == engine.CallCompleted
	h.handle.emit(protocol.NewToolResultEvent(a.ID, rec.ID, rec.Tool, success,
		truncate(rec.Result, 2000), rec.Error, rec.Duration.Milliseconds()))
}

func (h *protocolHook) OnApprovalRequired(_ context.Context, a *engine.Agent, rec *engine.ToolCallRecord) {
	h.handle.emit(protocol.NewToolRequestEvent(a.ID, rec.ID, rec.Tool, rec.Args,
		rec.Explanation, string(rec.Risk), string(rec.Origin)))
}

func (h *protocolHook) OnTokenUsage(_ context.Context, a *engine.Agent, m engine.TokenMetrics) {
	h.handle.emit(protocol.NewTokenUsageEvent(a.ID, m.ContextUsed, m.ContextMax,
		m.UsagePercent, string(m.WarningLevel), m.Approximate))
}

func (h *protocolHook) OnTruncation(_ context.Context, a *engine.Agent, removed int) {
	h.handle.emit(protocol.NewTruncationEvent(a.ID, removed))
}

func (h *protocolHook) OnVerification(_ context.Context, a *engine.Agent, v engine.Verdict) {
	h.handle.emit(protocol.NewVerificationEvent(a.ID, v.Complete, v.Stage, v.Reason, v.Warnings))
}

func (h *protocolHook) OnRetryAttempt(_ context.Context, a *engine.Agent, attempt, maxAttempts int, delay time.Duration, err error) {
	h.handle.emit(protocol.NewRetryEvent(a.ID, attempt, maxAttempts, delay.Milliseconds(), err.Error()))
}

func (h *protocolHook) OnError(_ context.Context, a *engine.Agent, err error) {
	h.handle.emit(protocol.NewErrorEvent(a.ID, err.Error(), "engine_error"))
}

func (h *protocolHook) OnDone(_ context.Context, a *engine.Agent) {
	summary := finalSummary(a)
	id := a.ID
	// Gathering change evidence shells out to git; keep that off the loop.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		files := h.handle.changedFiles(ctx)
		if len(files) > 0 {
			h.handle.emit(protocol.NewFilesChangedEvent(id, files))
		}
		h.handle.emit(protocol.NewDoneEvent(id, summary, files))
	}()
}

// finalSummary is the last assistant turn with the completion marker
// stripped out.
func finalSummary(a *engine.Agent) string {
	for i := len(a.Messages) - 1; i >= 0; i-- {
		if a.Messages[i].Role != engine.RoleAssistant {
			continue
		}
		text := strings.ReplaceAll(a.Messages[i].Content, engine.CompletionMarker, "")
		return strings.TrimSpace(text)
	}
	return ""
}

// diagnosticsInfo converts an engine snapshot into its protocol form.
func diagnosticsInfo(d engine.DiagnosticsSnapshot) *protocol.DiagnosticsInfo {
	return &protocol.DiagnosticsInfo{
		Iterations:       d.Iterations,
		ToolCalls:        d.ToolCalls,
		ToolSucceeded:    d.ToolSucceeded,
		ToolFailed:       d.ToolFailed,
		AvgToolMs:        d.AvgToolDuration.Milliseconds(),
		PromptTokens:     d.PromptTokens,
		CompletionTokens: d.CompletionTokens,
		RuntimeMs:        d.TotalRuntime.Milliseconds(),
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}
