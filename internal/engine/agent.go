package engine

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the caller-visible lifecycle state of an agent.
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusRunning   AgentStatus = "running"
	StatusWaiting   AgentStatus = "waiting" // needs approval or the next user turn
	StatusPaused    AgentStatus = "paused"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
)

// ExecPhase is the fine-grained activity label inside a running iteration.
// It never drives control flow on its own; the watchdog and UI read it.
type ExecPhase string

const (
	PhaseIdle             ExecPhase = "idle"
	PhaseBuildingContext  ExecPhase = "building_context"
	PhaseCallingModel     ExecPhase = "calling_model"
	PhaseStreaming        ExecPhase = "streaming"
	PhaseExecutingTool    ExecPhase = "executing_tool"
	PhaseAwaitingApproval ExecPhase = "awaiting_approval"
	PhaseVerifying        ExecPhase = "verifying"
)

// StepKind classifies an audit step.
type StepKind string

const (
	StepThinking   StepKind = "thinking"
	StepToolCall   StepKind = "tool_call"
	StepToolResult StepKind = "tool_result"
	StepError      StepKind = "error"
	StepMessage    StepKind = "message"
)

// CallStatus is the lifecycle of one requested tool call.
type CallStatus string

const (
	CallPending   CallStatus = "pending"
	CallApproved  CallStatus = "approved"
	CallRejected  CallStatus = "rejected"
	CallCompleted CallStatus = "completed"
	CallFailed    CallStatus = "failed"
)

// CallOrigin records which extraction strategy produced a call.
type CallOrigin string

const (
	OriginLegacy CallOrigin = "legacy" // parsed out of assistant text
	OriginNative CallOrigin = "native" // typed function-call event from the provider
)

// ToolCallRecord is the mutable sub-record embedded in tool_call steps.
// Status is the only field that changes after creation.
type ToolCallRecord struct {
	ID           string         `json:"id"`
	Tool         string         `json:"tool"`
	Args         map[string]any `json:"args"`
	Status       CallStatus     `json:"status"`
	Result       string         `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty"`
	AutoApproved bool           `json:"autoApproved"`
	Explanation  string         `json:"explanation,omitempty"`
	Risk         RiskTier       `json:"risk"`
	Origin       CallOrigin     `json:"origin"`
}

// Terminal reports whether the record can no longer change status.
func (r *ToolCallRecord) Terminal() bool {
	switch r.Status {
	case CallCompleted, CallFailed, CallRejected:
		return true
	}
	return false
}

// Approve moves pending → approved. Synthetic approvals (auto-approval under
// standard/autonomous tiers) pass auto=true. Returns false if the record is
// not pending; a second approve on the same record is a no-op.
func (r *ToolCallRecord) Approve(auto bool) bool {
	if r.Status != CallPending {
		return false
	}
	r.Status = CallApproved
	r.AutoApproved = auto
	return true
}

// Reject moves pending → rejected. No-op on any other status.
func (r *ToolCallRecord) Reject() bool {
	if r.Status != CallPending {
		return false
	}
	r.Status = CallRejected
	return true
}

// Settle moves approved → completed|failed with the execution outcome.
func (r *ToolCallRecord) Settle(out ToolOutcome) bool {
	if r.Status != CallApproved {
		return false
	}
	if out.Success {
		r.Status = CallCompleted
	} else {
		r.Status = CallFailed
	}
	r.Result = out.Result
	r.Error = out.Error
	r.Duration = out.Duration
	return true
}

// AgentStep is one immutable audit record. Only the embedded ToolCall's
// status mutates after append.
type AgentStep struct {
	ID        string          `json:"id"`
	Kind      StepKind        `json:"kind"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	ToolCall  *ToolCallRecord `json:"toolCall,omitempty"`
}

// AgentConfig is the immutable configuration an agent starts with.
type AgentConfig struct {
	Instructions string
	Permission   PermissionTier
	Model        string
	Workspace    string // working directory for tools and verification; may be empty
	SeedContext  string // extra context prepended to the first user turn
}

// Agent is one running task instance. Owned exclusively by its Controller:
// no other component writes to it, and it has no lifetime beyond its owner.
type Agent struct {
	ID     string
	Config AgentConfig

	Status      AgentStatus
	Messages    []ChatMessage
	Steps       []*AgentStep
	PendingCall *ToolCallRecord // at most one visible to the UI at a time

	JournalID string // opaque work-journal session; empty if journaling is off

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

// NewAgent builds an idle agent with the system prompt seeded into history.
func NewAgent(cfg AgentConfig) *Agent {
	a := &Agent{
		ID:        uuid.NewString(),
		Config:    cfg,
		Status:    StatusIdle,
		CreatedAt: time.Now(),
	}
	if cfg.Instructions != "" {
		a.Messages = append(a.Messages, ChatMessage{Role: RoleSystem, Content: cfg.Instructions})
	}
	return a
}

// AddStep appends an audit step and returns it.
func (a *Agent) AddStep(kind StepKind, content string) *AgentStep {
	st := &AgentStep{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	}
	a.Steps = append(a.Steps, st)
	return st
}

// AddToolStep appends a tool_call step wrapping the given record.
func (a *Agent) AddToolStep(rec *ToolCallRecord) *AgentStep {
	st := a.AddStep(StepToolCall, rec.Tool)
	st.ToolCall = rec
	return st
}

// Append adds a message to the conversation history.
func (a *Agent) Append(msg ChatMessage) { a.Messages = append(a.Messages, msg) }

// FindCall locates a tool call record by ID across all steps.
func (a *Agent) FindCall(id string) *ToolCallRecord {
	for i := len(a.Steps) - 1; i >= 0; i-- {
		if rec := a.Steps[i].ToolCall; rec != nil && rec.ID == id {
			return rec
		}
	}
	return nil
}

// RunnerState is the exposed snapshot of a controller's live state.
type RunnerState struct {
	IsRunning   bool
	IsStreaming bool
	IsRetrying  bool
	Buffer      string // streamed text accumulated for the current turn
	Status      AgentStatus
	Phase       ExecPhase
	Activity    string // human-readable label for the current phase
	Tokens      TokenMetrics
	Diagnostics DiagnosticsSnapshot
	LastError   string
}
