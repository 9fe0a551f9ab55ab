package engine

import (
	"context"
	"fmt"
	"time"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ChatMessage is the provider-agnostic message we pass around.
type ChatMessage struct {
	Role    MessageRole // Role of the message sender
	Content string      // Message content
	Name    string      // Optional: tool call ID for tool messages
	// ToolCalls stores the calls made by this assistant message. Providers
	// require tool_calls on assistant messages when converting back.
	ToolCalls []NativeCall
}

// Validate checks if the ChatMessage is valid.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleTool && m.Name == "" {
		return fmt.Errorf("tool messages must have a Name field")
	}
	return nil
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// NativeCall is a function call the provider surfaced as a typed event.
type NativeCall struct {
	ID    string // Provider-specific call ID (e.g., OpenAI's call_xxx)
	Name  string
	Args  map[string]any
	Error string // Set by provider if the call arrived incomplete (e.g., stream cut off)
}

// StreamEvent represents a streaming event from the model.
type StreamEvent struct {
	Type     string     // "text_delta" | "tool_call" | "usage"
	Text     string     // for text_delta
	ToolCall NativeCall // for tool_call
	Usage    Usage      // for usage
}

// ModelClient abstracts the provider SDK (OpenAI-compatible, Anthropic, etc.).
// Exactly one of: a nil error on the error channel, or a non-nil error, ends
// a request. Callers must drain both channels until closed.
type ModelClient interface {
	Stream(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (<-chan StreamEvent, <-chan error)
}

// ChatOptions keeps knobs forwarded to the SDK.
type ChatOptions struct {
	Temperature     float32
	MaxOutputTokens int
}

// ToolSchema is the JSON schema the provider expects for function calling.
type ToolSchema struct {
	Name        string
	Description string
	JSONSchema  string // raw JSON string
}

// ToolOutcome is the gateway's answer to one tool request. Failures are
// carried in the struct, never as a Go error: the loop feeds them back to
// the model like any other result.
type ToolOutcome struct {
	Success  bool
	Result   string
	Error    string
	Duration time.Duration
}

// ToolGateway executes tool requests against a locally registered tool set.
// serverName selects a tool server; implementations fall back to their
// built-in server when the name is unknown. skipApproval marks calls the
// engine already auto-approved.
//
// Requests are not cancellable once dispatched: cancelling ctx stops the
// caller from waiting but the underlying tool may still run to completion.
type ToolGateway interface {
	Request(ctx context.Context, serverName, toolName string, args map[string]any, explanation string, skipApproval bool) ToolOutcome
}

// ApprovalSource exposes the user-maintained always-approve list.
// Read-mostly; the engine refreshes it once per tool-call decision.
type ApprovalSource interface {
	AlwaysApprove() []string
}

// ChangeInspector checks claimed file changes against whatever change
// evidence the workspace offers, typically version control.
type ChangeInspector interface {
	VerifyChanges(ctx context.Context, dir string, expectedFiles []string) (ChangeReport, error)
}

// ChangeReport is the result of comparing claimed paths to actual changes.
type ChangeReport struct {
	Verified       bool
	Skipped        bool // no change evidence available for this directory
	ChangedFiles   []string
	MissingChanges []string
}

// BuildChecker runs a project's build or type check.
type BuildChecker interface {
	Verify(ctx context.Context, dir string) (BuildReport, error)
}

// BuildReport is the result of one build/type check run.
type BuildReport struct {
	Success    bool
	Skipped    bool // no recognized project type, nothing to check
	ErrorCount int
	Errors     []string
}

// Journal is the durable work-journal collaborator. Every call is
// fire-and-forget from the loop's perspective: failures are logged and
// swallowed, never escalate.
type Journal interface {
	CreateSession(ctx context.Context, title string) (string, error)
	LogEntry(ctx context.Context, sessionID, kind, content string, importance int) error
	CreateCheckpoint(ctx context.Context, sessionID string) error
	UpdateSessionStatus(ctx context.Context, sessionID, status string) error
}
