// Package protocol defines the NDJSON command/event vocabulary spoken
// between the desktop shell and the agent engine over stdio.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CommandType enumerates all supported shell -> engine commands.
type CommandType string

const (
	CommandStartAgent  CommandType = "start_agent"
	CommandSendMessage CommandType = "send_message"
	CommandApproveTool CommandType = "approve_tool"
	CommandRejectTool  CommandType = "reject_tool"
	CommandPause       CommandType = "pause"
	CommandResume      CommandType = "resume"
	CommandStop        CommandType = "stop"
	CommandRetry       CommandType = "retry"
	CommandForceRetry  CommandType = "force_retry"
	CommandKillTool    CommandType = "kill_tool"
	CommandGetState    CommandType = "get_state"
	CommandSaveConfig  CommandType = "save_config"
	CommandGetConfig   CommandType = "get_config"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// StartAgentCommand creates an agent and begins its first run.
type StartAgentCommand struct {
	Type       CommandType `json:"type"`
	Task       string      `json:"task"`
	Model      string      `json:"model,omitempty"`
	Permission string      `json:"permission,omitempty"` // restricted|standard|autonomous
	Workspace  string      `json:"workspace,omitempty"`
	System     string      `json:"system,omitempty"`
}

// GetType implements Command.
func (c StartAgentCommand) GetType() CommandType { return CommandStartAgent }

// SendMessageCommand injects a user message into a running conversation.
type SendMessageCommand struct {
	Type    CommandType `json:"type"`
	AgentID string      `json:"agent_id"`
	Message string      `json:"message"`
}

// GetType implements Command.
func (c SendMessageCommand) GetType() CommandType { return CommandSendMessage }

// ApproveToolCommand approves the pending tool call.
type ApproveToolCommand struct {
	Type    CommandType `json:"type"`
	AgentID string      `json:"agent_id"`
	CallID  string      `json:"call_id"`
	Always  bool        `json:"always,omitempty"` // add the tool to the always-approve list
}

// GetType implements Command.
func (c ApproveToolCommand) GetType() CommandType { return CommandApproveTool }

// RejectToolCommand rejects the pending tool call.
type RejectToolCommand struct {
	Type    CommandType `json:"type"`
	AgentID string      `json:"agent_id"`
	CallID  string      `json:"call_id"`
}

// GetType implements Command.
func (c RejectToolCommand) GetType() CommandType { return CommandRejectTool }

// AgentCommand is the shared shape of the plain lifecycle commands.
type AgentCommand struct {
	Type    CommandType `json:"type"`
	AgentID string      `json:"agent_id"`
}

// GetType implements Command.
func (c AgentCommand) GetType() CommandType { return c.Type }

// SaveConfigCommand persists user configuration.
type SaveConfigCommand struct {
	Type   CommandType       `json:"type"`
	Config map[string]string `json:"config"`
}

// GetType implements Command.
func (c SaveConfigCommand) GetType() CommandType { return CommandSaveConfig }

// GetConfigCommand requests the current configuration.
type GetConfigCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c GetConfigCommand) GetType() CommandType { return CommandGetConfig }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandStartAgent:
		var cmd StartAgentCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode start_agent: %w", err)
		}
		if cmd.Task == "" {
			return nil, errors.New("start_agent requires task")
		}
		return cmd, nil
	case CommandSendMessage:
		var cmd SendMessageCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode send_message: %w", err)
		}
		if cmd.AgentID == "" {
			return nil, errors.New("send_message requires agent_id")
		}
		if cmd.Message == "" {
			return nil, errors.New("send_message requires message")
		}
		return cmd, nil
	case CommandApproveTool:
		var cmd ApproveToolCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode approve_tool: %w", err)
		}
		if cmd.AgentID == "" || cmd.CallID == "" {
			return nil, errors.New("approve_tool requires agent_id and call_id")
		}
		return cmd, nil
	case CommandRejectTool:
		var cmd RejectToolCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode reject_tool: %w", err)
		}
		if cmd.AgentID == "" || cmd.CallID == "" {
			return nil, errors.New("reject_tool requires agent_id and call_id")
		}
		return cmd, nil
	case CommandPause, CommandResume, CommandStop, CommandRetry, CommandForceRetry, CommandKillTool, CommandGetState:
		var cmd AgentCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode %s: %w", base.Type, err)
		}
		if cmd.AgentID == "" {
			return nil, fmt.Errorf("%s requires agent_id", base.Type)
		}
		return cmd, nil
	case CommandSaveConfig:
		var cmd SaveConfigCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode save_config: %w", err)
		}
		return cmd, nil
	case CommandGetConfig:
		var cmd GetConfigCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode get_config: %w", err)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}

// NewAgentID generates a new opaque agent identifier.
func NewAgentID() string {
	return uuid.NewString()
}

// EventType enumerates engine -> shell events.
type EventType string

const (
	EventAgentState    EventType = "agent_state"
	EventAssistantText EventType = "assistant_text"
	EventStep          EventType = "step"
	EventToolRequest   EventType = "tool_request"
	EventToolResult    EventType = "tool_result"
	EventTokenUsage    EventType = "token_usage"
	EventTruncation    EventType = "truncation"
	EventVerification  EventType = "verification"
	EventFilesChanged  EventType = "files_changed"
	EventRetry         EventType = "retry"
	EventDone          EventType = "done"
	EventError         EventType = "error"
	EventConfigLoaded  EventType = "config_loaded"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into JSON for NDJSON transport.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type    EventType `json:"type"`
	AgentID string    `json:"agent_id,omitempty"`
}

func (eventBase) isEvent() {}

// AgentStateEvent communicates the lifecycle status and execution phase.
// Snapshot responses to get_state additionally carry diagnostics and the
// last error.
type AgentStateEvent struct {
	eventBase
	Status      string           `json:"status"`
	Phase       string           `json:"phase,omitempty"`
	Activity    string           `json:"activity,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	Diagnostics *DiagnosticsInfo `json:"diagnostics,omitempty"`
}

// DiagnosticsInfo summarizes run health counters for state snapshots.
type DiagnosticsInfo struct {
	Iterations       int   `json:"iterations"`
	ToolCalls        int   `json:"tool_calls"`
	ToolSucceeded    int   `json:"tool_succeeded"`
	ToolFailed       int   `json:"tool_failed"`
	AvgToolMs        int64 `json:"avg_tool_ms"`
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	RuntimeMs        int64 `json:"runtime_ms"`
}

// NewAgentStateEvent constructs an agent_state event.
func NewAgentStateEvent(agentID, status, phase, activity string) AgentStateEvent {
	return AgentStateEvent{
		eventBase: eventBase{Type: EventAgentState, AgentID: agentID},
		Status:    status,
		Phase:     phase,
		Activity:  activity,
	}
}

// NewStateSnapshotEvent constructs the full agent_state snapshot returned
// for get_state commands.
func NewStateSnapshotEvent(agentID, status, phase, activity, lastError string, diag *DiagnosticsInfo) AgentStateEvent {
	ev := NewAgentStateEvent(agentID, status, phase, activity)
	ev.LastError = lastError
	ev.Diagnostics = diag
	return ev
}

// GetType implements Event.
func (e AgentStateEvent) GetType() EventType { return e.Type }

// AssistantTextEvent streams assistant text back to the shell.
type AssistantTextEvent struct {
	eventBase
	Content string `json:"content"`
	Final   bool   `json:"final,omitempty"`
}

// NewAssistantTextEvent constructs an assistant_text event.
func NewAssistantTextEvent(agentID, content string, final bool) AssistantTextEvent {
	return AssistantTextEvent{
		eventBase: eventBase{Type: EventAssistantText, AgentID: agentID},
		Content:   content,
		Final:     final,
	}
}

// GetType implements Event.
func (e AssistantTextEvent) GetType() EventType { return e.Type }

// StepEvent mirrors one audit step of the agent's timeline.
type StepEvent struct {
	eventBase
	StepID  string `json:"step_id"`
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	Tool    string `json:"tool,omitempty"`
	CallID  string `json:"call_id,omitempty"`
}

// NewStepEvent constructs a step event.
func NewStepEvent(agentID, stepID, kind, content, tool, callID string) StepEvent {
	return StepEvent{
		eventBase: eventBase{Type: EventStep, AgentID: agentID},
		StepID:    stepID,
		Kind:      kind,
		Content:   content,
		Tool:      tool,
		CallID:    callID,
	}
}

// GetType implements Event.
func (e StepEvent) GetType() EventType { return e.Type }

// ToolRequestEvent surfaces a call awaiting human approval.
type ToolRequestEvent struct {
	eventBase
	CallID      string         `json:"call_id"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Risk        string         `json:"risk"`
	Origin      string         `json:"origin,omitempty"`
}

// NewToolRequestEvent constructs a tool_request event.
func NewToolRequestEvent(agentID, callID, tool string, args map[string]any, explanation, risk, origin string) ToolRequestEvent {
	return ToolRequestEvent{
		eventBase:   eventBase{Type: EventToolRequest, AgentID: agentID},
		CallID:      callID,
		Tool:        tool,
		Args:        args,
		Explanation: explanation,
		Risk:        risk,
		Origin:      origin,
	}
}

// GetType implements Event.
func (e ToolRequestEvent) GetType() EventType { return e.Type }

// ToolResultEvent reports a settled tool execution.
type ToolResultEvent struct {
	eventBase
	CallID     string `json:"call_id"`
	Tool       string `json:"tool"`
	Success    bool   `json:"success"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// NewToolResultEvent constructs a tool_result event.
func NewToolResultEvent(agentID, callID, tool string, success bool, result, errMsg string, durationMs int64) ToolResultEvent {
	return ToolResultEvent{
		eventBase:  eventBase{Type: EventToolResult, AgentID: agentID},
		CallID:     callID,
		Tool:       tool,
		Success:    success,
		Result:     result,
		Error:      errMsg,
		DurationMs: durationMs,
	}
}

// GetType implements Event.
func (e ToolResultEvent) GetType() EventType { return e.Type }

// TokenUsageEvent reports derived context-window metrics.
type TokenUsageEvent struct {
	eventBase
	ContextUsed  int     `json:"context_used"`
	ContextMax   int     `json:"context_max"`
	UsagePercent float64 `json:"usage_percent"`
	WarningLevel string  `json:"warning_level"`
	Approximate  bool    `json:"approximate,omitempty"`
}

// NewTokenUsageEvent constructs a token_usage event.
func NewTokenUsageEvent(agentID string, used, max int, percent float64, level string, approx bool) TokenUsageEvent {
	return TokenUsageEvent{
		eventBase:    eventBase{Type: EventTokenUsage, AgentID: agentID},
		ContextUsed:  used,
		ContextMax:   max,
		UsagePercent: percent,
		WarningLevel: level,
		Approximate:  approx,
	}
}

// GetType implements Event.
func (e TokenUsageEvent) GetType() EventType { return e.Type }

// TruncationEvent reports that history was trimmed to fit the window.
type TruncationEvent struct {
	eventBase
	Removed int `json:"removed"`
}

// NewTruncationEvent constructs a truncation event.
func NewTruncationEvent(agentID string, removed int) TruncationEvent {
	return TruncationEvent{
		eventBase: eventBase{Type: EventTruncation, AgentID: agentID},
		Removed:   removed,
	}
}

// GetType implements Event.
func (e TruncationEvent) GetType() EventType { return e.Type }

// VerificationEvent reports the completion gate's decision.
type VerificationEvent struct {
	eventBase
	Complete bool     `json:"complete"`
	Stage    string   `json:"stage"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewVerificationEvent constructs a verification event.
func NewVerificationEvent(agentID string, complete bool, stage, reason string, warnings []string) VerificationEvent {
	return VerificationEvent{
		eventBase: eventBase{Type: EventVerification, AgentID: agentID},
		Complete:  complete,
		Stage:     stage,
		Reason:    reason,
		Warnings:  warnings,
	}
}

// GetType implements Event.
func (e VerificationEvent) GetType() EventType { return e.Type }

// FilesChangedEvent communicates workspace file modifications.
type FilesChangedEvent struct {
	eventBase
	Files []string `json:"files"`
}

// NewFilesChangedEvent constructs a files_changed event.
func NewFilesChangedEvent(agentID string, files []string) FilesChangedEvent {
	return FilesChangedEvent{
		eventBase: eventBase{Type: EventFilesChanged, AgentID: agentID},
		Files:     files,
	}
}

// GetType implements Event.
func (e FilesChangedEvent) GetType() EventType { return e.Type }

// RetryEvent reports an automatic retry of the model stream.
type RetryEvent struct {
	eventBase
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	DelayMs     int64  `json:"delay_ms"`
	Reason      string `json:"reason,omitempty"`
}

// NewRetryEvent constructs a retry event.
func NewRetryEvent(agentID string, attempt, maxAttempts int, delayMs int64, reason string) RetryEvent {
	return RetryEvent{
		eventBase:   eventBase{Type: EventRetry, AgentID: agentID},
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		DelayMs:     delayMs,
		Reason:      reason,
	}
}

// GetType implements Event.
func (e RetryEvent) GetType() EventType { return e.Type }

// DoneEvent signals a verified completion.
type DoneEvent struct {
	eventBase
	Summary      string   `json:"summary,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
}

// NewDoneEvent constructs a done event.
func NewDoneEvent(agentID, summary string, files []string) DoneEvent {
	return DoneEvent{
		eventBase:    eventBase{Type: EventDone, AgentID: agentID},
		Summary:      summary,
		FilesChanged: files,
	}
}

// GetType implements Event.
func (e DoneEvent) GetType() EventType { return e.Type }

// ErrorEvent reports recoverable protocol or engine issues.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(agentID, message, kind string) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError, AgentID: agentID},
		Message:   message,
		Kind:      kind,
	}
}

// GetType implements Event.
func (e ErrorEvent) GetType() EventType { return e.Type }

// ConfigLoadedEvent returns the active configuration, secrets masked.
type ConfigLoadedEvent struct {
	eventBase
	Config map[string]string `json:"config"`
}

// NewConfigLoadedEvent constructs a config_loaded event.
func NewConfigLoadedEvent(config map[string]string) ConfigLoadedEvent {
	return ConfigLoadedEvent{
		eventBase: eventBase{Type: EventConfigLoaded},
		Config:    config,
	}
}

// GetType implements Event.
func (e ConfigLoadedEvent) GetType() EventType { return e.Type }
