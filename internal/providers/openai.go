package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/parley-app/parley/internal/engine"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient implements engine.ModelClient against the OpenAI API and any
// OpenAI-compatible endpoint (Kimi, DeepSeek, Groq, local servers).
type OpenAIClient struct {
	client  *openai.Client
	model   string
	baseURL string
}

// NewOpenAIClient creates a client for the given endpoint. An empty baseURL
// means the official OpenAI API.
func NewOpenAIClient(apiKey, modelName, baseURL string) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   modelName,
		baseURL: baseURL,
	}, nil
}

// toOpenAIMessages converts engine history to the SDK's message format.
// Tool results must follow an assistant message that carried tool_calls;
// anything out of order is dropped rather than sent to a rejecting API.
func toOpenAIMessages(messages []engine.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	var prevAssistantHadCalls bool

	for i, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
			prevAssistantHadCalls = false
		case engine.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
			prevAssistantHadCalls = false
		case engine.RoleAssistant:
			// A bare empty string serializes as null and some endpoints
			// reject it; a single space is accepted everywhere.
			content := msg.Content
			if content == "" {
				content = " "
			}
			var calls []openai.ToolCall
			for _, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				calls = append(calls, openai.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: calls,
			})
			prevAssistantHadCalls = len(msg.ToolCalls) > 0
		case engine.RoleTool:
			if !prevAssistantHadCalls {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			// msg.Name carries the provider call ID, not the tool name.
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.Name,
				Content:    content,
			})
			if i+1 < len(messages) && messages[i+1].Role == engine.RoleAssistant {
				prevAssistantHadCalls = false
			}
		}
	}
	return out
}

func toOpenAITools(toolSchemas []engine.ToolSchema) ([]openai.Tool, error) {
	var tools []openai.Tool
	for _, ts := range toolSchemas {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schemaObj); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  schemaObj,
			},
		})
	}
	return tools, nil
}

// callAccumulator collects one tool call's streamed fragments. Arguments
// arrive as partial JSON strings and are only parsed at end of stream.
type callAccumulator struct {
	call     engine.NativeCall
	argsJSON strings.Builder
	index    int
}

// finish parses the accumulated arguments and fills call.Error when the
// stream left them unusable. Returns false for a nameless fragment that
// should be dropped entirely.
func (acc *callAccumulator) finish() bool {
	if acc.argsJSON.Len() == 0 {
		if acc.call.Name == "" {
			return false
		}
		acc.call.Args = make(map[string]any)
		acc.call.Error = "no arguments received; retry with complete arguments"
		return true
	}

	argsStr := acc.argsJSON.String()
	var args map[string]any
	if err := json.Unmarshal([]byte(argsStr), &args); err == nil {
		acc.call.Args = args
		return true
	}

	trimmed := strings.TrimSpace(argsStr)
	if !strings.HasSuffix(trimmed, "}") && !strings.HasSuffix(trimmed, "]") {
		log.Printf("[providers] tool call %s (%s) arguments cut off after %d bytes", acc.call.Name, acc.call.ID, acc.argsJSON.Len())
		acc.call.Error = fmt.Sprintf("stream ended before arguments completed (%d bytes received); MaxOutputTokens may be too low", acc.argsJSON.Len())
	} else {
		log.Printf("[providers] tool call %s (%s) arguments are invalid JSON", acc.call.Name, acc.call.ID)
		acc.call.Error = "arguments are not valid JSON; check syntax and retry"
	}
	acc.call.Args = make(map[string]any)
	return true
}

// Stream implements engine.ModelClient. Tool-call deltas are accumulated per
// call and emitted once the stream ends; text deltas pass through as they
// arrive. A nil on the error channel signals normal completion.
func (c *OpenAIClient) Stream(ctx context.Context, modelName string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	eventCh := make(chan engine.StreamEvent, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		defer close(errCh)

		tools, err := toOpenAITools(toolSchemas)
		if err != nil {
			errCh <- err
			return
		}

		req := openai.ChatCompletionRequest{
			Model:    modelName,
			Messages: toOpenAIMessages(messages),
			Stream:   true,
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true,
			},
		}
		if len(tools) > 0 {
			req.Tools = tools
			req.ToolChoice = "auto"
		}
		if opts.MaxOutputTokens > 0 {
			req.MaxTokens = opts.MaxOutputTokens
		}
		if opts.Temperature > 0 {
			req.Temperature = &opts.Temperature
		}

		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			status, retryAfter := extractErrorMetadata(err)
			errCh <- engine.WrapModelError(err, status, retryAfter)
			return
		}
		defer stream.Close()

		accums := make(map[string]*callAccumulator)
		nextIndex := 0
		var finalUsage engine.Usage

		for {
			response, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && !strings.Contains(err.Error(), "EOF") {
					status, retryAfter := extractErrorMetadata(err)
					errCh <- engine.WrapModelError(err, status, retryAfter)
					return
				}

				// Stream done: settle accumulated calls in arrival order.
				var finished []*callAccumulator
				for _, acc := range accums {
					if acc.finish() {
						finished = append(finished, acc)
					}
				}
				sort.SliceStable(finished, func(i, j int) bool { return finished[i].index < finished[j].index })

				for _, acc := range finished {
					select {
					case eventCh <- engine.StreamEvent{Type: "tool_call", ToolCall: acc.call}:
					case <-ctx.Done():
						return
					}
				}
				if finalUsage.Total > 0 {
					select {
					case eventCh <- engine.StreamEvent{Type: "usage", Usage: finalUsage}:
					case <-ctx.Done():
						return
					}
				}
				select {
				case errCh <- nil:
				case <-ctx.Done():
				}
				return
			}

			// The final chunk can carry usage with no choices.
			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				finalUsage = engine.Usage{
					Prompt:     response.Usage.PromptTokens,
					Completion: response.Usage.CompletionTokens,
					Total:      response.Usage.TotalTokens,
				}
			}
			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta
			if delta.Content != "" {
				select {
				case eventCh <- engine.StreamEvent{Type: "text_delta", Text: delta.Content}:
				case <-ctx.Done():
					return
				}
			}

			for _, tcDelta := range delta.ToolCalls {
				acc := resolveAccumulator(accums, tcDelta, &nextIndex)
				if acc == nil {
					continue
				}
				if tcDelta.Function.Name != "" {
					acc.call.Name = tcDelta.Function.Name
				}
				if tcDelta.Function.Arguments != "" {
					acc.argsJSON.WriteString(tcDelta.Function.Arguments)
				}
			}
		}
	}()

	return eventCh, errCh
}

// resolveAccumulator finds or creates the accumulator for a tool-call delta.
// Deltas may arrive keyed by call ID, by positional index before the ID is
// known, or with the ID appearing mid-stream for an index-keyed call.
func resolveAccumulator(accums map[string]*callAccumulator, tcDelta openai.ToolCall, nextIndex *int) *callAccumulator {
	if tcDelta.ID != "" {
		if acc, ok := accums[tcDelta.ID]; ok {
			return acc
		}
		// The call may have started under a temporary index key.
		if tcDelta.Index != nil {
			for key, acc := range accums {
				if acc.index == *tcDelta.Index {
					acc.call.ID = tcDelta.ID
					delete(accums, key)
					accums[tcDelta.ID] = acc
					return acc
				}
			}
		}
		acc := &callAccumulator{
			call:  engine.NativeCall{ID: tcDelta.ID, Args: make(map[string]any)},
			index: *nextIndex,
		}
		accums[tcDelta.ID] = acc
		*nextIndex++
		return acc
	}

	if tcDelta.Index == nil {
		return nil
	}
	for _, acc := range accums {
		if acc.index == *tcDelta.Index {
			return acc
		}
	}
	tempID := fmt.Sprintf("temp_%d", *tcDelta.Index)
	acc := &callAccumulator{
		call:  engine.NativeCall{ID: tempID, Args: make(map[string]any)},
		index: *tcDelta.Index,
	}
	accums[tempID] = acc
	return acc
}
