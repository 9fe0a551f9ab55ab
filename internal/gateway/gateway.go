// Package gateway executes tool requests against a locally registered tool
// set: filesystem access, workspace search, and sandboxed command execution.
package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/parley-app/parley/internal/engine"
	"github.com/parley-app/parley/internal/sandbox"
)

// Tool is one locally registered tool. Fn returns the payload fed back to
// the model; errors become failed outcomes, they never abort the run.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Mutating    bool // invalidates the search index on success
	Fn          func(ctx context.Context, args map[string]any) (string, error)
}

// Gateway implements engine.ToolGateway over a registry of built-in tools.
type Gateway struct {
	root    string
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string
	index   *fileIndex
}

// New creates a gateway rooted at workspaceRoot with the built-in tool set
// registered. The runner backs run_command; pass nil to use the default
// sandbox runner.
func New(workspaceRoot string, runner sandbox.Runner) (*Gateway, error) {
	if runner == nil {
		runner = sandbox.NewDefaultRunner()
	}

	g := &Gateway{
		root:    workspaceRoot,
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		index:   newFileIndex(workspaceRoot),
	}

	builtins := []Tool{
		readFileTool(workspaceRoot),
		writeFileTool(workspaceRoot),
		editFileTool(workspaceRoot),
		listDirTool(workspaceRoot),
		moveFileTool(workspaceRoot),
		createDirTool(workspaceRoot),
		deleteFileTool(workspaceRoot),
		fileInfoTool(workspaceRoot),
		searchFilesTool(g.index),
		runCommandTool(workspaceRoot, runner),
	}
	for _, t := range builtins {
		if err := g.Register(t); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Register adds a tool, compiling its argument schema. Registering the same
// name twice replaces the previous tool.
func (g *Gateway) Register(t Tool) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(t.SchemaJSON))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name, err)
	}
	if _, exists := g.tools[t.Name]; !exists {
		g.order = append(g.order, t.Name)
	}
	g.tools[t.Name] = t
	g.schemas[t.Name] = schema
	return nil
}

// Schemas returns tool schemas in registration order, for function calling.
func (g *Gateway) Schemas() []engine.ToolSchema {
	out := make([]engine.ToolSchema, 0, len(g.order))
	for _, name := range g.order {
		t := g.tools[name]
		out = append(out, engine.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.SchemaJSON,
		})
	}
	return out
}

// Request implements engine.ToolGateway. serverName selects a tool server;
// anything unknown falls back to the built-in set. Approval decisions happen
// upstream, so skipApproval is informational here.
func (g *Gateway) Request(ctx context.Context, serverName, toolName string, args map[string]any, explanation string, skipApproval bool) engine.ToolOutcome {
	start := time.Now()

	if serverName != "" && serverName != "builtin" {
		log.Printf("[gateway] unknown server %q, using built-in tools", serverName)
	}

	tool, ok := g.tools[toolName]
	if !ok {
		return engine.ToolOutcome{
			Success:  false,
			Error:    fmt.Sprintf("unknown tool: %s", toolName),
			Duration: time.Since(start),
		}
	}

	if args == nil {
		args = make(map[string]any)
	}
	if err := g.validateArgs(toolName, args); err != nil {
		return engine.ToolOutcome{
			Success:  false,
			Error:    err.Error(),
			Duration: time.Since(start),
		}
	}

	result, err := tool.Fn(ctx, args)
	if err != nil {
		return engine.ToolOutcome{
			Success:  false,
			Error:    err.Error(),
			Duration: time.Since(start),
		}
	}

	if tool.Mutating {
		g.index.markDirty()
	}

	return engine.ToolOutcome{
		Success:  true,
		Result:   result,
		Duration: time.Since(start),
	}
}

// validateArgs checks args against the tool's compiled JSON schema.
func (g *Gateway) validateArgs(toolName string, args map[string]any) error {
	schema := g.schemas[toolName]
	if schema == nil {
		return nil
	}

	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate %s arguments: %w", toolName, err)
	}
	if res.Valid() {
		return nil
	}

	var problems []string
	for _, re := range res.Errors() {
		problems = append(problems, re.String())
	}
	return fmt.Errorf("invalid arguments for %s: %s", toolName, strings.Join(problems, "; "))
}

// Close releases the search index.
func (g *Gateway) Close() error {
	return g.index.Close()
}
