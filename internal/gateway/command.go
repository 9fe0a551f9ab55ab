package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parley-app/parley/internal/sandbox"
)

const (
	defaultCommandTimeout = 60 * time.Second
	minCommandTimeout     = 5 * time.Second
	maxCommandTimeout     = 5 * time.Minute
	defaultOutputLines    = 40
	minOutputLines        = 5
	maxOutputLines        = 200
	maxOutputChars        = 4000
)

// allowedCommands is the executable allowlist for run_command. Anything not
// listed is refused before it reaches the runner.
var allowedCommands = map[string]bool{
	// build tools
	"go": true, "gofmt": true, "goimports": true,
	"npm": true, "npx": true, "yarn": true, "pnpm": true, "bun": true,
	"python": true, "python3": true, "pip": true, "pip3": true, "pytest": true, "uv": true,
	"cargo": true, "rustc": true, "rustfmt": true,
	"make": true, "cmake": true,
	"gradle": true, "mvn": true,

	// linters and formatters
	"eslint": true, "prettier": true, "biome": true,
	"ruff": true, "black": true, "isort": true, "mypy": true, "flake8": true,
	"tsc": true, "node": true,
	"golangci-lint": true,
	"shellcheck":    true,

	// file operations
	"mkdir": true, "touch": true, "rm": true, "cp": true, "mv": true,
	"cat": true, "head": true, "tail": true,
	"ls": true, "find": true, "tree": true,
	"wc": true, "grep": true, "rg": true, "awk": true, "sed": true, "sort": true, "uniq": true, "diff": true,

	// version control
	"git": true,

	// network
	"curl": true, "wget": true,

	// shells
	"sh": true, "bash": true, "zsh": true,

	// utilities
	"echo": true, "printf": true, "date": true, "which": true, "env": true,
	"tar": true, "zip": true, "unzip": true, "gzip": true, "gunzip": true,
	"jq": true, "yq": true,
}

// commandResult is the JSON payload returned to the model.
type commandResult struct {
	Cmd             string `json:"cmd"`
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
	TimedOut        bool   `json:"timed_out,omitempty"`
	Status          string `json:"status"`
}

func runCommandTool(root string, runner sandbox.Runner) Tool {
	return Tool{
		Name:        "run_command",
		Description: "Runs an allowlisted command in the workspace through the sandbox. Allowed: build tools (go, npm, python, cargo, make), linters, file utilities, git, curl, and shells. Output is truncated.",
		SchemaJSON:  `{"type":"object","properties":{"cmd":{"type":"string","description":"Executable name (must be allowlisted)"},"args":{"type":"string","description":"Arguments as a space-separated string; quotes group words"},"timeout_seconds":{"type":"integer","minimum":5,"maximum":300,"description":"Time limit (default 60)"},"max_output_lines":{"type":"integer","minimum":5,"maximum":200,"description":"Lines of stdout/stderr to keep (default 40)"}},"required":["cmd"]}`,
		Mutating:    true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			cmd, err := stringArg(args, "cmd")
			if err != nil {
				return "", err
			}
			argsStr, _ := args["args"].(string)
			timeout := clampTimeout(args["timeout_seconds"])
			maxLines := clampOutputLines(args["max_output_lines"])

			return runCommand(ctx, runner, root, cmd, argsStr, timeout, maxLines)
		},
	}
}

func runCommand(ctx context.Context, runner sandbox.Runner, root, cmd, argsStr string, timeout time.Duration, maxLines int) (string, error) {
	if !allowedCommands[cmd] {
		return marshalResult(commandResult{
			Cmd:      cmd,
			ExitCode: 1,
			Stderr:   fmt.Sprintf("command %q is not allowlisted", cmd),
			Status:   "failed",
		})
	}

	cmdArgs := splitArgs(argsStr)
	res, err := runner.RunCmd(ctx, root, cmd, cmdArgs, timeout)

	display := cmd
	if len(cmdArgs) > 0 {
		display += " " + strings.Join(cmdArgs, " ")
	}

	stdout, stdoutTrunc := truncateOutput(res.Stdout, maxLines)
	stderr, stderrTrunc := truncateOutput(res.Stderr, maxLines)

	out := commandResult{
		Cmd:             display,
		ExitCode:        res.Code,
		Stdout:          stdout,
		Stderr:          stderr,
		StdoutTruncated: stdoutTrunc,
		StderrTruncated: stderrTrunc,
		Status:          "ok",
	}
	if res.TimedOut || errors.Is(err, context.DeadlineExceeded) {
		out.TimedOut = true
		out.Status = "failed"
	}
	if res.Code != 0 {
		out.Status = "failed"
	}
	return marshalResult(out)
}

// splitArgs splits a space-separated argument string, honoring single and
// double quotes.
func splitArgs(argsStr string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false
	quoteChar := byte(0)

	for i := 0; i < len(argsStr); i++ {
		ch := argsStr[i]
		switch {
		case ch == '"' || ch == '\'':
			if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else if ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else {
				current.WriteByte(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(ch)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}

func clampTimeout(value any) time.Duration {
	seconds, ok := floatArg(value)
	if !ok || seconds <= 0 {
		return defaultCommandTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout < minCommandTimeout {
		return minCommandTimeout
	}
	if timeout > maxCommandTimeout {
		return maxCommandTimeout
	}
	return timeout
}

func clampOutputLines(value any) int {
	lines, ok := floatArg(value)
	if !ok {
		return defaultOutputLines
	}
	n := int(lines)
	if n < minOutputLines {
		return minOutputLines
	}
	if n > maxOutputLines {
		return maxOutputLines
	}
	return n
}

func floatArg(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func truncateOutput(output string, maxLines int) (string, bool) {
	if output == "" {
		return "", false
	}
	truncated := false
	lines := strings.Split(output, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}
	joined := strings.Join(lines, "\n")
	if len(joined) > maxOutputChars {
		joined = joined[:maxOutputChars]
		truncated = true
	}
	return joined, truncated
}
