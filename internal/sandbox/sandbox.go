// Package sandbox runs agent-issued commands in isolation. Docker is the
// preferred backend; host execution is the fallback when Docker is absent.
package sandbox

import (
	"context"
	"time"
)

const defaultCmdTimeout = 2 * time.Minute

// Result captures output of a command.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Runner runs commands in a working directory with a timeout. Implementations
// should isolate the command from the host where possible.
type Runner interface {
	// RunCmd runs a command in dir with a timeout (<=0 uses the default).
	RunCmd(ctx context.Context, dir, name string, args []string, timeout time.Duration) (Result, error)
}

// RunCmd runs a command through the default runner: Docker when available,
// host execution otherwise.
func RunCmd(ctx context.Context, dir, name string, args []string, timeout time.Duration) (Result, error) {
	return NewDefaultRunner().RunCmd(ctx, dir, name, args, timeout)
}
