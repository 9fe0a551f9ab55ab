// Package buildcheck runs a project's build or type check and condenses the
// output into something an agent can act on. Project detection decides the
// command; projects without a build step are skipped, not failed.
package buildcheck

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/parley-app/parley/internal/engine"
	"github.com/parley-app/parley/internal/sandbox"
	"github.com/parley-app/parley/internal/workspace"
)

const (
	defaultTimeout    = 3 * time.Minute
	maxReportedErrors = 10
)

// Checker implements engine.BuildChecker over a sandbox runner.
type Checker struct {
	runner  sandbox.Runner
	timeout time.Duration
}

var _ engine.BuildChecker = (*Checker)(nil)

// New creates a checker. Pass nil to use the default sandbox runner.
func New(runner sandbox.Runner) *Checker {
	if runner == nil {
		runner = sandbox.NewDefaultRunner()
	}
	return &Checker{runner: runner, timeout: defaultTimeout}
}

// Verify runs the build command for whatever project type dir holds.
// A returned error means the check itself could not run; build failures
// come back as a report with Success false.
func (c *Checker) Verify(ctx context.Context, dir string) (engine.BuildReport, error) {
	projectType := workspace.DetectProjectType(dir)
	cmdName, args := workspace.BuildCommand(projectType)
	if cmdName == "" {
		return engine.BuildReport{Success: true, Skipped: true}, nil
	}

	res, err := c.runner.RunCmd(ctx, dir, cmdName, args, c.timeout)
	if err != nil && res.Code == 0 {
		return engine.BuildReport{}, fmt.Errorf("run %s: %w", cmdName, err)
	}

	if res.Code == 0 && !res.TimedOut {
		return engine.BuildReport{Success: true}, nil
	}

	errs := extractErrorLines(res.Stderr, res.Stdout)
	if res.TimedOut {
		errs = append(errs, fmt.Sprintf("%s did not finish within %s", cmdName, c.timeout))
	}
	if len(errs) == 0 {
		errs = lastLines(res.Stderr+"\n"+res.Stdout, 5)
	}

	count := len(errs)
	if len(errs) > maxReportedErrors {
		errs = errs[:maxReportedErrors]
	}
	return engine.BuildReport{Success: false, ErrorCount: count, Errors: errs}, nil
}

// fileLineRef matches compiler-style source locations such as
// "main.go:12:3" or "app.ts(4,1)".
var fileLineRef = regexp.MustCompile(`\.[a-z]{1,4}[:(]\d+`)

// extractErrorLines keeps the lines of build output that carry diagnostics,
// stderr first since most compilers report there.
func extractErrorLines(chunks ...string) []string {
	var errs []string
	for _, chunk := range chunks {
		for _, line := range strings.Split(chunk, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if looksLikeErrorLine(line) {
				errs = append(errs, line)
			}
		}
	}
	return errs
}

func looksLikeErrorLine(line string) bool {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "error") {
		return true
	}
	return fileLineRef.MatchString(lower)
}

// lastLines returns the trailing non-empty lines of output, as context when
// nothing matched the diagnostic patterns.
func lastLines(output string, n int) []string {
	lines := strings.Split(output, "\n")
	var kept []string
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}
