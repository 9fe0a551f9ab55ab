// Package vcs inspects workspace changes through git. The engine uses it
// to cross-check files an agent claims to have touched against what the
// working tree actually shows.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/parley-app/parley/internal/engine"
)

// Inspector implements engine.ChangeInspector by shelling out to git.
// The zero value is ready to use.
type Inspector struct{}

var _ engine.ChangeInspector = Inspector{}

// IsRepository reports whether dir sits inside a git work tree.
func (Inspector) IsRepository(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// Branch returns the checked-out branch name, or "HEAD" when detached.
func (Inspector) Branch(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// Change is one entry from git status.
type Change struct {
	Path   string
	Status string // "A" added or untracked, "M" modified or renamed, "D" deleted
}

// Changes lists uncommitted changes in dir, staged and unstaged alike.
func (Inspector) Changes(ctx context.Context, dir string) ([]Change, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	return parseStatusOutput(output), nil
}

// VerifyChanges compares expected file paths against the actual uncommitted
// changes; outside a git work tree the report comes back Skipped. A claimed
// path counts as verified when any changed path matches it exactly or at a
// path-segment boundary, so a claim of "main.go" is satisfied by a change
// to "cmd/app/main.go".
func (i Inspector) VerifyChanges(ctx context.Context, dir string, expectedFiles []string) (engine.ChangeReport, error) {
	if !i.IsRepository(dir) {
		return engine.ChangeReport{Skipped: true}, nil
	}

	changes, err := i.Changes(ctx, dir)
	if err != nil {
		return engine.ChangeReport{}, err
	}

	changed := make([]string, 0, len(changes))
	for _, c := range changes {
		changed = append(changed, c.Path)
	}

	var missing []string
	for _, want := range expectedFiles {
		found := false
		for _, have := range changed {
			if PathMatches(have, want) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}

	return engine.ChangeReport{
		Verified:       len(missing) == 0,
		ChangedFiles:   changed,
		MissingChanges: missing,
	}, nil
}

// parseStatusOutput parses `git status --porcelain` lines: a two-letter
// XY status, a space, then the path. Renames carry "old -> new".
func parseStatusOutput(output []byte) []Change {
	var changes []Change
	scanner := bufio.NewScanner(bytes.NewReader(output))

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}

		status := strings.TrimSpace(line[0:2])
		path := strings.TrimSpace(line[3:])

		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+len(" -> "):]
		}
		path = strings.Trim(path, `"`)

		code := "M"
		switch {
		case status == "??" || strings.Contains(status, "A"):
			code = "A"
		case strings.Contains(status, "D"):
			code = "D"
		}

		changes = append(changes, Change{Path: path, Status: code})
	}
	return changes
}

// PathMatches reports whether a changed path satisfies a claimed path.
// Either side may carry extra leading directories.
func PathMatches(changed, claimed string) bool {
	changed = filepath.ToSlash(filepath.Clean(changed))
	claimed = filepath.ToSlash(filepath.Clean(claimed))
	if changed == claimed {
		return true
	}
	return strings.HasSuffix(changed, "/"+claimed) || strings.HasSuffix(claimed, "/"+changed)
}
