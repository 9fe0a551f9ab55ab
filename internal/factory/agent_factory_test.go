package factory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parley-app/parley/internal/project"
)

func TestSeedContextIncludesOverviewAndRules(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/app\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, project.Dir), 0o755); err != nil {
		t.Fatal(err)
	}
	rules := filepath.Join(root, project.Dir, project.RulesFile)
	if err := os.WriteFile(rules, []byte("Prefer table-driven tests.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	seed := seedContext(context.Background(), root)

	for _, want := range []string{
		"Workspace overview:",
		"Project type: go",
		"go.mod",
		"Workspace rules:",
		"Prefer table-driven tests.",
	} {
		if !strings.Contains(seed, want) {
			t.Errorf("seed missing %q:\n%s", want, seed)
		}
	}
}

func TestSeedContextWithoutRules(t *testing.T) {
	seed := seedContext(context.Background(), t.TempDir())

	if !strings.Contains(seed, "Workspace overview:") {
		t.Errorf("seed missing overview:\n%s", seed)
	}
	if strings.Contains(seed, "Workspace rules:") {
		t.Errorf("seed should omit the rules section when no rules exist:\n%s", seed)
	}
}
