package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestParseStatusOutput(t *testing.T) {
	output := []byte(" M internal/engine/loop.go\n" +
		"A  cmd/app/main.go\n" +
		"?? notes.md\n" +
		" D old.go\n" +
		"R  pkg/a.go -> pkg/b.go\n")

	changes := parseStatusOutput(output)
	if len(changes) != 5 {
		t.Fatalf("got %d changes, want 5", len(changes))
	}

	want := []Change{
		{Path: "internal/engine/loop.go", Status: "M"},
		{Path: "cmd/app/main.go", Status: "A"},
		{Path: "notes.md", Status: "A"},
		{Path: "old.go", Status: "D"},
		{Path: "pkg/b.go", Status: "M"},
	}
	for i, w := range want {
		if changes[i] != w {
			t.Errorf("change[%d] = %+v, want %+v", i, changes[i], w)
		}
	}
}

func TestPathMatches(t *testing.T) {
	tests := []struct {
		changed string
		claimed string
		want    bool
	}{
		{"main.go", "main.go", true},
		{"cmd/app/main.go", "main.go", true},
		{"main.go", "cmd/app/main.go", true},
		{"domain.go", "main.go", false},
		{"a/remain.go", "main.go", false},
		{"src/lib.rs", "lib.rs", true},
	}

	for _, tt := range tests {
		if got := PathMatches(tt.changed, tt.claimed); got != tt.want {
			t.Errorf("PathMatches(%q, %q) = %v, want %v", tt.changed, tt.claimed, got, tt.want)
		}
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	if err := os.WriteFile(filepath.Join(dir, "tracked.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "init")
	return dir
}

func TestIsRepository(t *testing.T) {
	dir := initRepo(t)

	var i Inspector
	if !i.IsRepository(dir) {
		t.Error("expected repository")
	}
	if i.IsRepository(t.TempDir()) {
		t.Error("plain directory reported as repository")
	}
}

func TestBranch(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()

	var i Inspector
	branch, err := i.Branch(ctx, dir)
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if branch == "" {
		t.Error("empty branch name inside a repository")
	}

	if _, err := i.Branch(ctx, t.TempDir()); err == nil {
		t.Error("expected error outside a repository")
	}
}

func TestVerifyChanges(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "tracked.go"), []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fresh.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var i Inspector
	report, err := i.VerifyChanges(ctx, dir, []string{"tracked.go", "fresh.go"})
	if err != nil {
		t.Fatalf("VerifyChanges: %v", err)
	}
	if !report.Verified {
		t.Errorf("expected verified, missing: %v", report.MissingChanges)
	}
	if len(report.ChangedFiles) != 2 {
		t.Errorf("changed files = %v", report.ChangedFiles)
	}

	report, err = i.VerifyChanges(ctx, dir, []string{"imaginary.go"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Verified || len(report.MissingChanges) != 1 {
		t.Errorf("expected missing claim, got %+v", report)
	}

	report, err = i.VerifyChanges(ctx, t.TempDir(), []string{"anything.go"})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Skipped {
		t.Error("expected skipped report outside a repository")
	}
}
