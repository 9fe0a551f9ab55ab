package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeOverviewFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRenderLayoutFiltersJunkAndIgnored(t *testing.T) {
	root := t.TempDir()
	writeOverviewFile(t, root, ".gitignore", "secret.txt\n")
	writeOverviewFile(t, root, "secret.txt", "hidden")
	writeOverviewFile(t, root, "README.md", "# app")
	writeOverviewFile(t, root, "src/main.go", "package main\n")
	writeOverviewFile(t, root, "node_modules/left-pad/index.js", "module.exports = {}")
	writeOverviewFile(t, root, "notes.bak", "old")

	layout := renderLayout(root)

	for _, want := range []string{"src/", "main.go", "README.md"} {
		if !strings.Contains(layout, want) {
			t.Errorf("layout missing %q:\n%s", want, layout)
		}
	}
	for _, junk := range []string{"node_modules", "secret.txt", "notes.bak"} {
		if strings.Contains(layout, junk) {
			t.Errorf("layout should not list %q:\n%s", junk, layout)
		}
	}
}

func TestRenderLayoutCollapsesCrowdedDirs(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeOverviewFile(t, root, fmt.Sprintf("file%02d.txt", i), "x")
	}
	writeOverviewFile(t, root, "pkg/one.go", "package pkg\n")

	layout := renderLayout(root)

	if !strings.Contains(layout, "[20 files]") {
		t.Errorf("crowded directory should collapse to a count:\n%s", layout)
	}
	if strings.Contains(layout, "file00.txt") {
		t.Errorf("collapsed directory should not list individual files:\n%s", layout)
	}
	// Subdirectories stay visible even when the files collapse.
	if !strings.Contains(layout, "pkg/") || !strings.Contains(layout, "one.go") {
		t.Errorf("subdirectories should survive the collapse:\n%s", layout)
	}
}

func TestRenderLayoutTagsLargeFiles(t *testing.T) {
	root := t.TempDir()
	writeOverviewFile(t, root, "big.go", strings.Repeat("// line\n", 600))
	writeOverviewFile(t, root, "small.go", "package main\n")

	layout := renderLayout(root)

	if !strings.Contains(layout, "big.go [large: 601 lines]") {
		t.Errorf("large file should carry a size tag:\n%s", layout)
	}
	if strings.Contains(layout, "small.go [") {
		t.Errorf("small file should not carry a tag:\n%s", layout)
	}
}

func TestOverviewRender(t *testing.T) {
	o := Overview{
		Root:        "/tmp/app",
		Layout:      "app/\n  - main.go\n",
		ProjectType: ProjectTypeGo,
		OS:          "linux",
		Shell:       "/bin/bash",
		Branch:      "main",
		Dirty:       true,
	}

	out := o.Render()
	for _, want := range []string{
		"Project type: go",
		"Environment: linux, shell /bin/bash",
		"Git branch: main (dirty",
		"main.go",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}
}

func TestBuildOverviewOutsideGit(t *testing.T) {
	root := t.TempDir()
	writeOverviewFile(t, root, "go.mod", "module example.com/app\n")

	o := BuildOverview(context.Background(), root)

	if o.ProjectType != ProjectTypeGo {
		t.Errorf("ProjectType = %s, want go", o.ProjectType)
	}
	if o.Branch != "" {
		t.Errorf("Branch = %q outside a repository", o.Branch)
	}
	if o.Shell == "" {
		t.Error("Shell should fall back to a default")
	}
	if !strings.Contains(o.Layout, "go.mod") {
		t.Errorf("layout missing go.mod:\n%s", o.Layout)
	}
}
