package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/parley-app/parley/internal/vcs"
)

const (
	layoutMaxDepth      = 4
	layoutMaxPerDir     = 15
	largeFileThreshold  = 500
	notableLineCountMin = 200
)

// junkDirs are never worth showing in a layout, gitignored or not.
var junkDirs = []string{
	".git", ".parley", "node_modules", "vendor", "dist", "build",
	"target", "venv", ".venv", "__pycache__", ".pytest_cache",
	".mypy_cache", ".idea", ".vscode", ".DS_Store",
}

// Overview describes a workspace for seeding an agent's first turn: the
// directory layout, toolchain, environment, and version-control state.
type Overview struct {
	Root        string
	Layout      string
	ProjectType ProjectType
	OS          string
	Shell       string
	Branch      string // empty outside version control
	Dirty       bool
}

// BuildOverview collects the overview for root. Git failures degrade to an
// overview without branch information rather than an error.
func BuildOverview(ctx context.Context, root string) Overview {
	o := Overview{
		Root:        root,
		ProjectType: DetectProjectType(root),
		OS:          runtime.GOOS,
		Shell:       os.Getenv("SHELL"),
	}
	if o.Shell == "" {
		o.Shell = "/bin/sh"
	}
	o.Layout = renderLayout(root)

	var insp vcs.Inspector
	if insp.IsRepository(root) {
		if branch, err := insp.Branch(ctx, root); err == nil {
			o.Branch = branch
		}
		if changes, err := insp.Changes(ctx, root); err == nil {
			o.Dirty = len(changes) > 0
		}
	}
	return o
}

// Render formats the overview as a plain-text block for the model.
func (o Overview) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project type: %s\n", o.ProjectType)
	fmt.Fprintf(&b, "Environment: %s, shell %s\n", o.OS, o.Shell)
	if o.Branch != "" {
		state := "clean"
		if o.Dirty {
			state = "dirty, uncommitted changes present"
		}
		fmt.Fprintf(&b, "Git branch: %s (%s)\n", o.Branch, state)
	}
	b.WriteString("Layout:\n")
	b.WriteString(o.Layout)
	return strings.TrimRight(b.String(), "\n")
}

// renderLayout draws the directory tree to a bounded depth, directories
// first, with crowded directories collapsed to a file count.
func renderLayout(root string) string {
	w := layoutWalker{root: root}
	if m, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		w.ignore = m
	}

	var b strings.Builder
	b.WriteString(filepath.Base(root) + "/\n")
	w.walk(&b, root, "  ", 0)
	return b.String()
}

type layoutWalker struct {
	root   string
	ignore *gitignore.GitIgnore // nil when the workspace has no .gitignore
}

func (w *layoutWalker) walk(b *strings.Builder, dir, indent string, depth int) {
	if depth >= layoutMaxDepth {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	kept := entries[:0]
	for _, e := range entries {
		if !w.skip(dir, e.Name(), e.IsDir()) {
			kept = append(kept, e)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].IsDir() != kept[j].IsDir() {
			return kept[i].IsDir()
		}
		return kept[i].Name() < kept[j].Name()
	})

	// A crowded directory keeps its subdirectories visible but collapses
	// the files to a count.
	collapse := len(kept) > layoutMaxPerDir
	files := 0
	for _, e := range kept {
		if e.IsDir() {
			fmt.Fprintf(b, "%s- %s/\n", indent, e.Name())
			w.walk(b, filepath.Join(dir, e.Name()), indent+"  ", depth+1)
			continue
		}
		if collapse {
			files++
			continue
		}
		fmt.Fprintf(b, "%s- %s%s\n", indent, e.Name(), sizeTag(filepath.Join(dir, e.Name())))
	}
	if files > 0 {
		fmt.Fprintf(b, "%s- [%d files]\n", indent, files)
	}
}

func (w *layoutWalker) skip(dir, name string, isDir bool) bool {
	for _, junk := range junkDirs {
		if name == junk {
			return true
		}
	}
	if strings.HasSuffix(name, ".orig") || strings.HasSuffix(name, ".bak") || strings.HasSuffix(name, "~") {
		return true
	}
	if w.ignore == nil {
		return false
	}
	rel, err := filepath.Rel(w.root, filepath.Join(dir, name))
	if err != nil {
		return false
	}
	if isDir {
		rel += "/"
	}
	return w.ignore.MatchesPath(rel)
}

// sizeTag annotates files large enough that the agent should search or
// read them in slices instead of whole.
func sizeTag(path string) string {
	lines := lineCount(path)
	switch {
	case lines > largeFileThreshold:
		return fmt.Sprintf(" [large: %d lines]", lines)
	case lines > notableLineCountMin:
		return fmt.Sprintf(" [%d lines]", lines)
	default:
		return ""
	}
}

var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".db": true, ".sqlite": true, ".bleve": true,
}

func lineCount(path string) int {
	if binaryExts[filepath.Ext(path)] {
		return 0
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(content), "\n") + 1
}
