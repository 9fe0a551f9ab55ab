// Package workspace inspects a working directory to figure out what kind
// of project lives there and which toolchain commands apply to it.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectType identifies the dominant toolchain of a workspace.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeRust    ProjectType = "rust"
	ProjectTypeMake    ProjectType = "make"
	ProjectTypeUnknown ProjectType = "unknown"
)

// manifestFiles maps marker files to the project type they identify.
// Checked in order; the first match wins, so a Go project with a Makefile
// still detects as Go.
var manifestFiles = []struct {
	name string
	typ  ProjectType
}{
	{"go.mod", ProjectTypeGo},
	{"package.json", ProjectTypeNode},
	{"tsconfig.json", ProjectTypeNode},
	{"pyproject.toml", ProjectTypePython},
	{"requirements.txt", ProjectTypePython},
	{"Cargo.toml", ProjectTypeRust},
	{"Makefile", ProjectTypeMake},
}

// extTypes maps source extensions to the project type they count toward.
var extTypes = map[string]ProjectType{
	".go":  ProjectTypeGo,
	".ts":  ProjectTypeNode,
	".tsx": ProjectTypeNode,
	".js":  ProjectTypeNode,
	".jsx": ProjectTypeNode,
	".py":  ProjectTypePython,
	".rs":  ProjectTypeRust,
}

// DetectProjectType identifies the project type of root. Manifest files
// are authoritative; without one, source files in the root are counted by
// extension and the majority wins when there are at least three.
func DetectProjectType(root string) ProjectType {
	for _, m := range manifestFiles {
		if _, err := os.Stat(filepath.Join(root, m.name)); err == nil {
			return m.typ
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return ProjectTypeUnknown
	}

	counts := make(map[ProjectType]int)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if typ, ok := extTypes[ext]; ok {
			counts[typ]++
		}
	}

	best := ProjectTypeUnknown
	bestCount := 0
	for _, typ := range []ProjectType{ProjectTypeGo, ProjectTypeNode, ProjectTypePython, ProjectTypeRust} {
		if counts[typ] > bestCount {
			best = typ
			bestCount = counts[typ]
		}
	}

	// A couple of stray files is not enough evidence.
	if bestCount < 3 {
		return ProjectTypeUnknown
	}
	return best
}

// BuildCommand returns the compile or type-check command for a project
// type. An empty command means the type has no meaningful build step.
func BuildCommand(projectType ProjectType) (string, []string) {
	switch projectType {
	case ProjectTypeGo:
		return "go", []string{"build", "./..."}
	case ProjectTypeNode:
		return "npm", []string{"run", "build"}
	case ProjectTypeRust:
		return "cargo", []string{"check"}
	case ProjectTypeMake:
		return "make", nil
	default:
		return "", nil
	}
}
