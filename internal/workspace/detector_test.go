package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectProjectTypeManifests(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     ProjectType
	}{
		{"go module", "go.mod", ProjectTypeGo},
		{"node package", "package.json", ProjectTypeNode},
		{"typescript only", "tsconfig.json", ProjectTypeNode},
		{"python pyproject", "pyproject.toml", ProjectTypePython},
		{"python requirements", "requirements.txt", ProjectTypePython},
		{"rust crate", "Cargo.toml", ProjectTypeRust},
		{"make only", "Makefile", ProjectTypeMake},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tt.manifest), []byte("{}"), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := DetectProjectType(dir); got != tt.want {
				t.Errorf("DetectProjectType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectProjectTypeExtensionFallback(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.py", "b.py", "c.py", "d.go"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got := DetectProjectType(dir); got != ProjectTypePython {
		t.Errorf("DetectProjectType() = %v, want python", got)
	}
}

func TestDetectProjectTypeTooFewFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.rs", "b.rs"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got := DetectProjectType(dir); got != ProjectTypeUnknown {
		t.Errorf("DetectProjectType() = %v, want unknown", got)
	}
}

func TestBuildCommand(t *testing.T) {
	cmd, args := BuildCommand(ProjectTypeGo)
	if cmd != "go" || len(args) != 2 {
		t.Errorf("BuildCommand(go) = %s %v", cmd, args)
	}
	cmd, _ = BuildCommand(ProjectTypePython)
	if cmd != "" {
		t.Errorf("BuildCommand(python) = %q, want empty", cmd)
	}
	cmd, args = BuildCommand(ProjectTypeMake)
	if cmd != "make" || len(args) != 0 {
		t.Errorf("BuildCommand(make) = %s %v", cmd, args)
	}
}
