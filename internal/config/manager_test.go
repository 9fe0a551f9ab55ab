package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManagerAt(t.TempDir())
	if err != nil {
		t.Fatalf("NewManagerAt: %v", err)
	}
	return m
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	m := newTestManager(t)
	if cfg := m.Current(); cfg.LLMProvider != "" || len(cfg.AlwaysApprove) != 0 {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestUpdatePersistsAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}

	err = m.Update(func(c *Config) {
		c.LLMProvider = "anthropic"
		c.Model = "claude-3-5-sonnet-20241022"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, err := NewManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg := reloaded.Current(); cfg.LLMProvider != "anthropic" {
		t.Errorf("provider = %q after reload", cfg.LLMProvider)
	}

	info, err := os.Stat(m.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}
}

func TestAddAlwaysApprove(t *testing.T) {
	m := newTestManager(t)

	if err := m.AddAlwaysApprove("run_command"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddAlwaysApprove("edit_file"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddAlwaysApprove("run_command"); err != nil {
		t.Fatal(err)
	}

	got := m.AlwaysApprove()
	if len(got) != 2 || got[0] != "edit_file" || got[1] != "run_command" {
		t.Errorf("AlwaysApprove() = %v", got)
	}

	// Mutating the returned slice must not leak into the manager.
	got[0] = "changed"
	if m.AlwaysApprove()[0] != "edit_file" {
		t.Error("returned slice aliases internal state")
	}
}

func TestExists(t *testing.T) {
	m := newTestManager(t)
	if m.Exists() {
		t.Error("Exists() = true before anything was saved")
	}
	if err := m.Update(func(c *Config) { c.Permission = "standard" }); err != nil {
		t.Fatal(err)
	}
	if !m.Exists() {
		t.Error("Exists() = false after save")
	}
}

func TestSetValuesValidatesToolTimeout(t *testing.T) {
	m := newTestManager(t)

	err := m.SetValues(map[string]string{"tool_timeout": "two minutes"})
	if err == nil || !strings.Contains(err.Error(), "tool_timeout") {
		t.Errorf("expected invalid-duration error, got %v", err)
	}

	if err := m.SetValues(map[string]string{"tool_timeout": "90s"}); err != nil {
		t.Fatal(err)
	}
	if d := m.Current().ToolTimeoutDuration(); d != 90*time.Second {
		t.Errorf("ToolTimeoutDuration() = %v, want 90s", d)
	}
}

func TestToolTimeoutDurationZeroWhenUnset(t *testing.T) {
	var cfg Config
	if d := cfg.ToolTimeoutDuration(); d != 0 {
		t.Errorf("ToolTimeoutDuration() = %v for empty config", d)
	}
}

func TestSetValuesRejectsUnknownKey(t *testing.T) {
	m := newTestManager(t)

	err := m.SetValues(map[string]string{"model": "gpt-4o", "color_scheme": "dark"})
	if err == nil || !strings.Contains(err.Error(), "color_scheme") {
		t.Errorf("expected unknown-key error, got %v", err)
	}
	if m.Current().Model != "" {
		t.Error("partial batch was applied")
	}
}

func TestValuesMasksAPIKey(t *testing.T) {
	m := newTestManager(t)
	if err := m.SetValues(map[string]string{"api_key": "sk-abcdef1234567890wxyz"}); err != nil {
		t.Fatal(err)
	}

	values := m.Values()
	if values["api_key"] != "****wxyz" {
		t.Errorf("masked key = %q", values["api_key"])
	}
	if strings.Contains(values["api_key"], "abcdef") {
		t.Error("key leaked")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "****"},
		{"sk-1234567890abcd", "****abcd"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
