// Package project reads per-workspace settings from the .parley directory:
// a config file with workspace-level defaults and a free-form rules file
// injected into the agent's first turn.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// Dir is the per-workspace settings directory.
	Dir = ".parley"
	// ConfigFile holds workspace-level defaults.
	ConfigFile = "config.json"
	// RulesFile holds free-form instructions for agents in this workspace.
	RulesFile = "rules"
)

// Config holds per-workspace settings. They sit between the global
// configuration and the per-start command: a workspace default beats the
// saved global one, an explicit start_agent value beats both.
type Config struct {
	Permission  string `json:"permission,omitempty"`   // default tier for agents here
	ToolTimeout string `json:"tool_timeout,omitempty"` // per-tool timeout, duration string
}

// ToolTimeoutDuration returns the workspace tool timeout, or zero when
// unset or unparseable.
func (c Config) ToolTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ToolTimeout)
	if err != nil {
		return 0
	}
	return d
}

func configPath(workspace string) string {
	return filepath.Join(workspace, Dir, ConfigFile)
}

func rulesPath(workspace string) string {
	return filepath.Join(workspace, Dir, RulesFile)
}

// ConfigExists reports whether the workspace carries a settings file.
func ConfigExists(workspace string) bool {
	_, err := os.Stat(configPath(workspace))
	return err == nil
}

// Load reads the workspace settings. A missing file returns nil with no
// error; only a present-but-broken file is reported.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(configPath(workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse workspace config: %w", err)
	}
	return &cfg, nil
}

// Save writes the workspace settings, creating the .parley directory if
// needed.
func Save(workspace string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Join(workspace, Dir), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace config: %w", err)
	}
	if err := os.WriteFile(configPath(workspace), data, 0o644); err != nil {
		return fmt.Errorf("write workspace config: %w", err)
	}
	return nil
}

// LoadRules reads the free-form rules file. A missing file is an empty
// rule set, not an error.
func LoadRules(workspace string) (string, error) {
	data, err := os.ReadFile(rulesPath(workspace))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read workspace rules: %w", err)
	}
	return string(data), nil
}
