// Package config persists user preferences: provider credentials, the
// default permission tier, and the always-approve tool list.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config holds the user's persistent preferences.
type Config struct {
	LLMProvider   string   `json:"llm_provider,omitempty"`   // openai, anthropic, kimi, etc.
	APIKey        string   `json:"api_key,omitempty"`        // key for the selected provider
	Model         string   `json:"model,omitempty"`          // default model name
	BaseURL       string   `json:"base_url,omitempty"`       // optional API endpoint override
	Permission    string   `json:"permission,omitempty"`     // default tier for new agents
	SandboxMode   string   `json:"sandbox_mode,omitempty"`   // docker, host, or auto
	ToolTimeout   string   `json:"tool_timeout,omitempty"`   // per-tool timeout, duration string
	JournalPath   string   `json:"journal_path,omitempty"`   // work-journal database location
	AlwaysApprove []string `json:"always_approve,omitempty"` // tools that skip confirmation
}

// ToolTimeoutDuration returns the configured per-tool timeout, or zero
// when unset or unparseable.
func (c Config) ToolTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ToolTimeout)
	if err != nil {
		return 0
	}
	return d
}

// Manager loads, caches, and saves the configuration file. Safe for
// concurrent use; the engine polls AlwaysApprove from its own goroutine.
type Manager struct {
	configDir string

	mu  sync.Mutex
	cfg Config
}

// NewManager creates a manager rooted at the user config directory and
// loads any existing configuration.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, "parley"))
}

// NewManagerAt creates a manager over an explicit directory.
func NewManagerAt(dir string) (*Manager, error) {
	m := &Manager{configDir: dir}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the absolute path of the config file.
func (m *Manager) Path() string {
	return filepath.Join(m.configDir, "config.json")
}

// Exists reports whether a configuration file has been saved yet. Shells
// use this to decide whether to walk the user through first-run setup.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Path())
	return err == nil
}

// load reads the configuration from disk. A missing file is an empty
// configuration, not an error.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.Path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// saveLocked writes the cached configuration to disk with owner-only
// permissions, since it can hold API keys.
func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(m.configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(m.Path(), data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Current returns a copy of the cached configuration.
func (m *Manager) Current() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	cfg.AlwaysApprove = append([]string(nil), m.cfg.AlwaysApprove...)
	return cfg
}

// Update applies fn to the configuration and persists the result.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.cfg)
	return m.saveLocked()
}

// AlwaysApprove implements engine.ApprovalSource.
func (m *Manager) AlwaysApprove() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cfg.AlwaysApprove...)
}

// AddAlwaysApprove adds a tool to the always-approve list and persists it.
// Adding a tool already on the list is a no-op.
func (m *Manager) AddAlwaysApprove(tool string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range m.cfg.AlwaysApprove {
		if name == tool {
			return nil
		}
	}
	m.cfg.AlwaysApprove = append(m.cfg.AlwaysApprove, tool)
	sort.Strings(m.cfg.AlwaysApprove)
	return m.saveLocked()
}

// settableKeys maps protocol config keys to their Config fields.
var settableKeys = map[string]func(*Config, string){
	"llm_provider": func(c *Config, v string) { c.LLMProvider = v },
	"api_key":      func(c *Config, v string) { c.APIKey = v },
	"model":        func(c *Config, v string) { c.Model = v },
	"base_url":     func(c *Config, v string) { c.BaseURL = v },
	"permission":   func(c *Config, v string) { c.Permission = v },
	"sandbox_mode": func(c *Config, v string) { c.SandboxMode = v },
	"tool_timeout": func(c *Config, v string) { c.ToolTimeout = v },
	"journal_path": func(c *Config, v string) { c.JournalPath = v },
}

// SetValues applies a batch of string key/value updates from the protocol
// and persists them. Unknown keys or invalid values reject the whole batch.
func (m *Manager) SetValues(values map[string]string) error {
	for key, value := range values {
		if _, ok := settableKeys[key]; !ok {
			return fmt.Errorf("unknown config key: %s", key)
		}
		if key == "tool_timeout" && value != "" {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid tool_timeout %q: %w", value, err)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range values {
		settableKeys[key](&m.cfg, value)
	}
	return m.saveLocked()
}

// Values returns the configuration as protocol key/value pairs with the
// API key masked.
func (m *Manager) Values() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := map[string]string{
		"llm_provider":   m.cfg.LLMProvider,
		"api_key":        maskSecret(m.cfg.APIKey),
		"model":          m.cfg.Model,
		"base_url":       m.cfg.BaseURL,
		"permission":     m.cfg.Permission,
		"sandbox_mode":   m.cfg.SandboxMode,
		"tool_timeout":   m.cfg.ToolTimeout,
		"journal_path":   m.cfg.JournalPath,
		"always_approve": strings.Join(m.cfg.AlwaysApprove, ","),
	}
	return out
}

// maskSecret hides all but the tail of a secret so users can tell which
// key is configured without exposing it.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
