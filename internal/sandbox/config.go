package sandbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Mode selects the sandbox execution backend.
type Mode string

const (
	// ModeDocker uses Docker containers for isolation.
	ModeDocker Mode = "docker"
	// ModeHost runs commands directly on the host (no isolation).
	ModeHost Mode = "host"
	// ModeAuto uses Docker when available, host otherwise.
	ModeAuto Mode = "auto"
)

// Config holds sandbox execution settings.
type Config struct {
	Mode        Mode
	DockerImage string        // custom image override
	CPU         string        // CPU limit, e.g. "2"
	Memory      string        // memory limit, e.g. "1g"
	CmdTimeout  time.Duration // default command timeout (0 = built-in default)
}

// DefaultConfig reads configuration from PARLEY_SANDBOX_* environment
// variables.
func DefaultConfig() Config {
	modeStr := strings.ToLower(os.Getenv("PARLEY_SANDBOX_MODE"))
	if modeStr == "" {
		modeStr = "auto"
	}

	var mode Mode
	switch modeStr {
	case "docker":
		mode = ModeDocker
	case "host":
		mode = ModeHost
	case "auto":
		mode = ModeAuto
	default:
		log.Printf("[sandbox] unknown PARLEY_SANDBOX_MODE %q, defaulting to auto", modeStr)
		mode = ModeAuto
	}

	cmdTimeout := 2 * time.Minute
	if timeoutStr := os.Getenv("PARLEY_CMD_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil && d > 0 {
			cmdTimeout = d
		} else {
			log.Printf("[sandbox] invalid PARLEY_CMD_TIMEOUT %q, using default 2m", timeoutStr)
		}
	}

	return Config{
		Mode:        mode,
		DockerImage: os.Getenv("PARLEY_SANDBOX_IMAGE"),
		CPU:         getEnvOrDefault("PARLEY_SANDBOX_CPU", "2"),
		Memory:      getEnvOrDefault("PARLEY_SANDBOX_MEMORY", "1g"),
		CmdTimeout:  cmdTimeout,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// IsDockerAvailable checks whether the Docker daemon is reachable.
func IsDockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "ps")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// NewDefaultRunner creates a runner according to configuration and Docker
// availability. Host execution is always the fallback, with a warning, since
// a broken sandbox should degrade rather than take the agent down.
func NewDefaultRunner() Runner {
	config := DefaultConfig()
	ctx := context.Background()

	switch config.Mode {
	case ModeDocker:
		if !IsDockerAvailable(ctx) {
			log.Printf("[sandbox] docker mode requested but docker is unavailable, falling back to host execution")
			return &HostRunner{config: config}
		}
		dockerRunner, err := NewDockerRunner(config)
		if err != nil {
			log.Printf("[sandbox] failed to create docker runner: %v, falling back to host execution", err)
			return &HostRunner{config: config}
		}
		return dockerRunner

	case ModeHost:
		log.Printf("[sandbox] using host execution (no isolation)")
		return &HostRunner{config: config}

	default:
		if IsDockerAvailable(ctx) {
			dockerRunner, err := NewDockerRunner(config)
			if err != nil {
				log.Printf("[sandbox] docker available but runner creation failed: %v, falling back to host execution", err)
				return &HostRunner{config: config}
			}
			return dockerRunner
		}
		log.Printf("[sandbox] docker unavailable, using host execution (no isolation)")
		return &HostRunner{config: config}
	}
}

// NewRunner creates a specific runner implementation.
func NewRunner(mode Mode, config Config) (Runner, error) {
	switch mode {
	case ModeDocker:
		return NewDockerRunner(config)
	case ModeHost:
		return &HostRunner{config: config}, nil
	default:
		return nil, fmt.Errorf("unknown runner mode: %s", mode)
	}
}
