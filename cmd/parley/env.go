package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/parley-app/parley/internal/config"
	"github.com/parley-app/parley/internal/providers"
)

// runtimeEnv carries the process-level defaults every agent starts from.
type runtimeEnv struct {
	Workspace  string // absolute default workspace root
	Model      string // model override from the command line, may be empty
	Permission string // default permission tier, may be empty
}

func prepareRuntimeEnv(workspaceFlag, modelFlag, permissionFlag string) (*runtimeEnv, error) {
	workspace := workspaceFlag
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		workspace = wd
	}

	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}
	info, err := os.Stat(absWorkspace)
	if err != nil {
		return nil, fmt.Errorf("workspace not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace is not a directory: %s", absWorkspace)
	}

	log.Printf("Workspace root: %s", absWorkspace)

	return &runtimeEnv{
		Workspace:  absWorkspace,
		Model:      modelFlag,
		Permission: permissionFlag,
	}, nil
}

// applyConfigToEnv exports stored configuration as provider environment
// variables. Unless force is set, variables the process already carries
// keep their values, so explicit env overrides beat the saved file;
// save_config forces the update so fresh credentials take effect
// immediately.
func applyConfigToEnv(cfg config.Config, force bool) {
	setEnv("LLM_PROVIDER", cfg.LLMProvider, force)
	setEnv("PARLEY_SANDBOX_MODE", cfg.SandboxMode, force)

	keyEnv, modelEnv, baseURLEnv, ok := providers.EnvNames(cfg.LLMProvider)
	if !ok {
		return
	}
	setEnv(keyEnv, cfg.APIKey, force)
	setEnv(modelEnv, cfg.Model, force)
	setEnv(baseURLEnv, cfg.BaseURL, force)
}

func setEnv(key, value string, force bool) {
	if key == "" || value == "" {
		return
	}
	if !force && os.Getenv(key) != "" {
		return
	}
	os.Setenv(key, value)
}
