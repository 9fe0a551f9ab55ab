// Package factory assembles a fully wired agent runtime: model client,
// sandboxed tool gateway, completion verifier, change tracking, and the
// controller that drives them.
package factory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/parley-app/parley/internal/buildcheck"
	"github.com/parley-app/parley/internal/engine"
	"github.com/parley-app/parley/internal/gateway"
	"github.com/parley-app/parley/internal/project"
	"github.com/parley-app/parley/internal/prompts"
	"github.com/parley-app/parley/internal/providers"
	"github.com/parley-app/parley/internal/sandbox"
	"github.com/parley-app/parley/internal/tracker"
	"github.com/parley-app/parley/internal/vcs"
	"github.com/parley-app/parley/internal/workspace"
)

// Options selects the collaborators for one agent.
type Options struct {
	Workspace    string // absolute workspace root
	Model        string // overrides the provider's default model when set
	Permission   engine.PermissionTier
	Instructions string        // overrides the built-in system prompt when set
	ToolTimeout  time.Duration // zero keeps the engine default

	Approvals engine.ApprovalSource // may be nil
	Journal   engine.Journal        // may be nil
	Hooks     engine.Hooks
}

// Runtime is one assembled agent together with the resources the caller
// must release through Close. The controller is wired but not started.
type Runtime struct {
	Agent      *engine.Agent
	Controller *engine.Controller
	Gateway    *gateway.Gateway
	Tracker    *tracker.Tracker // nil when the workspace is under version control
	Inspector  vcs.Inspector
}

// Build wires an agent for the given workspace. The workspace overview
// and any .parley/rules seed the first user turn.
func Build(ctx context.Context, opts Options) (*Runtime, error) {
	client, modelName, err := providers.NewModelClient(opts.Model)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	runner := sandbox.NewDefaultRunner()
	gw, err := gateway.New(opts.Workspace, runner)
	if err != nil {
		return nil, fmt.Errorf("create tool gateway: %w", err)
	}

	instructions := opts.Instructions
	if instructions == "" {
		instructions = prompts.AgentInstructions(opts.Workspace, string(opts.Permission))
	}

	agent := engine.NewAgent(engine.AgentConfig{
		Instructions: instructions,
		Permission:   opts.Permission,
		Model:        modelName,
		Workspace:    opts.Workspace,
		SeedContext:  seedContext(ctx, opts.Workspace),
	})

	rt := &Runtime{Agent: agent, Gateway: gw}

	// Outside version control the fsnotify tracker supplies the changed-file
	// evidence; inside it git does.
	if !rt.Inspector.IsRepository(opts.Workspace) {
		t, terr := tracker.New(opts.Workspace)
		if terr == nil {
			terr = t.Start()
		}
		if terr != nil {
			log.Printf("change tracker unavailable for %s: %v", opts.Workspace, terr)
		} else {
			rt.Tracker = t
		}
	}

	var evidence engine.ChangeInspector = rt.Inspector
	if rt.Tracker != nil {
		evidence = trackerEvidence{rt.Tracker}
	}
	verifier := &engine.CompletionVerifier{
		VCS:   evidence,
		Build: buildcheck.New(runner),
	}

	cfg := engine.DefaultControllerConfig()
	if opts.ToolTimeout > 0 {
		cfg.ToolTimeout = opts.ToolTimeout
	}

	rt.Controller = engine.NewController(agent, client, gw, opts.Approvals, verifier,
		opts.Journal, opts.Hooks, cfg)
	return rt, nil
}

// seedContext builds the extra context prepended to the first user turn:
// the workspace overview plus any rules the workspace carries.
func seedContext(ctx context.Context, root string) string {
	octx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	parts := []string{"Workspace overview:\n" + workspace.BuildOverview(octx, root).Render()}

	rules, err := project.LoadRules(root)
	if err != nil {
		log.Printf("workspace rules unreadable: %v", err)
	} else if r := strings.TrimSpace(rules); r != "" {
		parts = append(parts, "Workspace rules:\n"+r)
	}

	return strings.Join(parts, "\n\n")
}

// ChangedFiles reports workspace modifications: from git when the
// workspace is a repository, from the filesystem tracker otherwise.
func (rt *Runtime) ChangedFiles(ctx context.Context) []string {
	if rt.Tracker != nil {
		return rt.Tracker.Changed()
	}
	changes, err := rt.Inspector.Changes(ctx, rt.Agent.Config.Workspace)
	if err != nil {
		log.Printf("agent %s: change evidence unavailable: %v", rt.Agent.ID, err)
		return nil
	}
	paths := make([]string, 0, len(changes))
	for _, ch := range changes {
		paths = append(paths, ch.Path)
	}
	return paths
}

// Close releases the runtime's resources.
func (rt *Runtime) Close() {
	if rt.Tracker != nil {
		if err := rt.Tracker.Stop(); err != nil {
			log.Printf("agent %s: stop tracker: %v", rt.Agent.ID, err)
		}
	}
	if rt.Gateway != nil {
		if err := rt.Gateway.Close(); err != nil {
			log.Printf("agent %s: close gateway: %v", rt.Agent.ID, err)
		}
	}
}

// trackerEvidence lets the verifier's diff stage fall back to the file
// watcher when the workspace has no version control.
type trackerEvidence struct {
	t *tracker.Tracker
}

func (e trackerEvidence) VerifyChanges(ctx context.Context, dir string, expectedFiles []string) (engine.ChangeReport, error) {
	changed := e.t.Changed()

	var missing []string
	for _, want := range expectedFiles {
		found := false
		for _, have := range changed {
			if vcs.PathMatches(have, want) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}

	return engine.ChangeReport{
		Verified:       len(missing) == 0,
		ChangedFiles:   changed,
		MissingChanges: missing,
	}, nil
}
