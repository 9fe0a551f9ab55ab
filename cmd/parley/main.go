package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env if present so provider keys work out of the box.
	_ = godotenv.Load()

	workspaceFlag := flag.String("workspace", "", "Working directory for agents (default: current directory)")
	modelFlag := flag.String("model", "", "Model identifier override")
	permissionFlag := flag.String("permission", "", "Default permission tier: restricted, standard or autonomous")
	stdioFlag := flag.Bool("stdio", true, "Serve the engine over the NDJSON stdio protocol")
	flag.Parse()

	// Redirect logs to stderr in stdio mode to avoid corrupting the protocol
	if *stdioFlag {
		log.SetOutput(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := prepareRuntimeEnv(*workspaceFlag, *modelFlag, *permissionFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to prepare runtime environment: %v\n", err)
		os.Exit(1)
	}

	if !*stdioFlag {
		fmt.Fprintln(os.Stderr, "ERROR: this binary only serves the stdio protocol; run with -stdio")
		os.Exit(1)
	}

	if err := runStdIOEngine(ctx, env); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: engine failed: %v\n", err)
		os.Exit(1)
	}
}
