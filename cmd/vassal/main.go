// Package main provides the CLI entry point for vassal, the on-device
// Governor core: a tool-orchestrating reasoning loop over a local GGUF
// model, a durable Memory Store, and a Tool Registry & Dispatch surface.
//
// # Basic Usage
//
// Run the interactive REPL:
//
//	vassal run --config vassal.yaml
//
// Validate a configuration file without starting anything:
//
//	vassal doctor --config vassal.yaml
//
// # Environment Variables
//
//   - VASSAL_CONFIG: path to the configuration file (default: ./vassal.yaml)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to make the CLI testable.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vassal",
		Short: "vassal - local tool-orchestrating Governor core",
		Long: `vassal drives a local GGUF model through a tool-orchestrating reasoning
loop backed by a durable Memory Store and a Tool Registry & Dispatch surface.

It is a single-conversation, single-process core: no scheduler, no
multi-tenant job queue, no network-facing channel adapters.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("VASSAL_CONFIG"); env != "" {
		return env
	}
	return "vassal.yaml"
}
