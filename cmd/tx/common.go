// Package main implements the tx CLI - a thin entrypoint over the
// knowledge-and-coordination core (internal/store, internal/sync,
// internal/worker, internal/docgraph, internal/anchor, internal/retrieval,
// internal/observability). The HTTP API described in spec.md §6 is the
// system's primary external interface; this CLI is a secondary, local
// convenience surface for the same operations.
//
// This file holds entrypoint plumbing shared by every cmd_*.go file:
// global flags, the zap/internal-logging lifecycle, and helpers for
// resolving the `.tx/` workspace layout. Command implementations are
// split across cmd_init.go, cmd_task.go, cmd_worker.go, cmd_sync.go,
// cmd_doc.go, cmd_anchor.go.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jamesaphoenix/tx-sub011/internal/config"
	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

var (
	// Global flags
	verbose    bool
	apiKeyFlag string
	workspace  string
	timeout    time.Duration

	logger *zap.Logger
)

// rootCmd is the base command; subcommands are registered in init().
var rootCmd = &cobra.Command{
	Use:   "tx",
	Short: "tx - local-first task, doc, and knowledge workbench",
	Long: `tx is a local-first engineering workbench core: tasks, dependency
graphs, a hybrid-retrieval knowledge store, anchor-verified learnings,
multi-worker coordination, and a versioned doc graph, all backed by a
single SQLite file under .tx/.

This CLI is a thin wrapper over the core packages for local use; the
primary external interface is the HTTP API described alongside it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := resolveWorkspace()
		if err := logging.Initialize(ws, verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Shared-secret key (or set TX_API_KEY env)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(initCmd, taskCmd, workerCmd, syncCmd, docCmd, anchorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the absolute workspace root, honoring
// --workspace and falling back to the current directory.
func resolveWorkspace() string {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
		return ws
	}
	if abs, err := filepath.Abs(ws); err == nil {
		return abs
	}
	return ws
}

// txDir returns the path of the workspace's .tx/ directory; it does not
// create the directory.
func txDir() string {
	return filepath.Join(resolveWorkspace(), ".tx")
}

func dbPath() string {
	if p := os.Getenv("TX_DB_PATH"); p != "" {
		return p
	}
	return filepath.Join(txDir(), "tasks.db")
}

func jsonlPath() string {
	return filepath.Join(txDir(), "tasks.jsonl")
}

func docsDir(cfg config.Config) string {
	if filepath.IsAbs(cfg.Docs.Path) {
		return cfg.Docs.Path
	}
	return filepath.Join(resolveWorkspace(), cfg.Docs.Path)
}

func configPath() string {
	return filepath.Join(txDir(), "config.toml")
}

// openDB opens the workspace's store, creating .tx/ if it does not exist.
func openDB() (*store.DB, error) {
	if err := os.MkdirAll(txDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create .tx dir: %w", err)
	}
	return store.Open(dbPath())
}

// loadConfig loads .tx/config.toml, applying documented defaults for
// anything the file doesn't set (internal/config.Load tolerates a missing
// file).
func loadConfig() (*config.File, error) {
	return config.Load(configPath())
}
