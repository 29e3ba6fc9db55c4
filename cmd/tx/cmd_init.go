package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// initCmd lays down the .tx/ workspace layout: the SQLite store (created
// lazily by openDB via the migrations runner), the docs directory, and a
// config.toml seeded with documented defaults.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the .tx workspace in the current (or --workspace) directory",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(docsDir(cfg.Config), 0o755); err != nil {
		return fmt.Errorf("create docs dir: %w", err)
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace at %s\n", txDir())
	return nil
}
