package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx-sub011/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Export/import the JSONL operation log, report status, and compact",
}

var syncExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the current DB state to tasks.jsonl",
	RunE:  runSyncExport,
}

var syncImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Apply tasks.jsonl onto the DB (last-write-wins)",
	RunE:  runSyncImport,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report DB/JSONL drift and last sync times",
	RunE:  runSyncStatus,
}

var syncCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite tasks.jsonl keeping only the latest op per entity",
	RunE:  runSyncCompact,
}

func init() {
	syncCmd.AddCommand(syncExportCmd, syncImportCmd, syncStatusCmd, syncCompactCmd)
}

func runSyncExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := sync.NewExporter(db, jsonlPath()).Export(ctx)
	if err != nil {
		return err
	}
	if err := sync.NewStatusReporter(db, jsonlPath()).RecordExport(ctx, time.Now()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d tasks, %d dependencies\n", stats.TaskCount, stats.DepCount)
	return nil
}

func runSyncImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := sync.NewImporter(db, jsonlPath()).Import(ctx)
	if err != nil {
		return err
	}
	if err := sync.NewStatusReporter(db, jsonlPath()).RecordImport(ctx, time.Now()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d, conflicts %d\n", stats.Imported, stats.Skipped, stats.Conflicts)
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := sync.NewStatusReporter(db, jsonlPath()).Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "db tasks=%d jsonl ops=%d dirty=%v auto_sync=%v\n",
		st.DBTaskCount, st.JSONLOpCount, st.IsDirty, st.AutoSyncEnabled)
	return nil
}

func runSyncCompact(cmd *cobra.Command, args []string) error {
	stats, err := sync.NewCompactor(jsonlPath()).Compact()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "compacted %d ops -> %d ops\n", stats.Before, stats.After)
	return nil
}
