package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx-sub011/internal/anchor"
)

var anchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Verify anchors and watch for drift",
}

var anchorVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify all non-pinned anchors (swarm batch verifier)",
	RunE:  runAnchorVerify,
}

var anchorWatchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and verify anchors on changed files",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnchorWatch,
}

func init() {
	anchorCmd.AddCommand(anchorVerifyCmd, anchorWatchCmd)
}

func anchorCacheTTL() time.Duration {
	if v := os.Getenv("TX_ANCHOR_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Hour
}

func runAnchorVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := anchor.NewService(db, resolveWorkspace(), anchorCacheTTL())
	stats, err := svc.VerifyAll(ctx, anchor.DefaultSwarmOptions(), true)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "verified %d anchors, %d need review\n", len(stats.Outcomes), len(stats.NeedsReview))
	return nil
}

func runAnchorWatch(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := anchor.NewService(db, resolveWorkspace(), anchorCacheTTL())
	w, err := anchor.NewWatcher(svc)
	if err != nil {
		return err
	}
	if err := w.Add(args[0]); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Fprintf(cmd.OutOrStdout(), "watching %s for anchor drift (ctrl-c to stop)\n", args[0])
	<-sigCh
	return nil
}
