package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx-sub011/internal/store"
	"github.com/jamesaphoenix/tx-sub011/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Register, claim, and reconcile workers",
}

var (
	workerName         string
	workerCapabilities []string
	leaseMinutes       int
)

var workerRegisterCmd = &cobra.Command{
	Use:   "register [id]",
	Short: "Register a new worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerRegister,
}

var workerHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat [id]",
	Short: "Send a worker heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerHeartbeat,
}

var workerClaimCmd = &cobra.Command{
	Use:   "claim [taskID] [workerID]",
	Short: "Claim a task for a worker",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkerClaim,
}

var workerRenewCmd = &cobra.Command{
	Use:   "renew [taskID] [workerID]",
	Short: "Renew a worker's active claim on a task",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkerRenew,
}

var workerReleaseCmd = &cobra.Command{
	Use:   "release [taskID] [workerID]",
	Short: "Release a worker's claim on a task",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkerRelease,
}

var workerReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Expire overdue claims and mark stale workers dead",
	RunE:  runWorkerReconcile,
}

func init() {
	workerRegisterCmd.Flags().StringVar(&workerName, "name", "", "Worker display name")
	workerRegisterCmd.Flags().StringSliceVar(&workerCapabilities, "capability", nil, "Capability tag (repeatable)")

	workerClaimCmd.Flags().IntVar(&leaseMinutes, "lease-minutes", worker.DefaultLeaseMinutes, "Claim lease length in minutes")
	workerRenewCmd.Flags().IntVar(&leaseMinutes, "lease-minutes", worker.DefaultLeaseMinutes, "Renewed lease length in minutes")

	workerCmd.AddCommand(workerRegisterCmd, workerHeartbeatCmd, workerClaimCmd, workerRenewCmd, workerReleaseCmd, workerReconcileCmd)
}

func runWorkerRegister(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	hostname, _ := os.Hostname()
	svc := worker.NewService(db)
	w, err := svc.Register(ctx, args[0], store.RegisterWorkerInput{
		Name: workerName, Hostname: hostname, PID: os.Getpid(), Capabilities: workerCapabilities,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", w.ID, w.Status)
	return nil
}

func runWorkerHeartbeat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := worker.NewService(db)
	w, err := svc.Heartbeat(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", w.ID, w.Status)
	return nil
}

func runWorkerClaim(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := worker.NewService(db)
	claim, err := svc.Claim(ctx, args[0], args[1], leaseMinutes)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "claimed %s for %s, lease expires %s\n", claim.TaskID, claim.WorkerID, claim.LeaseExpiresAt)
	return nil
}

func runWorkerRenew(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := worker.NewService(db)
	claim, err := svc.Renew(ctx, args[0], args[1], leaseMinutes)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "renewed %s, lease expires %s\n", claim.TaskID, claim.LeaseExpiresAt)
	return nil
}

func runWorkerRelease(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := worker.NewService(db)
	if err := svc.Release(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", args[0])
	return nil
}

func runWorkerReconcile(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := worker.NewService(db)
	stats, err := svc.Reconcile(ctx, worker.HeartbeatStaleThreshold)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d claims, marked %d workers dead\n", stats.ExpiredClaims, stats.DeadWorkers)
	return nil
}
