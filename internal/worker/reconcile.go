package worker

import (
	"context"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	ExpiredClaims int
	DeadWorkers   int
}

// Reconcile expires overdue claims and marks stale workers dead, expiring
// their active claim if any (spec.md §4.E). It runs both on a timer and
// whenever a doctor/heartbeat routine invokes it directly. staleThreshold
// is normally HeartbeatStaleThreshold; callers may pass a smaller or
// negative value to force immediate staleness (as store's own tests do).
func (s *Service) Reconcile(ctx context.Context, staleThreshold time.Duration) (ReconcileStats, error) {
	expired, err := s.db.ExpireOverdueClaims(ctx)
	if err != nil {
		return ReconcileStats{}, err
	}

	stale, err := s.db.StaleWorkers(ctx, staleThreshold)
	if err != nil {
		return ReconcileStats{}, err
	}
	dead := 0
	for _, w := range stale {
		if w.Status == store.WorkerDead || w.Status == store.WorkerStopping {
			continue
		}
		if err := s.db.Heartbeat(ctx, w.ID, store.WorkerDead); err != nil {
			return ReconcileStats{}, err
		}
		dead++
		if w.CurrentTaskID != nil {
			if claim, err := s.db.ActiveClaimForTask(ctx, *w.CurrentTaskID); err == nil && claim != nil {
				if err := s.db.ExpireClaim(ctx, claim.ID); err != nil {
					return ReconcileStats{}, err
				}
			}
		}
	}

	stats := ReconcileStats{ExpiredClaims: len(expired), DeadWorkers: dead}
	if stats.ExpiredClaims > 0 || stats.DeadWorkers > 0 {
		logging.Worker("reconcile: expired %d claims, marked %d workers dead", stats.ExpiredClaims, stats.DeadWorkers)
	}
	return stats, nil
}

// RunReconcileLoop runs Reconcile every interval until ctx is cancelled,
// grounded on the teacher's heartbeat-ticker loop
// (internal/campaign/orchestrator_execution.go runHeartbeatLoop).
func (s *Service) RunReconcileLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx, HeartbeatStaleThreshold); err != nil {
				logging.WorkerError("reconcile loop failed: %v", err)
			}
		}
	}
}
