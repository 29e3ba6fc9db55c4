// Package worker implements worker registration, heartbeats, task claim
// lifecycle, and periodic reconciliation (spec.md §4.E).
package worker

import (
	"context"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// DefaultLeaseMinutes and MaxLeaseMinutes bound the lease a claim request
// may ask for (spec.md §4.E).
const (
	DefaultLeaseMinutes = 30
	MaxLeaseMinutes     = 240

	// HeartbeatStaleThreshold is the dead-worker detection window used by
	// Reconcile (spec.md §4.E).
	HeartbeatStaleThreshold = 5 * time.Minute
)

// Service wraps the store's worker and claim repositories with the
// lifecycle and leasing rules spec.md §4.E describes.
type Service struct {
	db *store.DB
}

// NewService builds a Service over db.
func NewService(db *store.DB) *Service {
	return &Service{db: db}
}

// Register creates a worker row in WorkerStarting status.
func (s *Service) Register(ctx context.Context, id string, in store.RegisterWorkerInput) (*store.Worker, error) {
	return s.db.RegisterWorker(ctx, id, in)
}

// Heartbeat writes lastHeartbeatAt=now and transitions starting->idle on
// the first tick; any later tick preserves the worker's current status
// unless it is explicitly changed elsewhere (spec.md §4.E).
func (s *Service) Heartbeat(ctx context.Context, workerID string) (*store.Worker, error) {
	w, err := s.db.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	next := w.Status
	if next == store.WorkerStarting {
		next = store.WorkerIdle
	}
	if err := s.db.Heartbeat(ctx, workerID, next); err != nil {
		return nil, err
	}
	return s.db.GetWorker(ctx, workerID)
}

// leaseDuration clamps leaseMinutes to [1, MaxLeaseMinutes], defaulting to
// DefaultLeaseMinutes when unset.
func leaseDuration(leaseMinutes int) time.Duration {
	if leaseMinutes <= 0 {
		leaseMinutes = DefaultLeaseMinutes
	}
	if leaseMinutes > MaxLeaseMinutes {
		leaseMinutes = MaxLeaseMinutes
	}
	return time.Duration(leaseMinutes) * time.Minute
}

// Claim attempts to claim taskID for workerID with the given lease, and on
// success transitions the worker idle->busy with currentTaskId set
// (spec.md §4.E).
func (s *Service) Claim(ctx context.Context, taskID, workerID string, leaseMinutes int) (*store.TaskClaim, error) {
	claim, err := s.db.ClaimTask(ctx, taskID, workerID, leaseDuration(leaseMinutes))
	if err != nil {
		return nil, err
	}
	if err := s.db.Heartbeat(ctx, workerID, store.WorkerBusy); err != nil {
		return nil, err
	}
	logging.Worker("worker %s claimed task %s", workerID, taskID)
	return claim, nil
}

// Renew resets workerID's active claim on taskID to expire leaseMinutes
// (clamped as in Claim) from now, rejecting renewal once the cap is
// reached. The claim's original lease length is not stored and is not
// reused. Failure kinds: not-found, wrong-owner (ClaimConflict),
// renewal-cap-exceeded (Validation) (spec.md §4.E).
func (s *Service) Renew(ctx context.Context, taskID, workerID string, leaseMinutes int) (*store.TaskClaim, error) {
	existing, err := s.db.ActiveClaimForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apitypes.NotFound("task claim", taskID)
	}
	if existing.WorkerID != workerID {
		return nil, apitypes.ClaimConflict("claim is held by a different worker")
	}
	return s.db.RenewClaim(ctx, existing.ID, leaseDuration(leaseMinutes))
}

// Release marks workerID's active claim on taskID released, succeeding
// idempotently if no claim exists, and returns the worker to idle
// (spec.md §4.E).
func (s *Service) Release(ctx context.Context, taskID, workerID string) error {
	existing, err := s.db.ActiveClaimForTask(ctx, taskID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.WorkerID != workerID {
		return apitypes.ClaimConflict("claim is held by a different worker")
	}
	if err := s.db.ReleaseClaim(ctx, existing.ID); err != nil {
		return err
	}
	return s.db.Heartbeat(ctx, workerID, store.WorkerIdle)
}

// Shutdown transitions a worker stopping->dead for graceful shutdown
// (spec.md §4.E).
func (s *Service) Shutdown(ctx context.Context, workerID string) error {
	if err := s.db.Heartbeat(ctx, workerID, store.WorkerStopping); err != nil {
		return err
	}
	return s.db.Heartbeat(ctx, workerID, store.WorkerDead)
}
