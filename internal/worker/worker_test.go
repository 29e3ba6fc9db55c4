package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustRegister(t *testing.T, svc *Service, id string) *store.Worker {
	t.Helper()
	w, err := svc.Register(context.Background(), id, store.RegisterWorkerInput{Name: id})
	require.NoError(t, err)
	return w
}

func mustCreateTask(t *testing.T, db *store.DB, id string) {
	t.Helper()
	_, err := db.CreateTask(context.Background(), id, store.CreateTaskInput{Title: id, Score: 500})
	require.NoError(t, err)
}

func TestClaimRenewReleaseHappyPath(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)
	mustRegister(t, svc, "w1")
	mustCreateTask(t, db, "task-1")

	claim, err := svc.Claim(ctx, "task-1", "w1", 30)
	require.NoError(t, err)
	require.Equal(t, store.ClaimActive, claim.Status)

	w, err := db.GetWorker(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, store.WorkerBusy, w.Status)
	require.NotNil(t, w.CurrentTaskID)
	require.Equal(t, "task-1", *w.CurrentTaskID)

	renewed, err := svc.Renew(ctx, "task-1", "w1", 30)
	require.NoError(t, err)
	require.Equal(t, 1, renewed.RenewedCount)
	require.True(t, renewed.LeaseExpiresAt.After(claim.LeaseExpiresAt))

	require.NoError(t, svc.Release(ctx, "task-1", "w1"))
	w, err = db.GetWorker(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, store.WorkerIdle, w.Status)
	require.Nil(t, w.CurrentTaskID)
}

func TestClaimConflictDifferentWorkerUnexpiredLease(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)
	mustRegister(t, svc, "w1")
	mustRegister(t, svc, "w2")
	mustCreateTask(t, db, "task-1")

	_, err := svc.Claim(ctx, "task-1", "w1", 30)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, "task-1", "w2", 30)
	require.Error(t, err)
	require.Equal(t, apitypes.TagClaimConflict, apitypes.TagOf(err))
}

func TestClaimSameWorkerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)
	mustRegister(t, svc, "w1")
	mustCreateTask(t, db, "task-1")

	first, err := svc.Claim(ctx, "task-1", "w1", 30)
	require.NoError(t, err)

	second, err := svc.Claim(ctx, "task-1", "w1", 30)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

// TestClaimRaceThenReconcileSupersedesExpiredClaim mirrors spec.md §8's
// claim-race scenario: w1 and w2 both attempt to claim T, one wins and the
// other gets a conflict, and once the winner's lease lapses and reconcile
// runs, w2 can claim T.
func TestClaimRaceThenReconcileSupersedesExpiredClaim(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)
	mustRegister(t, svc, "w1")
	mustRegister(t, svc, "w2")
	mustCreateTask(t, db, "task-1")

	_, err := db.ClaimTask(ctx, "task-1", "w1", time.Millisecond)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, "task-1", "w2", 30)
	require.Error(t, err)
	require.Equal(t, apitypes.TagClaimConflict, apitypes.TagOf(err))

	time.Sleep(5 * time.Millisecond)

	stats, err := svc.Reconcile(ctx, HeartbeatStaleThreshold)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ExpiredClaims)

	claim, err := svc.Claim(ctx, "task-1", "w2", 30)
	require.NoError(t, err)
	require.Equal(t, "w2", claim.WorkerID)
}

func TestRenewWrongOwnerIsClaimConflict(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)
	mustRegister(t, svc, "w1")
	mustRegister(t, svc, "w2")
	mustCreateTask(t, db, "task-1")

	_, err := svc.Claim(ctx, "task-1", "w1", 30)
	require.NoError(t, err)

	_, err = svc.Renew(ctx, "task-1", "w2", 30)
	require.Error(t, err)
	require.Equal(t, apitypes.TagClaimConflict, apitypes.TagOf(err))
}

func TestRenewExceedsCapIsValidation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)
	mustRegister(t, svc, "w1")
	mustCreateTask(t, db, "task-1")

	_, err := svc.Claim(ctx, "task-1", "w1", 30)
	require.NoError(t, err)

	for i := 0; i < store.MaxClaimRenewals; i++ {
		_, err = svc.Renew(ctx, "task-1", "w1", 30)
		require.NoError(t, err)
	}

	_, err = svc.Renew(ctx, "task-1", "w1", 30)
	require.Error(t, err)
	require.Equal(t, apitypes.TagValidation, apitypes.TagOf(err))
}

func TestReleaseIsIdempotentWhenNoActiveClaim(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)
	mustRegister(t, svc, "w1")
	mustCreateTask(t, db, "task-1")

	require.NoError(t, svc.Release(ctx, "task-1", "w1"))
}

func TestHeartbeatTransitionsStartingToIdle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)
	w := mustRegister(t, svc, "w1")
	require.Equal(t, store.WorkerStarting, w.Status)

	updated, err := svc.Heartbeat(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, store.WorkerIdle, updated.Status)

	err = db.Heartbeat(ctx, "w1", store.WorkerBusy)
	require.NoError(t, err)
	updated, err = svc.Heartbeat(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, store.WorkerBusy, updated.Status)
}

func TestReconcileMarksStaleWorkerDeadAndExpiresClaim(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)
	mustRegister(t, svc, "w1")
	mustCreateTask(t, db, "task-1")

	_, err := svc.Claim(ctx, "task-1", "w1", 30)
	require.NoError(t, err)

	stats, err := svc.Reconcile(ctx, -time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, stats.DeadWorkers)

	w, err := db.GetWorker(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, store.WorkerDead, w.Status)

	claim, err := db.ActiveClaimForTask(ctx, "task-1")
	require.NoError(t, err)
	require.Nil(t, claim)
}
