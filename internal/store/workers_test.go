package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

func TestRegisterWorkerAndHeartbeat(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	w, err := db.RegisterWorker(ctx, "worker-00000001", RegisterWorkerInput{Name: "w1", Hostname: "h1", PID: 123})
	require.NoError(t, err)
	require.Equal(t, WorkerStarting, w.Status)

	require.NoError(t, db.Heartbeat(ctx, w.ID, WorkerIdle))
	fetched, err := db.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, WorkerIdle, fetched.Status)
}

func TestClaimTaskRejectsDoubleClaim(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-claim", "task")
	w1, err := db.RegisterWorker(ctx, "worker-1", RegisterWorkerInput{Name: "w1", Hostname: "h", PID: 1})
	require.NoError(t, err)
	w2, err := db.RegisterWorker(ctx, "worker-2", RegisterWorkerInput{Name: "w2", Hostname: "h", PID: 2})
	require.NoError(t, err)

	_, err = db.ClaimTask(ctx, "tx-claim", w1.ID, time.Hour)
	require.NoError(t, err)

	_, err = db.ClaimTask(ctx, "tx-claim", w2.ID, time.Hour)
	apiErr, ok := apitypes.AsError(err)
	require.True(t, ok)
	require.Equal(t, apitypes.TagClaimConflict, apiErr.Tag)
}

func TestRenewClaimStopsAtMaxRenewals(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-renew", "task")
	w, err := db.RegisterWorker(ctx, "worker-renew", RegisterWorkerInput{Name: "w", Hostname: "h", PID: 1})
	require.NoError(t, err)

	claim, err := db.ClaimTask(ctx, "tx-renew", w.ID, time.Minute)
	require.NoError(t, err)

	for i := 0; i < MaxClaimRenewals; i++ {
		claim, err = db.RenewClaim(ctx, claim.ID, time.Minute)
		require.NoError(t, err)
	}
	require.Equal(t, MaxClaimRenewals, claim.RenewedCount)

	_, err = db.RenewClaim(ctx, claim.ID, time.Minute)
	apiErr, ok := apitypes.AsError(err)
	require.True(t, ok)
	require.Equal(t, apitypes.TagValidation, apiErr.Tag)
}

func TestReleaseClaimAllowsReclaim(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-release", "task")
	w1, err := db.RegisterWorker(ctx, "worker-a", RegisterWorkerInput{Name: "a", Hostname: "h", PID: 1})
	require.NoError(t, err)
	w2, err := db.RegisterWorker(ctx, "worker-b", RegisterWorkerInput{Name: "b", Hostname: "h", PID: 2})
	require.NoError(t, err)

	claim, err := db.ClaimTask(ctx, "tx-release", w1.ID, time.Hour)
	require.NoError(t, err)
	require.NoError(t, db.ReleaseClaim(ctx, claim.ID))

	_, err = db.ClaimTask(ctx, "tx-release", w2.ID, time.Hour)
	require.NoError(t, err)
}

func TestExpireOverdueClaims(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-expire", "task")
	w, err := db.RegisterWorker(ctx, "worker-expire", RegisterWorkerInput{Name: "w", Hostname: "h", PID: 1})
	require.NoError(t, err)

	_, err = db.ClaimTask(ctx, "tx-expire", w.ID, -time.Second)
	require.NoError(t, err)

	expired, err := db.ExpireOverdueClaims(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, ClaimExpired, expired[0].Status)
}

func TestStaleWorkers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	w, err := db.RegisterWorker(ctx, "worker-stale", RegisterWorkerInput{Name: "w", Hostname: "h", PID: 1})
	require.NoError(t, err)

	stale, err := db.StaleWorkers(ctx, time.Hour)
	require.NoError(t, err)
	require.Empty(t, stale)

	stale, err = db.StaleWorkers(ctx, -time.Second)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, w.ID, stale[0].ID)
}
