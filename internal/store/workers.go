package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// RegisterWorkerInput carries the fields needed to register a worker.
type RegisterWorkerInput struct {
	Name         string
	Hostname     string
	PID          int
	Capabilities []string
}

// RegisterWorker inserts a new worker row in WorkerStarting status.
func (db *DB) RegisterWorker(ctx context.Context, id string, in RegisterWorkerInput) (*Worker, error) {
	if in.Name == "" {
		return nil, apitypes.Validation("worker name must not be empty")
	}
	capsJSON, err := json.Marshal(in.Capabilities)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagValidation, "encode worker capabilities", err)
	}
	now := time.Now().UTC()

	const q = `INSERT INTO workers (id, name, hostname, pid, capabilities, status, registered_at, last_heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.q(ctx).ExecContext(ctx, q, id, in.Name, in.Hostname, in.PID, string(capsJSON), string(WorkerStarting), now, now)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert worker", err)
	}
	return db.GetWorker(ctx, id)
}

// GetWorker fetches a worker by id.
func (db *DB) GetWorker(ctx context.Context, id string) (*Worker, error) {
	const q = `SELECT id, name, hostname, pid, capabilities, status, current_task_id, registered_at, last_heartbeat_at
		FROM workers WHERE id = ?`
	row := db.q(ctx).QueryRowContext(ctx, q, id)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.NotFound("worker", id)
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan worker", err)
	}
	return w, nil
}

func scanWorker(row rowScanner) (*Worker, error) {
	var w Worker
	var status string
	var capsJSON string
	var currentTaskID sql.NullString

	err := row.Scan(&w.ID, &w.Name, &w.Hostname, &w.PID, &capsJSON, &status, &currentTaskID,
		&w.RegisteredAt, &w.LastHeartbeatAt)
	if err != nil {
		return nil, err
	}
	w.Status = WorkerStatus(status)
	if currentTaskID.Valid {
		w.CurrentTaskID = &currentTaskID.String
	}
	if err := json.Unmarshal([]byte(capsJSON), &w.Capabilities); err != nil {
		return nil, err
	}
	return &w, nil
}

// Heartbeat updates a worker's last_heartbeat_at and optionally its status.
func (db *DB) Heartbeat(ctx context.Context, id string, status WorkerStatus) error {
	_, err := db.q(ctx).ExecContext(ctx, `UPDATE workers SET status = ?, last_heartbeat_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "worker heartbeat", err)
	}
	return nil
}

// SetWorkerCurrentTask records which task a worker is presently occupied
// with, or clears it if taskID is nil.
func (db *DB) SetWorkerCurrentTask(ctx context.Context, id string, taskID *string) error {
	_, err := db.q(ctx).ExecContext(ctx, `UPDATE workers SET current_task_id = ? WHERE id = ?`, taskID, id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "set worker current task", err)
	}
	return nil
}

// StaleWorkers returns workers whose last heartbeat is older than threshold,
// the dead-worker detection rule used by the periodic reconcile loop
// (spec.md §4.F, 5-minute default threshold).
func (db *DB) StaleWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	const q = `SELECT id, name, hostname, pid, capabilities, status, current_task_id, registered_at, last_heartbeat_at
		FROM workers WHERE last_heartbeat_at < ? AND status != 'dead'`
	rows, err := db.q(ctx).QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query stale workers", err)
	}
	defer rows.Close()

	var out []*Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan stale worker", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// MaxClaimRenewals is the ceiling on TaskClaim.RenewedCount enforced by
// RenewClaim before a lease must be released and reclaimed fresh
// (spec.md §4.F, resolved Open Question: renewedCount < 10).
const MaxClaimRenewals = 10

// ActiveClaimForTask returns the active claim on taskID, or nil if none.
func (db *DB) ActiveClaimForTask(ctx context.Context, taskID string) (*TaskClaim, error) {
	const q = `SELECT id, task_id, worker_id, claimed_at, lease_expires_at, renewed_count, status
		FROM task_claims WHERE task_id = ? AND status = 'active'`
	row := db.q(ctx).QueryRowContext(ctx, q, taskID)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "get active claim for task", err)
	}
	return c, nil
}

// ClaimTask implements spec.md §4.E's claim algorithm: an existing active,
// unexpired claim held by a different worker fails with ClaimConflict; a
// claim held by the same worker is returned unchanged (idempotent); an
// existing active but expired claim is marked expired and superseded. The
// partial unique index idx_one_active_claim is the atomicity backstop for
// concurrent callers racing this same sequence — the insert's UNIQUE
// violation also surfaces as ClaimConflict.
func (db *DB) ClaimTask(ctx context.Context, taskID, workerID string, leaseDuration time.Duration) (*TaskClaim, error) {
	var claim *TaskClaim
	err := db.Tx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		existing, err := db.ActiveClaimForTask(ctx, taskID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.LeaseExpiresAt.After(now) {
				if existing.WorkerID == workerID {
					claim = existing
					return nil
				}
				return apitypes.ClaimConflict("task already has an active claim")
			}
			if _, err := db.q(ctx).ExecContext(ctx, `UPDATE task_claims SET status = ? WHERE id = ?`,
				string(ClaimExpired), existing.ID); err != nil {
				return apitypes.Wrap(apitypes.TagDatabase, "expire superseded claim", err)
			}
		}

		expiresAt := now.Add(leaseDuration)
		const q = `INSERT INTO task_claims (task_id, worker_id, claimed_at, lease_expires_at, renewed_count, status)
			VALUES (?, ?, ?, ?, 0, ?)`
		res, err := db.q(ctx).ExecContext(ctx, q, taskID, workerID, now, expiresAt, string(ClaimActive))
		if err != nil {
			if isUniqueConstraintErr(err) {
				return apitypes.ClaimConflict("task already has an active claim")
			}
			return apitypes.Wrap(apitypes.TagDatabase, "insert task claim", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "read claim id", err)
		}
		if err := db.SetWorkerCurrentTask(ctx, workerID, &taskID); err != nil {
			return err
		}
		claim = &TaskClaim{ID: id, TaskID: taskID, WorkerID: workerID, ClaimedAt: now, LeaseExpiresAt: expiresAt, Status: ClaimActive}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// RenewClaim extends an active claim's lease, rejecting renewal once
// RenewedCount has reached MaxClaimRenewals.
func (db *DB) RenewClaim(ctx context.Context, claimID int64, extension time.Duration) (*TaskClaim, error) {
	var result *TaskClaim
	err := db.Tx(ctx, func(ctx context.Context) error {
		claim, err := db.getClaim(ctx, claimID)
		if err != nil {
			return err
		}
		if claim.Status != ClaimActive {
			return apitypes.Validation("cannot renew a claim that is not active")
		}
		if claim.RenewedCount >= MaxClaimRenewals {
			return apitypes.Validation("claim has reached its maximum renewal count")
		}
		newExpiry := time.Now().UTC().Add(extension)
		_, err = db.q(ctx).ExecContext(ctx,
			`UPDATE task_claims SET lease_expires_at = ?, renewed_count = renewed_count + 1 WHERE id = ?`,
			newExpiry, claimID)
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "renew claim", err)
		}
		result, err = db.getClaim(ctx, claimID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseClaim marks a claim released and clears the worker's current task.
func (db *DB) ReleaseClaim(ctx context.Context, claimID int64) error {
	return db.Tx(ctx, func(ctx context.Context) error {
		claim, err := db.getClaim(ctx, claimID)
		if err != nil {
			return err
		}
		_, err = db.q(ctx).ExecContext(ctx, `UPDATE task_claims SET status = ? WHERE id = ?`, string(ClaimReleased), claimID)
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "release claim", err)
		}
		return db.SetWorkerCurrentTask(ctx, claim.WorkerID, nil)
	})
}

// ExpireClaim marks a single claim expired and clears the worker's current
// task, regardless of whether its lease has actually elapsed — used when a
// worker is declared dead before its claim's lease would otherwise expire
// (spec.md §4.E).
func (db *DB) ExpireClaim(ctx context.Context, claimID int64) error {
	return db.Tx(ctx, func(ctx context.Context) error {
		claim, err := db.getClaim(ctx, claimID)
		if err != nil {
			return err
		}
		_, err = db.q(ctx).ExecContext(ctx, `UPDATE task_claims SET status = ? WHERE id = ?`, string(ClaimExpired), claimID)
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "expire claim", err)
		}
		return db.SetWorkerCurrentTask(ctx, claim.WorkerID, nil)
	})
}

// ExpireOverdueClaims marks every active claim whose lease has passed as
// expired, returning the claims that were transitioned so callers can
// re-open their tasks.
func (db *DB) ExpireOverdueClaims(ctx context.Context) ([]*TaskClaim, error) {
	var expired []*TaskClaim
	err := db.Tx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		const q = `SELECT id, task_id, worker_id, claimed_at, lease_expires_at, renewed_count, status
			FROM task_claims WHERE status = 'active' AND lease_expires_at < ?`
		rows, err := db.q(ctx).QueryContext(ctx, q, now)
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "query overdue claims", err)
		}
		var claims []*TaskClaim
		for rows.Next() {
			c, err := scanClaim(rows)
			if err != nil {
				rows.Close()
				return apitypes.Wrap(apitypes.TagDatabase, "scan overdue claim", err)
			}
			claims = append(claims, c)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return apitypes.Wrap(apitypes.TagDatabase, "iterate overdue claims", err)
		}
		rows.Close()

		for _, c := range claims {
			_, err := db.q(ctx).ExecContext(ctx, `UPDATE task_claims SET status = ? WHERE id = ?`, string(ClaimExpired), c.ID)
			if err != nil {
				return apitypes.Wrap(apitypes.TagDatabase, "expire claim", err)
			}
			if err := db.SetWorkerCurrentTask(ctx, c.WorkerID, nil); err != nil {
				return err
			}
			c.Status = ClaimExpired
			expired = append(expired, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (db *DB) getClaim(ctx context.Context, id int64) (*TaskClaim, error) {
	const q = `SELECT id, task_id, worker_id, claimed_at, lease_expires_at, renewed_count, status
		FROM task_claims WHERE id = ?`
	row := db.q(ctx).QueryRowContext(ctx, q, id)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.New(apitypes.TagNotFound, "task claim not found")
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan claim", err)
	}
	return c, nil
}

func scanClaim(row rowScanner) (*TaskClaim, error) {
	var c TaskClaim
	var status string
	if err := row.Scan(&c.ID, &c.TaskID, &c.WorkerID, &c.ClaimedAt, &c.LeaseExpiresAt, &c.RenewedCount, &status); err != nil {
		return nil, err
	}
	c.Status = ClaimStatus(status)
	return &c, nil
}

// isUniqueConstraintErr reports whether err is a SQLite UNIQUE constraint
// violation, matched by message substring since mattn/go-sqlite3's
// sqlite3.Error type is only reliably available when built with cgo.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
