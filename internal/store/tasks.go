package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// validTransitions encodes the status state machine from spec.md §4.A.
// done and cancelled are terminal; every other status may move to
// cancelled directly.
var validTransitions = map[TaskStatus]map[TaskStatus]bool{
	StatusBacklog:  {StatusReady: true, StatusPlanning: true, StatusActive: true, StatusCancelled: true},
	StatusReady:    {StatusPlanning: true, StatusActive: true, StatusCancelled: true},
	StatusPlanning: {StatusActive: true, StatusReady: true, StatusCancelled: true},
	StatusActive:   {StatusReview: true, StatusDone: true, StatusCancelled: true},
	StatusReview:   {StatusActive: true, StatusDone: true, StatusCancelled: true},
	StatusDone:     {},
	StatusCancelled: {},
}

// CanTransition reports whether from->to is an allowed status move.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	next, ok := validTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// CreateTaskInput carries the fields a caller supplies when creating a task.
type CreateTaskInput struct {
	Title       string
	Description string
	ParentID    *string
	Score       int
	Metadata    map[string]interface{}
}

// CreateTask inserts a new task in StatusBacklog.
func (db *DB) CreateTask(ctx context.Context, id string, in CreateTaskInput) (*Task, error) {
	if in.Title == "" {
		return nil, apitypes.Validation("task title must not be empty")
	}
	now := time.Now().UTC()
	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagValidation, "encode task metadata", err)
	}

	if in.ParentID != nil {
		exists, err := db.taskExists(ctx, *in.ParentID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apitypes.NotFound("task", *in.ParentID)
		}
	}

	const q = `INSERT INTO tasks (id, title, description, status, parent_id, score, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.q(ctx).ExecContext(ctx, q, id, in.Title, in.Description, string(StatusBacklog), in.ParentID, in.Score, now, now, metaJSON)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert task", err)
	}

	return db.GetTask(ctx, id)
}

func (db *DB) taskExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := db.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, apitypes.Wrap(apitypes.TagDatabase, "check task exists", err)
	}
	return n > 0, nil
}

// GetTask fetches a single task by id.
func (db *DB) GetTask(ctx context.Context, id string) (*Task, error) {
	const q = `SELECT id, title, description, status, parent_id, score, assignee_type, assignee_id,
		assigned_at, assigned_by, created_at, updated_at, completed_at, metadata
		FROM tasks WHERE id = ?`
	row := db.q(ctx).QueryRowContext(ctx, q, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.NotFound("task", id)
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan task", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var status string
	var assigneeType sql.NullString
	var assigneeID sql.NullString
	var assignedAt sql.NullTime
	var assignedBy sql.NullString
	var completedAt sql.NullTime
	var parentID sql.NullString
	var metaJSON sql.NullString

	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &parentID, &t.Score,
		&assigneeType, &assigneeID, &assignedAt, &assignedBy, &t.CreatedAt, &t.UpdatedAt,
		&completedAt, &metaJSON)
	if err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if assigneeType.Valid {
		at := AssigneeType(assigneeType.String)
		t.AssigneeType = &at
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if assignedAt.Valid {
		t.AssignedAt = &assignedAt.Time
	}
	if assignedBy.Valid {
		t.AssignedBy = &assignedBy.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	t.Metadata, err = unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTaskStatus transitions a task to newStatus, enforcing spec.md §4.A's
// state machine and setting completedAt exactly on entering done.
func (db *DB) UpdateTaskStatus(ctx context.Context, id string, newStatus TaskStatus) (*Task, error) {
	var result *Task
	err := db.Tx(ctx, func(ctx context.Context) error {
		current, err := db.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, newStatus) {
			return apitypes.Validation(fmt.Sprintf("cannot transition task %s from %s to %s", id, current.Status, newStatus))
		}

		now := time.Now().UTC()
		if newStatus == StatusDone {
			_, err = db.q(ctx).ExecContext(ctx,
				`UPDATE tasks SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
				string(newStatus), now, now, id)
		} else {
			_, err = db.q(ctx).ExecContext(ctx,
				`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
				string(newStatus), now, id)
		}
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "update task status", err)
		}
		result, err = db.GetTask(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AssignTask sets the assignee on a task.
func (db *DB) AssignTask(ctx context.Context, id string, assigneeType AssigneeType, assigneeID, assignedBy string) (*Task, error) {
	now := time.Now().UTC()
	_, err := db.q(ctx).ExecContext(ctx,
		`UPDATE tasks SET assignee_type = ?, assignee_id = ?, assigned_at = ?, assigned_by = ?, updated_at = ? WHERE id = ?`,
		string(assigneeType), assigneeID, now, assignedBy, now, id)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "assign task", err)
	}
	return db.GetTask(ctx, id)
}

// AddDependency records that blocker must complete before blocked may start.
// It rejects the insert if it would create a cycle, performing a transitive
// reachability search from blocked following blocker_id edges: if blocker is
// reachable from blocked, the new edge would close a loop (spec.md §4.A).
func (db *DB) AddDependency(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == blockedID {
		return apitypes.Validation("a task cannot depend on itself")
	}
	return db.Tx(ctx, func(ctx context.Context) error {
		for _, id := range []string{blockerID, blockedID} {
			exists, err := db.taskExists(ctx, id)
			if err != nil {
				return err
			}
			if !exists {
				return apitypes.NotFound("task", id)
			}
		}

		reachable, err := db.isReachable(ctx, blockedID, blockerID)
		if err != nil {
			return err
		}
		if reachable {
			return apitypes.Validation(fmt.Sprintf("adding dependency %s -> %s would create a cycle", blockerID, blockedID))
		}

		now := time.Now().UTC()
		_, err = db.q(ctx).ExecContext(ctx,
			`INSERT OR IGNORE INTO dependencies (blocker_id, blocked_id, created_at) VALUES (?, ?, ?)`,
			blockerID, blockedID, now)
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "insert dependency", err)
		}
		return nil
	})
}

// isReachable performs a breadth-first search from start following
// blocker_id edges (i.e. "what does start block, transitively") and reports
// whether target is among the reached nodes.
func (db *DB) isReachable(ctx context.Context, start, target string) (bool, error) {
	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		rows, err := db.q(ctx).QueryContext(ctx, `SELECT blocked_id FROM dependencies WHERE blocker_id = ?`, current)
		if err != nil {
			return false, apitypes.Wrap(apitypes.TagDatabase, "query dependency edges", err)
		}
		var next []string
		for rows.Next() {
			var blocked string
			if err := rows.Scan(&blocked); err != nil {
				rows.Close()
				return false, apitypes.Wrap(apitypes.TagDatabase, "scan dependency edge", err)
			}
			next = append(next, blocked)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, apitypes.Wrap(apitypes.TagDatabase, "iterate dependency edges", err)
		}
		rows.Close()

		for _, n := range next {
			if n == target {
				return true, nil
			}
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false, nil
}

// RemoveDependency deletes a (blocker, blocked) edge.
func (db *DB) RemoveDependency(ctx context.Context, blockerID, blockedID string) error {
	_, err := db.q(ctx).ExecContext(ctx, `DELETE FROM dependencies WHERE blocker_id = ? AND blocked_id = ?`, blockerID, blockedID)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "delete dependency", err)
	}
	return nil
}

// ReadyTasks returns workable tasks (backlog/ready/planning) that have no
// incomplete blockers, ordered by score DESC, id ASC (spec.md §4.B ranking,
// Testable Property #1).
func (db *DB) ReadyTasks(ctx context.Context, limit int) ([]*Task, error) {
	const q = `SELECT id, title, description, status, parent_id, score, assignee_type, assignee_id,
		assigned_at, assigned_by, created_at, updated_at, completed_at, metadata
		FROM tasks t
		WHERE t.status IN ('backlog', 'ready', 'planning')
		AND NOT EXISTS (
			SELECT 1 FROM dependencies d
			JOIN tasks blocker ON blocker.id = d.blocker_id
			WHERE d.blocked_id = t.id AND blocker.status != 'done'
		)
		ORDER BY t.score DESC, t.id ASC
		LIMIT ?`
	rows, err := db.q(ctx).QueryContext(ctx, q, limit)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query ready tasks", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan ready task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasksPage returns up to limit tasks ordered by score DESC, id ASC,
// starting strictly after cursor (spec.md §6 pagination).
func (db *DB) ListTasksPage(ctx context.Context, status *TaskStatus, cursor *apitypes.TaskCursor, limit int) ([]*Task, error) {
	q := `SELECT id, title, description, status, parent_id, score, assignee_type, assignee_id,
		assigned_at, assigned_by, created_at, updated_at, completed_at, metadata
		FROM tasks WHERE 1=1`
	var args []interface{}
	if status != nil {
		q += ` AND status = ?`
		args = append(args, string(*status))
	}
	q += ` ORDER BY score DESC, id ASC`

	rows, err := db.q(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query task page", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan task page row", err)
		}
		if cursor != nil && !cursor.AfterTask(t.Score, t.ID) {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// AllTasksByID returns every live task ordered by id ascending, the stable
// order the sync exporter snapshots in (spec.md §4.B).
func (db *DB) AllTasksByID(ctx context.Context) ([]*Task, error) {
	const q = `SELECT id, title, description, status, parent_id, score, assignee_type, assignee_id,
		assigned_at, assigned_by, created_at, updated_at, completed_at, metadata
		FROM tasks ORDER BY id ASC`
	rows, err := db.q(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query all tasks by id", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan task for export", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AllDependenciesOrdered returns every dependency ordered by
// (blockerId, blockedId), the stable order the sync exporter snapshots in.
func (db *DB) AllDependenciesOrdered(ctx context.Context) ([]*Dependency, error) {
	const q = `SELECT blocker_id, blocked_id, created_at FROM dependencies ORDER BY blocker_id ASC, blocked_id ASC`
	rows, err := db.q(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query all dependencies", err)
	}
	defer rows.Close()

	var out []*Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.BlockerID, &d.BlockedID, &d.CreatedAt); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan dependency for export", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// UpsertTaskFromSync applies an imported task op directly, bypassing the
// status state machine: sync import restores exact remote state rather than
// transitioning through it (spec.md §4.B last-writer-wins import).
func (db *DB) UpsertTaskFromSync(ctx context.Context, t *Task) error {
	metaJSON, err := marshalMetadata(t.Metadata)
	if err != nil {
		return apitypes.Wrap(apitypes.TagValidation, "encode synced task metadata", err)
	}
	const q = `INSERT INTO tasks (id, title, description, status, parent_id, score, assignee_type,
		assignee_id, assigned_at, assigned_by, created_at, updated_at, completed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, description = excluded.description,
		status = excluded.status, parent_id = excluded.parent_id, score = excluded.score,
		assignee_type = excluded.assignee_type, assignee_id = excluded.assignee_id,
		assigned_at = excluded.assigned_at, assigned_by = excluded.assigned_by,
		updated_at = excluded.updated_at, completed_at = excluded.completed_at, metadata = excluded.metadata`
	_, err = db.q(ctx).ExecContext(ctx, q, t.ID, t.Title, t.Description, string(t.Status), t.ParentID, t.Score,
		t.AssigneeType, t.AssigneeID, t.AssignedAt, t.AssignedBy, t.CreatedAt, t.UpdatedAt, t.CompletedAt, metaJSON)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "upsert synced task", err)
	}
	return nil
}

// DeleteTask removes a task row outright (sync tombstone application).
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	_, err := db.q(ctx).ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "delete task", err)
	}
	return nil
}

// GetDependency fetches a single (blocker, blocked) edge, or NotFound.
func (db *DB) GetDependency(ctx context.Context, blockerID, blockedID string) (*Dependency, error) {
	var d Dependency
	err := db.q(ctx).QueryRowContext(ctx, `SELECT blocker_id, blocked_id, created_at FROM dependencies WHERE blocker_id = ? AND blocked_id = ?`,
		blockerID, blockedID).Scan(&d.BlockerID, &d.BlockedID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.NotFound("dependency", blockerID+"->"+blockedID)
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "get dependency", err)
	}
	return &d, nil
}

// UpsertDependencyFromSync applies an imported dependency op directly.
func (db *DB) UpsertDependencyFromSync(ctx context.Context, d *Dependency) error {
	const q = `INSERT INTO dependencies (blocker_id, blocked_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(blocker_id, blocked_id) DO NOTHING`
	_, err := db.q(ctx).ExecContext(ctx, q, d.BlockerID, d.BlockedID, d.CreatedAt)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "upsert synced dependency", err)
	}
	return nil
}

func marshalMetadata(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMetadata(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, apitypes.Wrap(apitypes.TagInternalError, "decode metadata json", err)
	}
	return m, nil
}
