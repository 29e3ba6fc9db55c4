package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// StartRunInput carries the fields needed to record the beginning of a run.
type StartRunInput struct {
	TaskID          *string
	Agent           string
	PID             *int
	ContextInjected *bool
	Metadata        map[string]interface{}
}

// StartRun inserts a new run row in RunRunning status.
func (db *DB) StartRun(ctx context.Context, id string, in StartRunInput) (*Run, error) {
	if in.Agent == "" {
		return nil, apitypes.Validation("run agent must not be empty")
	}
	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagValidation, "encode run metadata", err)
	}
	now := time.Now().UTC()

	const q = `INSERT INTO runs (id, task_id, agent, pid, started_at, status, context_injected, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.q(ctx).ExecContext(ctx, q, id, in.TaskID, in.Agent, in.PID, now, string(RunRunning), in.ContextInjected, metaJSON)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert run", err)
	}
	return db.GetRun(ctx, id)
}

// GetRun fetches a run by id.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	const q = `SELECT id, task_id, agent, pid, started_at, ended_at, status, exit_code,
		transcript_path, stdout_path, stderr_path, context_injected, summary, error_message, metadata
		FROM runs WHERE id = ?`
	row := db.q(ctx).QueryRowContext(ctx, q, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.NotFound("run", id)
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan run", err)
	}
	return r, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var taskID sql.NullString
	var pid sql.NullInt64
	var endedAt sql.NullTime
	var status string
	var exitCode sql.NullInt64
	var transcriptPath, stdoutPath, stderrPath sql.NullString
	var contextInjected sql.NullBool
	var summary, errMsg sql.NullString
	var metaJSON sql.NullString

	err := row.Scan(&r.ID, &taskID, &r.Agent, &pid, &r.StartedAt, &endedAt, &status, &exitCode,
		&transcriptPath, &stdoutPath, &stderrPath, &contextInjected, &summary, &errMsg, &metaJSON)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	if taskID.Valid {
		r.TaskID = &taskID.String
	}
	if pid.Valid {
		v := int(pid.Int64)
		r.PID = &v
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	if transcriptPath.Valid {
		r.TranscriptPath = &transcriptPath.String
	}
	if stdoutPath.Valid {
		r.StdoutPath = &stdoutPath.String
	}
	if stderrPath.Valid {
		r.StderrPath = &stderrPath.String
	}
	if contextInjected.Valid {
		r.ContextInjected = &contextInjected.Bool
	}
	if summary.Valid {
		r.Summary = &summary.String
	}
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	r.Metadata, err = unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FinishRunInput carries the fields recorded when a run ends.
type FinishRunInput struct {
	Status       RunStatus
	ExitCode     *int
	Summary      *string
	ErrorMessage *string
}

// FinishRun transitions a run to a terminal status and stamps ended_at.
func (db *DB) FinishRun(ctx context.Context, id string, in FinishRunInput) (*Run, error) {
	now := time.Now().UTC()
	_, err := db.q(ctx).ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, exit_code = ?, summary = ?, error_message = ? WHERE id = ?`,
		string(in.Status), now, in.ExitCode, in.Summary, in.ErrorMessage, id)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "finish run", err)
	}
	return db.GetRun(ctx, id)
}

// SetRunPaths records the transcript/stdout/stderr file locations for a run.
func (db *DB) SetRunPaths(ctx context.Context, id string, transcriptPath, stdoutPath, stderrPath *string) error {
	_, err := db.q(ctx).ExecContext(ctx,
		`UPDATE runs SET transcript_path = ?, stdout_path = ?, stderr_path = ? WHERE id = ?`,
		transcriptPath, stdoutPath, stderrPath, id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "set run paths", err)
	}
	return nil
}

// RunsForTask returns every run recorded against a task, most recent first.
func (db *DB) RunsForTask(ctx context.Context, taskID string) ([]*Run, error) {
	const q = `SELECT id, task_id, agent, pid, started_at, ended_at, status, exit_code,
		transcript_path, stdout_path, stderr_path, context_injected, summary, error_message, metadata
		FROM runs WHERE task_id = ? ORDER BY started_at DESC, id ASC`
	rows, err := db.q(ctx).QueryContext(ctx, q, taskID)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query runs for task", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan run row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRunsPage returns up to limit runs ordered by started_at DESC, id ASC,
// starting strictly after cursor (spec.md §6 pagination).
func (db *DB) ListRunsPage(ctx context.Context, cursor *apitypes.RunCursor, limit int) ([]*Run, error) {
	const q = `SELECT id, task_id, agent, pid, started_at, ended_at, status, exit_code,
		transcript_path, stdout_path, stderr_path, context_injected, summary, error_message, metadata
		FROM runs ORDER BY started_at DESC, id ASC`
	rows, err := db.q(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query run page", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan run page row", err)
		}
		if cursor != nil {
			startedISO := r.StartedAt.UTC().Format(time.RFC3339Nano)
			if !(startedISO < cursor.StartedAtISO || (startedISO == cursor.StartedAtISO && r.ID > cursor.RunID)) {
				continue
			}
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}
