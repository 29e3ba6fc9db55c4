package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// RecordEventInput carries the fields needed to append an observability
// event (span or metric) to the events table (spec.md §4.G).
type RecordEventInput struct {
	EventType  string
	Content    string
	DurationMs *int64
	RunID      *string
	Metadata   map[string]interface{}
}

// RecordEvent appends an event row.
func (db *DB) RecordEvent(ctx context.Context, in RecordEventInput) (*Event, error) {
	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagValidation, "encode event metadata", err)
	}
	now := time.Now().UTC()

	const q = `INSERT INTO events (event_type, content, duration_ms, run_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := db.q(ctx).ExecContext(ctx, q, in.EventType, in.Content, in.DurationMs, in.RunID, metaJSON, now)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "read event id", err)
	}
	return &Event{ID: id, EventType: in.EventType, Content: in.Content, DurationMs: in.DurationMs,
		RunID: in.RunID, Metadata: in.Metadata, CreatedAt: now}, nil
}

// EventsForRun returns every event recorded against a run, oldest first.
func (db *DB) EventsForRun(ctx context.Context, runID string) ([]*Event, error) {
	const q = `SELECT id, event_type, content, duration_ms, run_id, metadata, created_at
		FROM events WHERE run_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := db.q(ctx).QueryContext(ctx, q, runID)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query events for run", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var durationMs sql.NullInt64
		var runIDVal sql.NullString
		var metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &e.Content, &durationMs, &runIDVal, &metaJSON, &e.CreatedAt); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan event", err)
		}
		if durationMs.Valid {
			e.DurationMs = &durationMs.Int64
		}
		if runIDVal.Valid {
			e.RunID = &runIDVal.String
		}
		meta, err := unmarshalMetadata(metaJSON)
		if err != nil {
			return nil, err
		}
		e.Metadata = meta
		out = append(out, &e)
	}
	return out, rows.Err()
}
