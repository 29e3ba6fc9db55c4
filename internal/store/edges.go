package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// CreateEdgeInput carries the fields needed to record a typed relation
// between two entities (spec.md §4.E doc/task/learning graph).
type CreateEdgeInput struct {
	EdgeType   string
	SourceType string
	SourceID   string
	TargetType string
	TargetID   string
	Weight     float64
	Metadata   map[string]interface{}
}

// CreateEdge inserts a new edge.
func (db *DB) CreateEdge(ctx context.Context, in CreateEdgeInput) (*Edge, error) {
	weight := in.Weight
	if weight == 0 {
		weight = 1.0
	}
	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagValidation, "encode edge metadata", err)
	}
	now := time.Now().UTC()

	const q = `INSERT INTO edges (edge_type, source_type, source_id, target_type, target_id, weight, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.q(ctx).ExecContext(ctx, q, in.EdgeType, in.SourceType, in.SourceID, in.TargetType, in.TargetID, weight, metaJSON, now)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert edge", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "read edge id", err)
	}
	return &Edge{
		ID: id, EdgeType: in.EdgeType, SourceType: in.SourceType, SourceID: in.SourceID,
		TargetType: in.TargetType, TargetID: in.TargetID, Weight: weight, Metadata: in.Metadata, CreatedAt: now,
	}, nil
}

// EdgesFrom returns active (non-invalidated) edges originating at the given
// (type, id) node.
func (db *DB) EdgesFrom(ctx context.Context, sourceType, sourceID string) ([]*Edge, error) {
	const q = `SELECT id, edge_type, source_type, source_id, target_type, target_id, weight, metadata, invalidated_at, created_at
		FROM edges WHERE source_type = ? AND source_id = ? AND invalidated_at IS NULL`
	rows, err := db.q(ctx).QueryContext(ctx, q, sourceType, sourceID)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query edges from", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// EdgesTo returns active edges terminating at the given (type, id) node.
func (db *DB) EdgesTo(ctx context.Context, targetType, targetID string) ([]*Edge, error) {
	const q = `SELECT id, edge_type, source_type, source_id, target_type, target_id, weight, metadata, invalidated_at, created_at
		FROM edges WHERE target_type = ? AND target_id = ? AND invalidated_at IS NULL`
	rows, err := db.q(ctx).QueryContext(ctx, q, targetType, targetID)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query edges to", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]*Edge, error) {
	var out []*Edge
	for rows.Next() {
		var e Edge
		var metaJSON sql.NullString
		var invalidatedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.EdgeType, &e.SourceType, &e.SourceID, &e.TargetType, &e.TargetID,
			&e.Weight, &metaJSON, &invalidatedAt, &e.CreatedAt); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan edge", err)
		}
		meta, err := unmarshalMetadata(metaJSON)
		if err != nil {
			return nil, err
		}
		e.Metadata = meta
		if invalidatedAt.Valid {
			e.InvalidatedAt = &invalidatedAt.Time
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// InvalidateEdge marks an edge as invalidated without deleting its history.
func (db *DB) InvalidateEdge(ctx context.Context, id int64) error {
	_, err := db.q(ctx).ExecContext(ctx, `UPDATE edges SET invalidated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "invalidate edge", err)
	}
	return nil
}
