package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// CreateAnchorInput carries the fields needed to bind an anchor to a
// learning.
type CreateAnchorInput struct {
	LearningID   int64
	AnchorType   AnchorType
	AnchorValue  string
	FilePath     string
	SymbolFqname *string
	LineStart    *int
	LineEnd      *int
	ContentHash  *string
	Pinned       bool
}

// CreateAnchor inserts a new anchor in AnchorValid status.
func (db *DB) CreateAnchor(ctx context.Context, in CreateAnchorInput) (*Anchor, error) {
	if in.FilePath == "" {
		return nil, apitypes.Validation("anchor file_path must not be empty")
	}
	now := time.Now().UTC()
	const q = `INSERT INTO anchors (learning_id, anchor_type, anchor_value, file_path, symbol_fqname,
		line_start, line_end, content_hash, status, pinned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.q(ctx).ExecContext(ctx, q, in.LearningID, string(in.AnchorType), in.AnchorValue,
		in.FilePath, in.SymbolFqname, in.LineStart, in.LineEnd, in.ContentHash,
		string(AnchorValid), boolToInt(in.Pinned), now)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert anchor", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "read anchor id", err)
	}
	return db.GetAnchor(ctx, id)
}

// GetAnchor fetches a single anchor by id.
func (db *DB) GetAnchor(ctx context.Context, id int64) (*Anchor, error) {
	const q = `SELECT id, learning_id, anchor_type, anchor_value, file_path, symbol_fqname,
		line_start, line_end, content_hash, status, pinned, verified_at, created_at
		FROM anchors WHERE id = ?`
	row := db.q(ctx).QueryRowContext(ctx, q, id)
	a, err := scanAnchor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.NotFound("anchor", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan anchor", err)
	}
	return a, nil
}

func scanAnchor(row rowScanner) (*Anchor, error) {
	var a Anchor
	var anchorType, status string
	var symbolFqname sql.NullString
	var lineStart, lineEnd sql.NullInt64
	var contentHash sql.NullString
	var pinned int
	var verifiedAt sql.NullTime

	err := row.Scan(&a.ID, &a.LearningID, &anchorType, &a.AnchorValue, &a.FilePath, &symbolFqname,
		&lineStart, &lineEnd, &contentHash, &status, &pinned, &verifiedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.AnchorType = AnchorType(anchorType)
	a.Status = AnchorStatus(status)
	a.Pinned = pinned != 0
	if symbolFqname.Valid {
		a.SymbolFqname = &symbolFqname.String
	}
	if lineStart.Valid {
		v := int(lineStart.Int64)
		a.LineStart = &v
	}
	if lineEnd.Valid {
		v := int(lineEnd.Int64)
		a.LineEnd = &v
	}
	if contentHash.Valid {
		a.ContentHash = &contentHash.String
	}
	if verifiedAt.Valid {
		a.VerifiedAt = &verifiedAt.Time
	}
	return &a, nil
}

// AnchorsForFile returns every anchor whose file_path equals path, used by
// the changed-file verification sweep (spec.md §4.D).
func (db *DB) AnchorsForFile(ctx context.Context, path string) ([]*Anchor, error) {
	const q = `SELECT id, learning_id, anchor_type, anchor_value, file_path, symbol_fqname,
		line_start, line_end, content_hash, status, pinned, verified_at, created_at
		FROM anchors WHERE file_path = ?`
	rows, err := db.q(ctx).QueryContext(ctx, q, path)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query anchors for file", err)
	}
	defer rows.Close()
	return scanAnchors(rows)
}

// AllAnchors returns every anchor, for full-repo sweeps.
func (db *DB) AllAnchors(ctx context.Context) ([]*Anchor, error) {
	const q = `SELECT id, learning_id, anchor_type, anchor_value, file_path, symbol_fqname,
		line_start, line_end, content_hash, status, pinned, verified_at, created_at FROM anchors`
	rows, err := db.q(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query all anchors", err)
	}
	defer rows.Close()
	return scanAnchors(rows)
}

func scanAnchors(rows *sql.Rows) ([]*Anchor, error) {
	var out []*Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan anchor row", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAnchorStatus sets an anchor's status and verified_at, and appends a
// row to anchor_invalidations recording the transition (spec.md §4.D: every
// verification outcome is logged, not just the ones that change status).
func (db *DB) UpdateAnchorStatus(ctx context.Context, id int64, newStatus AnchorStatus, detectedBy, reason string) error {
	return db.Tx(ctx, func(ctx context.Context) error {
		current, err := db.GetAnchor(ctx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = db.q(ctx).ExecContext(ctx, `UPDATE anchors SET status = ?, verified_at = ? WHERE id = ?`,
			string(newStatus), now, id)
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "update anchor status", err)
		}
		_, err = db.q(ctx).ExecContext(ctx,
			`INSERT INTO anchor_invalidations (anchor_id, old_status, new_status, detected_by, reason, detected_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(current.Status), string(newStatus), detectedBy, reason, now)
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "insert anchor invalidation", err)
		}
		return nil
	})
}

// SetAnchorPinned toggles whether an anchor is exempt from automatic
// invalidation (spec.md §4.D pinning).
func (db *DB) SetAnchorPinned(ctx context.Context, id int64, pinned bool) error {
	_, err := db.q(ctx).ExecContext(ctx, `UPDATE anchors SET pinned = ? WHERE id = ?`, boolToInt(pinned), id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "set anchor pinned", err)
	}
	return nil
}

// InvalidationHistory returns the anchor_invalidations rows for an anchor,
// most recent first.
func (db *DB) InvalidationHistory(ctx context.Context, anchorID int64) ([]InvalidationLogEntry, error) {
	const q = `SELECT id, anchor_id, old_status, new_status, detected_by, reason, detected_at
		FROM anchor_invalidations WHERE anchor_id = ? ORDER BY detected_at DESC, id DESC`
	rows, err := db.q(ctx).QueryContext(ctx, q, anchorID)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query invalidation history", err)
	}
	defer rows.Close()

	var out []InvalidationLogEntry
	for rows.Next() {
		var e InvalidationLogEntry
		var oldStatus, newStatus string
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.AnchorID, &oldStatus, &newStatus, &e.DetectedBy, &reason, &e.DetectedAt); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan invalidation entry", err)
		}
		e.OldStatus = AnchorStatus(oldStatus)
		e.NewStatus = AnchorStatus(newStatus)
		if reason.Valid {
			e.Reason = reason.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
