package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// CreateDocInput carries the fields needed to register a new doc (spec.md
// §4.E doc graph). The doc's body lives on disk at FilePath as YAML; this
// row is the index entry tracking version, lock state, and lineage.
type CreateDocInput struct {
	Hash        string
	Kind        DocKind
	Name        string
	Title       string
	FilePath    string
	ParentDocID *int64
	Metadata    map[string]interface{}
}

// CreateDoc inserts a doc row at version 1, DocChanging status.
func (db *DB) CreateDoc(ctx context.Context, in CreateDocInput) (*Doc, error) {
	if in.Name == "" || in.FilePath == "" {
		return nil, apitypes.Validation("doc name and file_path must not be empty")
	}
	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagValidation, "encode doc metadata", err)
	}
	now := time.Now().UTC()

	const q = `INSERT INTO docs (hash, kind, name, title, version, status, file_path, parent_doc_id, created_at, metadata)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`
	res, err := db.q(ctx).ExecContext(ctx, q, in.Hash, string(in.Kind), in.Name, in.Title, string(DocChanging),
		in.FilePath, in.ParentDocID, now, metaJSON)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert doc", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "read doc id", err)
	}
	return db.GetDoc(ctx, id)
}

// GetDoc fetches a doc by id.
func (db *DB) GetDoc(ctx context.Context, id int64) (*Doc, error) {
	const q = `SELECT id, hash, kind, name, title, version, status, file_path, parent_doc_id,
		created_at, locked_at, metadata FROM docs WHERE id = ?`
	row := db.q(ctx).QueryRowContext(ctx, q, id)
	d, err := scanDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.NotFound("doc", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan doc", err)
	}
	return d, nil
}

// GetDocByName fetches the highest-version doc with the given name.
func (db *DB) GetDocByName(ctx context.Context, name string) (*Doc, error) {
	const q = `SELECT id, hash, kind, name, title, version, status, file_path, parent_doc_id,
		created_at, locked_at, metadata FROM docs WHERE name = ? ORDER BY version DESC LIMIT 1`
	row := db.q(ctx).QueryRowContext(ctx, q, name)
	d, err := scanDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.NotFound("doc", name)
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan doc by name", err)
	}
	return d, nil
}

func scanDoc(row rowScanner) (*Doc, error) {
	var d Doc
	var kind, status string
	var parentDocID sql.NullInt64
	var lockedAt sql.NullTime
	var metaJSON sql.NullString

	err := row.Scan(&d.ID, &d.Hash, &kind, &d.Name, &d.Title, &d.Version, &status, &d.FilePath,
		&parentDocID, &d.CreatedAt, &lockedAt, &metaJSON)
	if err != nil {
		return nil, err
	}
	d.Kind = DocKind(kind)
	d.Status = DocStatus(status)
	if parentDocID.Valid {
		d.ParentDocID = &parentDocID.Int64
	}
	if lockedAt.Valid {
		d.LockedAt = &lockedAt.Time
	}
	d.Metadata, err = unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDocTitleAndHash rewrites a doc's title and content hash in place,
// used after DocService.Update rewrites the backing YAML file (spec.md
// §4.F: update recomputes hash, the row never gains a new version for an
// in-place edit).
func (db *DB) UpdateDocTitleAndHash(ctx context.Context, id int64, title, hash string) error {
	_, err := db.q(ctx).ExecContext(ctx, `UPDATE docs SET title = ?, hash = ? WHERE id = ?`, title, hash, id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "update doc title and hash", err)
	}
	return nil
}

// AllDocNames returns the distinct names of every doc, for render("") to
// walk every doc family.
func (db *DB) AllDocNames(ctx context.Context) ([]string, error) {
	rows, err := db.q(ctx).QueryContext(ctx, `SELECT DISTINCT name FROM docs ORDER BY name`)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query all doc names", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan doc name", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// LockDoc transitions a doc to DocLocked status, preventing further edits
// without going through CreateDocVersion (spec.md §4.E: "locking a doc
// freezes its body; changes require a new version").
func (db *DB) LockDoc(ctx context.Context, id int64) (*Doc, error) {
	doc, err := db.GetDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == DocLocked {
		return doc, nil
	}
	now := time.Now().UTC()
	_, err = db.q(ctx).ExecContext(ctx, `UPDATE docs SET status = ?, locked_at = ? WHERE id = ?`, string(DocLocked), now, id)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "lock doc", err)
	}
	return db.GetDoc(ctx, id)
}

// CreateDocVersion inserts a new doc row carrying the same name forward at
// version+1, parented to the prior doc. The prior doc must be locked
// (spec.md §4.E version lineage).
func (db *DB) CreateDocVersion(ctx context.Context, priorID int64, hash, title, filePath string) (*Doc, error) {
	var result *Doc
	err := db.Tx(ctx, func(ctx context.Context) error {
		prior, err := db.GetDoc(ctx, priorID)
		if err != nil {
			return err
		}
		if prior.Status != DocLocked {
			return apitypes.Validation("cannot version a doc that is not locked")
		}
		now := time.Now().UTC()
		const q = `INSERT INTO docs (hash, kind, name, title, version, status, file_path, parent_doc_id, created_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '{}')`
		res, err := db.q(ctx).ExecContext(ctx, q, hash, string(prior.Kind), prior.Name, title, prior.Version+1,
			string(DocChanging), filePath, priorID, now)
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "insert doc version", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "read doc version id", err)
		}
		result, err = db.GetDoc(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LinkDocs records a typed link between two docs (spec.md §4.E: overview ->
// PRD -> design, plus design patches).
func (db *DB) LinkDocs(ctx context.Context, fromDocID, toDocID int64, linkType DocLinkType) (*DocLink, error) {
	now := time.Now().UTC()
	res, err := db.q(ctx).ExecContext(ctx,
		`INSERT INTO doc_links (from_doc_id, to_doc_id, link_type, created_at) VALUES (?, ?, ?, ?)`,
		fromDocID, toDocID, string(linkType), now)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert doc link", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "read doc link id", err)
	}
	return &DocLink{ID: id, FromDocID: fromDocID, ToDocID: toDocID, LinkType: linkType, CreatedAt: now}, nil
}

// DocLinksFrom returns every link originating at a doc.
func (db *DB) DocLinksFrom(ctx context.Context, fromDocID int64) ([]*DocLink, error) {
	rows, err := db.q(ctx).QueryContext(ctx,
		`SELECT id, from_doc_id, to_doc_id, link_type, created_at FROM doc_links WHERE from_doc_id = ?`, fromDocID)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query doc links from", err)
	}
	defer rows.Close()

	var out []*DocLink
	for rows.Next() {
		var l DocLink
		var linkType string
		if err := rows.Scan(&l.ID, &l.FromDocID, &l.ToDocID, &linkType, &l.CreatedAt); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan doc link", err)
		}
		l.LinkType = DocLinkType(linkType)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// LinkTaskToDoc records that a task implements or references a doc.
func (db *DB) LinkTaskToDoc(ctx context.Context, taskID string, docID int64, linkType TaskDocLinkType) (*TaskDocLink, error) {
	now := time.Now().UTC()
	res, err := db.q(ctx).ExecContext(ctx,
		`INSERT INTO task_doc_links (task_id, doc_id, link_type, created_at) VALUES (?, ?, ?, ?)`,
		taskID, docID, string(linkType), now)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert task doc link", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "read task doc link id", err)
	}
	return &TaskDocLink{ID: id, TaskID: taskID, DocID: docID, LinkType: linkType, CreatedAt: now}, nil
}

// DocsForTask returns every doc linked to a task.
func (db *DB) DocsForTask(ctx context.Context, taskID string) ([]*Doc, error) {
	const q = `SELECT d.id, d.hash, d.kind, d.name, d.title, d.version, d.status, d.file_path,
		d.parent_doc_id, d.created_at, d.locked_at, d.metadata
		FROM docs d JOIN task_doc_links l ON l.doc_id = d.id WHERE l.task_id = ?`
	rows, err := db.q(ctx).QueryContext(ctx, q, taskID)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query docs for task", err)
	}
	defer rows.Close()

	var out []*Doc
	for rows.Next() {
		d, err := scanDoc(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan doc for task", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TaskLinksForDoc returns every task-doc link pointing at docID, used by
// drift detection to find links whose task no longer exists (spec.md §4.F).
func (db *DB) TaskLinksForDoc(ctx context.Context, docID int64) ([]*TaskDocLink, error) {
	const q = `SELECT id, task_id, doc_id, link_type, created_at FROM task_doc_links WHERE doc_id = ?`
	rows, err := db.q(ctx).QueryContext(ctx, q, docID)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query task links for doc", err)
	}
	defer rows.Close()

	var out []*TaskDocLink
	for rows.Next() {
		var l TaskDocLink
		var linkType string
		if err := rows.Scan(&l.ID, &l.TaskID, &l.DocID, &linkType, &l.CreatedAt); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan task link for doc", err)
		}
		l.LinkType = TaskDocLinkType(linkType)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// CreateInvariantInput carries the fields needed to register an invariant
// declared by a design doc (spec.md §4.E invariant registry).
type CreateInvariantInput struct {
	ID          string
	Rule        string
	Enforcement EnforcementKind
	DocID       int64
	Subsystem   *string
	TestRef     *string
	LintRule    *string
	PromptRef   *string
}

// CreateInvariant inserts a new invariant in InvariantActive status.
func (db *DB) CreateInvariant(ctx context.Context, in CreateInvariantInput) (*Invariant, error) {
	if in.ID == "" || in.Rule == "" {
		return nil, apitypes.Validation("invariant id and rule must not be empty")
	}
	now := time.Now().UTC()
	const q = `INSERT INTO invariants (id, rule, enforcement, doc_id, subsystem, test_ref, lint_rule, prompt_ref, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.q(ctx).ExecContext(ctx, q, in.ID, in.Rule, string(in.Enforcement), in.DocID, in.Subsystem,
		in.TestRef, in.LintRule, in.PromptRef, string(InvariantActive), now)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert invariant", err)
	}
	return db.GetInvariant(ctx, in.ID)
}

// UpdateInvariantBody rewrites an existing invariant's declared fields in
// place and re-activates it if it had been deprecated, since a later doc
// version may re-declare an invariant it previously dropped (spec.md §4.F:
// invariant ids are stable across updates, never hard-deleted).
func (db *DB) UpdateInvariantBody(ctx context.Context, id, rule string, enforcement EnforcementKind, subsystem, testRef, lintRule, promptRef *string) error {
	const q = `UPDATE invariants SET rule = ?, enforcement = ?, subsystem = ?, test_ref = ?, lint_rule = ?, prompt_ref = ?, status = ?
		WHERE id = ?`
	_, err := db.q(ctx).ExecContext(ctx, q, rule, string(enforcement), subsystem, testRef, lintRule, promptRef, string(InvariantActive), id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "update invariant body", err)
	}
	return nil
}

// GetInvariant fetches an invariant by id.
func (db *DB) GetInvariant(ctx context.Context, id string) (*Invariant, error) {
	const q = `SELECT id, rule, enforcement, doc_id, subsystem, test_ref, lint_rule, prompt_ref, status, created_at
		FROM invariants WHERE id = ?`
	row := db.q(ctx).QueryRowContext(ctx, q, id)
	inv, err := scanInvariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.NotFound("invariant", id)
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan invariant", err)
	}
	return inv, nil
}

func scanInvariant(row rowScanner) (*Invariant, error) {
	var inv Invariant
	var enforcement, status string
	var subsystem, testRef, lintRule, promptRef sql.NullString

	err := row.Scan(&inv.ID, &inv.Rule, &enforcement, &inv.DocID, &subsystem, &testRef, &lintRule, &promptRef,
		&status, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	inv.Enforcement = EnforcementKind(enforcement)
	inv.Status = InvariantStatus(status)
	if subsystem.Valid {
		inv.Subsystem = &subsystem.String
	}
	if testRef.Valid {
		inv.TestRef = &testRef.String
	}
	if lintRule.Valid {
		inv.LintRule = &lintRule.String
	}
	if promptRef.Valid {
		inv.PromptRef = &promptRef.String
	}
	return &inv, nil
}

// InvariantsForDoc returns every active or deprecated invariant declared by
// a doc.
func (db *DB) InvariantsForDoc(ctx context.Context, docID int64) ([]*Invariant, error) {
	const q = `SELECT id, rule, enforcement, doc_id, subsystem, test_ref, lint_rule, prompt_ref, status, created_at
		FROM invariants WHERE doc_id = ?`
	rows, err := db.q(ctx).QueryContext(ctx, q, docID)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query invariants for doc", err)
	}
	defer rows.Close()

	var out []*Invariant
	for rows.Next() {
		inv, err := scanInvariant(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan invariant for doc", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// DeprecateInvariantsNotIn marks every active invariant of docID deprecated
// unless its id is in keep, used when a new doc version drops invariants
// the prior version declared (spec.md §4.E invariant sync).
func (db *DB) DeprecateInvariantsNotIn(ctx context.Context, docID int64, keep []string) error {
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	existing, err := db.InvariantsForDoc(ctx, docID)
	if err != nil {
		return err
	}
	for _, inv := range existing {
		if inv.Status != InvariantActive || keepSet[inv.ID] {
			continue
		}
		_, err := db.q(ctx).ExecContext(ctx, `UPDATE invariants SET status = ? WHERE id = ?`, string(InvariantDeprecated), inv.ID)
		if err != nil {
			return apitypes.Wrap(apitypes.TagDatabase, "deprecate invariant", err)
		}
	}
	return nil
}

// RecordInvariantCheck appends a check result to the invariant's history.
func (db *DB) RecordInvariantCheck(ctx context.Context, invariantID string, passed bool, details *string, durationMs *int64) (*InvariantCheck, error) {
	now := time.Now().UTC()
	res, err := db.q(ctx).ExecContext(ctx,
		`INSERT INTO invariant_checks (invariant_id, passed, details, checked_at, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		invariantID, boolToInt(passed), details, now, durationMs)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert invariant check", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "read invariant check id", err)
	}
	return &InvariantCheck{ID: id, InvariantID: invariantID, Passed: passed, Details: details, CheckedAt: now, DurationMs: durationMs}, nil
}

// LatestInvariantCheck returns the most recent check result for an
// invariant, or nil if it has never been checked.
func (db *DB) LatestInvariantCheck(ctx context.Context, invariantID string) (*InvariantCheck, error) {
	const q = `SELECT id, invariant_id, passed, details, checked_at, duration_ms
		FROM invariant_checks WHERE invariant_id = ? ORDER BY checked_at DESC, id DESC LIMIT 1`
	row := db.q(ctx).QueryRowContext(ctx, q, invariantID)
	var c InvariantCheck
	var passed int
	var details sql.NullString
	var durationMs sql.NullInt64
	err := row.Scan(&c.ID, &c.InvariantID, &passed, &details, &c.CheckedAt, &durationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan latest invariant check", err)
	}
	c.Passed = passed != 0
	if details.Valid {
		c.Details = &details.String
	}
	if durationMs.Valid {
		c.DurationMs = &durationMs.Int64
	}
	return &c, nil
}
