package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// CreateLearningInput carries the fields needed to record a new learning.
type CreateLearningInput struct {
	Content    string
	SourceType LearningSourceType
	SourceRef  *string
	Keywords   []string
	Category   *string
}

// CreateLearning inserts a learning row and returns it with its assigned id.
func (db *DB) CreateLearning(ctx context.Context, in CreateLearningInput) (*Learning, error) {
	if in.Content == "" {
		return nil, apitypes.Validation("learning content must not be empty")
	}
	kwJSON, err := json.Marshal(in.Keywords)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagValidation, "encode learning keywords", err)
	}
	now := time.Now().UTC()

	const q = `INSERT INTO learnings (content, source_type, source_ref, keywords, category, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`
	res, err := db.q(ctx).ExecContext(ctx, q, in.Content, string(in.SourceType), in.SourceRef, string(kwJSON), in.Category, now)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert learning", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "read learning id", err)
	}
	return db.GetLearning(ctx, id)
}

// GetLearning fetches a learning by id.
func (db *DB) GetLearning(ctx context.Context, id int64) (*Learning, error) {
	const q = `SELECT id, content, source_type, source_ref, keywords, category, embedding,
		usage_count, outcome_score, created_at FROM learnings WHERE id = ?`
	row := db.q(ctx).QueryRowContext(ctx, q, id)
	l, err := scanLearning(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apitypes.NotFound("learning", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "scan learning", err)
	}
	return l, nil
}

func scanLearning(row rowScanner) (*Learning, error) {
	var l Learning
	var sourceType string
	var sourceRef sql.NullString
	var kwJSON string
	var category sql.NullString
	var embBlob []byte
	var outcome sql.NullFloat64

	err := row.Scan(&l.ID, &l.Content, &sourceType, &sourceRef, &kwJSON, &category, &embBlob,
		&l.UsageCount, &outcome, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.SourceType = LearningSourceType(sourceType)
	if sourceRef.Valid {
		l.SourceRef = &sourceRef.String
	}
	if category.Valid {
		l.Category = &category.String
	}
	if outcome.Valid {
		l.OutcomeScore = &outcome.Float64
	}
	if err := json.Unmarshal([]byte(kwJSON), &l.Keywords); err != nil {
		return nil, err
	}
	l.Embedding = decodeEmbedding(embBlob)
	return &l, nil
}

// SetLearningEmbedding stores the dense embedding vector for a learning.
func (db *DB) SetLearningEmbedding(ctx context.Context, id int64, vec []float32) error {
	_, err := db.q(ctx).ExecContext(ctx, `UPDATE learnings SET embedding = ? WHERE id = ?`, encodeEmbedding(vec), id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "update learning embedding", err)
	}
	return nil
}

// IncrementLearningUsage bumps usage_count by one, called whenever a
// learning is surfaced as context (spec.md §4.C).
func (db *DB) IncrementLearningUsage(ctx context.Context, id int64) error {
	_, err := db.q(ctx).ExecContext(ctx, `UPDATE learnings SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "increment learning usage", err)
	}
	return nil
}

// SetLearningOutcome records the outcome score fed back after a run
// completes, used by the retrieval fusion's outcome signal.
func (db *DB) SetLearningOutcome(ctx context.Context, id int64, score float64) error {
	_, err := db.q(ctx).ExecContext(ctx, `UPDATE learnings SET outcome_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "set learning outcome", err)
	}
	return nil
}

// LearningsWithoutEmbedding returns ids of learnings whose embedding column
// is still NULL, feeding the embedding backfill loop.
func (db *DB) LearningsWithoutEmbedding(ctx context.Context, limit int) ([]int64, error) {
	rows, err := db.q(ctx).QueryContext(ctx, `SELECT id FROM learnings WHERE embedding IS NULL LIMIT ?`, limit)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query unembedded learnings", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan unembedded learning id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllLearningIDs returns every learning id regardless of embedding state,
// feeding a forced full-corpus embedding backfill.
func (db *DB) AllLearningIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.q(ctx).QueryContext(ctx, `SELECT id FROM learnings`)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query all learning ids", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan learning id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountLearnings returns the total number of learnings, used for embedding
// coverage reporting.
func (db *DB) CountLearnings(ctx context.Context) (int, error) {
	var n int
	if err := db.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM learnings`).Scan(&n); err != nil {
		return 0, apitypes.Wrap(apitypes.TagDatabase, "count learnings", err)
	}
	return n, nil
}

// CountEmbeddedLearnings returns the number of learnings with a stored
// embedding, used for embedding coverage reporting.
func (db *DB) CountEmbeddedLearnings(ctx context.Context) (int, error) {
	var n int
	if err := db.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM learnings WHERE embedding IS NOT NULL`).Scan(&n); err != nil {
		return 0, apitypes.Wrap(apitypes.TagDatabase, "count embedded learnings", err)
	}
	return n, nil
}

// LearningFTSHit is one row of an FTS5 BM25 search.
type LearningFTSHit struct {
	Learning *Learning
	BM25     float64
}

// SearchLearningsFTS runs a BM25-ranked full-text search over learning
// content via the learnings_fts virtual table (spec.md §4.C hybrid
// retrieval's keyword-search leg).
func (db *DB) SearchLearningsFTS(ctx context.Context, query string, limit int) ([]LearningFTSHit, error) {
	const q = `SELECT l.id, l.content, l.source_type, l.source_ref, l.keywords, l.category,
		l.embedding, l.usage_count, l.outcome_score, l.created_at, bm25(learnings_fts) AS rank
		FROM learnings_fts
		JOIN learnings l ON l.id = learnings_fts.rowid
		WHERE learnings_fts MATCH ?
		ORDER BY rank LIMIT ?`
	rows, err := db.q(ctx).QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "search learnings fts", err)
	}
	defer rows.Close()

	var out []LearningFTSHit
	for rows.Next() {
		var l Learning
		var sourceType string
		var sourceRef sql.NullString
		var kwJSON string
		var category sql.NullString
		var embBlob []byte
		var outcome sql.NullFloat64
		var bm25 float64

		if err := rows.Scan(&l.ID, &l.Content, &sourceType, &sourceRef, &kwJSON, &category,
			&embBlob, &l.UsageCount, &outcome, &l.CreatedAt, &bm25); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan fts hit", err)
		}
		l.SourceType = LearningSourceType(sourceType)
		if sourceRef.Valid {
			l.SourceRef = &sourceRef.String
		}
		if category.Valid {
			l.Category = &category.String
		}
		if outcome.Valid {
			l.OutcomeScore = &outcome.Float64
		}
		if err := json.Unmarshal([]byte(kwJSON), &l.Keywords); err != nil {
			return nil, apitypes.Wrap(apitypes.TagInternalError, "decode fts keywords", err)
		}
		l.Embedding = decodeEmbedding(embBlob)
		out = append(out, LearningFTSHit{Learning: &l, BM25: bm25})
	}
	return out, rows.Err()
}

// AllEmbeddedLearnings returns every learning that has a stored embedding,
// for brute-force cosine-similarity scans when sqlite-vec is unavailable.
func (db *DB) AllEmbeddedLearnings(ctx context.Context) ([]*Learning, error) {
	const q = `SELECT id, content, source_type, source_ref, keywords, category, embedding,
		usage_count, outcome_score, created_at FROM learnings WHERE embedding IS NOT NULL`
	rows, err := db.q(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query embedded learnings", err)
	}
	defer rows.Close()
	var out []*Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan embedded learning", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CreateFileLearning binds a note to a file pattern.
func (db *DB) CreateFileLearning(ctx context.Context, filePattern, note string, taskID *string) (*FileLearning, error) {
	now := time.Now().UTC()
	res, err := db.q(ctx).ExecContext(ctx,
		`INSERT INTO file_learnings (file_pattern, note, task_id, created_at) VALUES (?, ?, ?, ?)`,
		filePattern, note, taskID, now)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "insert file learning", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "read file learning id", err)
	}
	return &FileLearning{ID: id, FilePattern: filePattern, Note: note, TaskID: taskID, CreatedAt: now}, nil
}

// FileLearningsForPattern returns file learnings whose pattern matches path
// via SQL GLOB semantics.
func (db *DB) FileLearningsForPattern(ctx context.Context, path string) ([]*FileLearning, error) {
	rows, err := db.q(ctx).QueryContext(ctx,
		`SELECT id, file_pattern, note, task_id, created_at FROM file_learnings WHERE ? GLOB file_pattern`, path)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query file learnings", err)
	}
	defer rows.Close()
	var out []*FileLearning
	for rows.Next() {
		var fl FileLearning
		var taskID sql.NullString
		if err := rows.Scan(&fl.ID, &fl.FilePattern, &fl.Note, &taskID, &fl.CreatedAt); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan file learning", err)
		}
		if taskID.Valid {
			fl.TaskID = &taskID.String
		}
		out = append(out, &fl)
	}
	return out, rows.Err()
}

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
