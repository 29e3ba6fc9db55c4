package sync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// Importer merges a JSONL operation log into the local database with
// last-writer-wins semantics (spec.md §4.B).
type Importer struct {
	db   *store.DB
	path string
}

// NewImporter builds an Importer reading from path.
func NewImporter(db *store.DB, path string) *Importer {
	return &Importer{db: db, path: path}
}

// Import applies every line of the JSONL file, returning counts of what
// happened. A missing file is not an error — it imports zero ops.
func (im *Importer) Import(ctx context.Context) (ImportStats, error) {
	timer := logging.StartTimer(logging.CategorySync, "Importer.Import")
	defer timer.Stop()

	data, err := os.ReadFile(im.path)
	if errors.Is(err, os.ErrNotExist) {
		return ImportStats{}, nil
	}
	if err != nil {
		return ImportStats{}, apitypes.Wrap(apitypes.TagIO, "read jsonl file", err)
	}

	var stats ImportStats
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		h := lineHash(line)
		if seen[h] {
			continue
		}
		seen[h] = true

		outcome, err := im.applyLine(ctx, line)
		if err != nil {
			return ImportStats{}, err
		}
		switch outcome {
		case outcomeImported:
			stats.Imported++
		case outcomeConflict:
			stats.Conflicts++
		case outcomeSkipped:
			stats.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return ImportStats{}, apitypes.Wrap(apitypes.TagIO, "scan jsonl file", err)
	}

	logging.Sync("import: %d imported, %d skipped, %d conflicts", stats.Imported, stats.Skipped, stats.Conflicts)
	return stats, nil
}

type lineOutcome int

const (
	outcomeImported lineOutcome = iota
	outcomeSkipped
	outcomeConflict
)

func (im *Importer) applyLine(ctx context.Context, line []byte) (lineOutcome, error) {
	var op Op
	if err := json.Unmarshal(line, &op); err != nil {
		return outcomeSkipped, nil
	}
	if op.Data == nil {
		return outcomeSkipped, nil
	}

	switch op.OpType {
	case OpUpsertTask, OpDeleteTask:
		var data TaskOpData
		if err := json.Unmarshal(op.Data, &data); err != nil || data.ID == "" {
			return outcomeSkipped, nil
		}
		return im.applyTaskOp(ctx, op.OpType, op.TS, data)
	case OpUpsertDep, OpDeleteDep:
		var data DepOpData
		if err := json.Unmarshal(op.Data, &data); err != nil || data.BlockerID == "" || data.BlockedID == "" {
			return outcomeSkipped, nil
		}
		return im.applyDepOp(ctx, op.OpType, op.TS, data)
	default:
		return outcomeSkipped, nil
	}
}

func (im *Importer) applyTaskOp(ctx context.Context, opType OpType, ts time.Time, data TaskOpData) (lineOutcome, error) {
	local, err := im.db.GetTask(ctx, data.ID)
	notFound := apitypes.TagOf(err) == apitypes.TagNotFound
	if err != nil && !notFound {
		return outcomeSkipped, err
	}

	if opType == OpDeleteTask {
		if notFound {
			return outcomeSkipped, nil
		}
		if !ts.After(local.UpdatedAt) {
			return outcomeConflict, nil
		}
		if err := im.db.DeleteTask(ctx, data.ID); err != nil {
			return outcomeSkipped, err
		}
		return outcomeImported, nil
	}

	if !notFound && !ts.After(local.UpdatedAt) {
		return outcomeConflict, nil
	}
	if err := im.db.UpsertTaskFromSync(ctx, opDataToTask(data)); err != nil {
		return outcomeSkipped, err
	}
	return outcomeImported, nil
}

func (im *Importer) applyDepOp(ctx context.Context, opType OpType, ts time.Time, data DepOpData) (lineOutcome, error) {
	local, err := im.db.GetDependency(ctx, data.BlockerID, data.BlockedID)
	notFound := apitypes.TagOf(err) == apitypes.TagNotFound
	if err != nil && !notFound {
		return outcomeSkipped, err
	}

	if opType == OpDeleteDep {
		if notFound {
			return outcomeSkipped, nil
		}
		if !ts.After(local.CreatedAt) {
			return outcomeConflict, nil
		}
		if err := im.db.RemoveDependency(ctx, data.BlockerID, data.BlockedID); err != nil {
			return outcomeSkipped, err
		}
		return outcomeImported, nil
	}

	if !notFound && !ts.After(local.CreatedAt) {
		return outcomeConflict, nil
	}
	if err := im.db.UpsertDependencyFromSync(ctx, &store.Dependency{BlockerID: data.BlockerID, BlockedID: data.BlockedID, CreatedAt: ts}); err != nil {
		return outcomeSkipped, err
	}
	return outcomeImported, nil
}
