package sync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// Exporter snapshots live tasks and dependencies to a JSONL file.
type Exporter struct {
	db   *store.DB
	path string
}

// NewExporter builds an Exporter writing to path (typically .tx/tasks.jsonl).
func NewExporter(db *store.DB, path string) *Exporter {
	return &Exporter{db: db, path: path}
}

// Export takes a consistent snapshot of all live tasks and dependencies in
// a single transaction and writes one upsert op per entity, tasks ordered
// by id ascending, deps ordered by (blockerId, blockedId) (spec.md §4.B).
// Tombstones are never produced by export.
func (e *Exporter) Export(ctx context.Context) (ExportStats, error) {
	timer := logging.StartTimer(logging.CategorySync, "Exporter.Export")
	defer timer.Stop()

	var stats ExportStats
	var buf bytes.Buffer

	err := e.db.Tx(ctx, func(ctx context.Context) error {
		tasks, err := e.db.AllTasksByID(ctx)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			line, err := marshalOp(OpUpsertTask, t.UpdatedAt, taskToOpData(t))
			if err != nil {
				return err
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}
		stats.TaskCount = len(tasks)

		deps, err := e.db.AllDependenciesOrdered(ctx)
		if err != nil {
			return err
		}
		for _, d := range deps {
			line, err := marshalOp(OpUpsertDep, d.CreatedAt, DepOpData{BlockerID: d.BlockerID, BlockedID: d.BlockedID})
			if err != nil {
				return err
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}
		stats.DepCount = len(deps)
		return nil
	})
	if err != nil {
		return ExportStats{}, err
	}

	if err := atomicWriteFile(e.path, buf.Bytes(), 0o644); err != nil {
		return ExportStats{}, fmt.Errorf("write jsonl export: %w", err)
	}

	logging.Sync("export wrote %d tasks, %d deps to %s", stats.TaskCount, stats.DepCount, e.path)
	return stats, nil
}
