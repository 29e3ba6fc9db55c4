// Package sync implements the JSONL operation log that makes task/dependency
// state portable and git-diffable: Exporter snapshots live state, Importer
// merges a remote log in with last-writer-wins semantics, and Compactor
// rewrites the log to only its live tail (spec.md §4.B).
package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/ids"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// OpType enumerates the operation kinds the codec understands. Unknown op
// types are skipped with a counter increment rather than rejected outright
// (spec.md §6 "Unknown op types skipped with counter increment").
type OpType string

const (
	OpUpsertTask OpType = "upsert_task"
	OpDeleteTask OpType = "delete_task"
	OpUpsertDep  OpType = "upsert_dep"
	OpDeleteDep  OpType = "delete_dep"
)

// Op is one line of the JSONL operation log.
type Op struct {
	OpType OpType          `json:"op"`
	TS     time.Time       `json:"ts"`
	Data   json.RawMessage `json:"data"`
}

// TaskOpData is the wire shape of an upsert_task/delete_task op's data
// field.
type TaskOpData struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Status       string                 `json:"status,omitempty"`
	ParentID     *string                `json:"parentId,omitempty"`
	Score        int                    `json:"score,omitempty"`
	AssigneeType *string                `json:"assigneeType,omitempty"`
	AssigneeID   *string                `json:"assigneeId,omitempty"`
	AssignedAt   *time.Time             `json:"assignedAt,omitempty"`
	AssignedBy   *string                `json:"assignedBy,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// DepOpData is the wire shape of an upsert_dep/delete_dep op's data field.
type DepOpData struct {
	BlockerID string `json:"blockerId"`
	BlockedID string `json:"blockedId"`
}

func taskToOpData(t *store.Task) TaskOpData {
	var assigneeType *string
	if t.AssigneeType != nil {
		s := string(*t.AssigneeType)
		assigneeType = &s
	}
	return TaskOpData{
		ID: t.ID, Title: t.Title, Description: t.Description, Status: string(t.Status),
		ParentID: t.ParentID, Score: t.Score, AssigneeType: assigneeType, AssigneeID: t.AssigneeID,
		AssignedAt: t.AssignedAt, AssignedBy: t.AssignedBy, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
		CompletedAt: t.CompletedAt, Metadata: t.Metadata,
	}
}

func opDataToTask(d TaskOpData) *store.Task {
	var assigneeType *store.AssigneeType
	if d.AssigneeType != nil {
		at := store.AssigneeType(*d.AssigneeType)
		assigneeType = &at
	}
	return &store.Task{
		ID: d.ID, Title: d.Title, Description: d.Description, Status: store.TaskStatus(d.Status),
		ParentID: d.ParentID, Score: d.Score, AssigneeType: assigneeType, AssigneeID: d.AssigneeID,
		AssignedAt: d.AssignedAt, AssignedBy: d.AssignedBy, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
		CompletedAt: d.CompletedAt, Metadata: d.Metadata,
	}
}

func marshalOp(opType OpType, ts time.Time, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal op data: %w", err)
	}
	op := Op{OpType: opType, TS: ts, Data: raw}
	line, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal op: %w", err)
	}
	return line, nil
}

// lineHash returns the sha256 digest of a JSONL line's exact bytes, used by
// Importer to deduplicate identical lines within one import pass (spec.md
// §4.B).
func lineHash(line []byte) string {
	return ids.ContentHash(line)
}

// ExportStats summarizes what Export wrote.
type ExportStats struct {
	TaskCount int
	DepCount  int
}

// ImportStats summarizes the outcome of Import (spec.md §4.B).
type ImportStats struct {
	Imported  int
	Skipped   int
	Conflicts int
}

// CompactStats summarizes the outcome of Compact (spec.md §4.B).
type CompactStats struct {
	Before int
	After  int
}
