package sync

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/logging"
)

// Compactor rewrites a JSONL log to keep only the latest op per entity key,
// dropping ops whose final state is a tombstone (spec.md §4.B). Running it
// twice in a row is idempotent: compact(compact(X)) == compact(X).
type Compactor struct {
	path string
}

// NewCompactor builds a Compactor operating on path.
func NewCompactor(path string) *Compactor {
	return &Compactor{path: path}
}

type entityKey struct {
	kind string // "task" or "dep"
	id   string
}

// Compact reads every line, keeps the latest (by ts, ties broken by later
// line) non-delete op per entity, and atomically rewrites the file.
func (c *Compactor) Compact() (CompactStats, error) {
	timer := logging.StartTimer(logging.CategorySync, "Compactor.Compact")
	defer timer.Stop()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return CompactStats{}, nil
	}
	if err != nil {
		return CompactStats{}, apitypes.Wrap(apitypes.TagIO, "read jsonl file for compaction", err)
	}

	type entry struct {
		op   Op
		line []byte
	}
	latest := make(map[entityKey]entry)
	order := make([]entityKey, 0)
	before := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		before++

		var op Op
		if err := json.Unmarshal(line, &op); err != nil {
			continue
		}
		key, ok := keyOf(op)
		if !ok {
			continue
		}
		owned := append([]byte(nil), line...)
		if existing, found := latest[key]; !found || !op.TS.Before(existing.op.TS) {
			if _, found := latest[key]; !found {
				order = append(order, key)
			}
			latest[key] = entry{op: op, line: owned}
		}
	}
	if err := scanner.Err(); err != nil {
		return CompactStats{}, apitypes.Wrap(apitypes.TagIO, "scan jsonl file for compaction", err)
	}

	var buf bytes.Buffer
	after := 0
	for _, key := range order {
		e := latest[key]
		if e.op.OpType == OpDeleteTask || e.op.OpType == OpDeleteDep {
			continue
		}
		buf.Write(e.line)
		buf.WriteByte('\n')
		after++
	}

	if err := atomicWriteFile(c.path, buf.Bytes(), 0o644); err != nil {
		return CompactStats{}, apitypes.Wrap(apitypes.TagIO, "write compacted jsonl", err)
	}

	logging.Sync("compact: %d ops -> %d ops", before, after)
	return CompactStats{Before: before, After: after}, nil
}

func keyOf(op Op) (entityKey, bool) {
	switch op.OpType {
	case OpUpsertTask, OpDeleteTask:
		var d TaskOpData
		if err := json.Unmarshal(op.Data, &d); err != nil || d.ID == "" {
			return entityKey{}, false
		}
		return entityKey{kind: "task", id: d.ID}, true
	case OpUpsertDep, OpDeleteDep:
		var d DepOpData
		if err := json.Unmarshal(op.Data, &d); err != nil || d.BlockerID == "" || d.BlockedID == "" {
			return entityKey{}, false
		}
		return entityKey{kind: "dep", id: d.BlockerID + "->" + d.BlockedID}, true
	default:
		return entityKey{}, false
	}
}
