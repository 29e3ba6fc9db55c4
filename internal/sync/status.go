package sync

import (
	"context"
	"os"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/ids"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

const (
	configKeyLastExport = "sync.last_export"
	configKeyLastImport = "sync.last_import"
	configKeyLastHash   = "sync.last_hash"
)

// Status is the snapshot returned by GET /api/sync/status (spec.md §4.B).
type Status struct {
	DBTaskCount     int
	JSONLOpCount    int
	LastExport      *time.Time
	LastImport      *time.Time
	IsDirty         bool
	AutoSyncEnabled bool
}

// StatusReporter computes Status by combining DB counts with bookkeeping
// persisted in the config table by RecordExport/RecordImport.
type StatusReporter struct {
	db              *store.DB
	path            string
	AutoSyncEnabled bool
}

// NewStatusReporter builds a StatusReporter over db and the JSONL file at
// path.
func NewStatusReporter(db *store.DB, path string) *StatusReporter {
	return &StatusReporter{db: db, path: path}
}

// RecordExport stamps the config table with the export time and the
// resulting file's content hash; call this after a successful Export.
func (s *StatusReporter) RecordExport(ctx context.Context, at time.Time) error {
	if err := s.db.SetConfigValue(ctx, configKeyLastExport, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return s.recordHash(ctx)
}

// RecordImport stamps the config table with the import time; call this
// after a successful Import.
func (s *StatusReporter) RecordImport(ctx context.Context, at time.Time) error {
	if err := s.db.SetConfigValue(ctx, configKeyLastImport, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return s.recordHash(ctx)
}

func (s *StatusReporter) recordHash(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	return s.db.SetConfigValue(ctx, configKeyLastHash, ids.ContentHash(data))
}

// Status computes the current sync status.
func (s *StatusReporter) Status(ctx context.Context) (Status, error) {
	tasks, err := s.db.AllTasksByID(ctx)
	if err != nil {
		return Status{}, err
	}
	opCount, err := countLines(s.path)
	if err != nil {
		return Status{}, err
	}

	lastExport, err := s.readTimeConfig(ctx, configKeyLastExport)
	if err != nil {
		return Status{}, err
	}
	lastImport, err := s.readTimeConfig(ctx, configKeyLastImport)
	if err != nil {
		return Status{}, err
	}

	dirty, err := s.isDirty(ctx, lastImport)
	if err != nil {
		return Status{}, err
	}

	return Status{
		DBTaskCount:     len(tasks),
		JSONLOpCount:    opCount,
		LastExport:      lastExport,
		LastImport:      lastImport,
		IsDirty:         dirty,
		AutoSyncEnabled: s.AutoSyncEnabled,
	}, nil
}

func (s *StatusReporter) readTimeConfig(ctx context.Context, key string) (*time.Time, error) {
	v, ok, err := s.db.GetConfigValue(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagInternalError, "parse sync timestamp config", err)
	}
	return &t, nil
}

// isDirty reports whether the JSONL file's mtime is newer than lastImport,
// or its content hash differs from the last-known hash (spec.md §4.B).
func (s *StatusReporter) isDirty(ctx context.Context, lastImport *time.Time) (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return false, nil
	}
	if lastImport != nil && info.ModTime().After(*lastImport) {
		return true, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, nil
	}
	currentHash := ids.ContentHash(data)
	lastHash, ok, err := s.db.GetConfigValue(ctx, configKeyLastHash)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return currentHash != lastHash, nil
}

func countLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apitypes.Wrap(apitypes.TagIO, "read jsonl file for status", err)
	}
	count := 0
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				count++
			}
			start = i + 1
		}
	}
	if start < len(data) {
		count++
	}
	return count, nil
}
