package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// atomicWriteFile writes data to path via write-temp-then-rename so a
// crash or concurrent reader never observes a partial file (spec.md §4.B
// "tasks.jsonl.tmp -> rename -> tasks.jsonl"). The containing directory is
// fsync'd afterward where the platform permits.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := apitypes.Retry(context.Background(), apitypes.SingleRetry, func() error {
		return os.Rename(tmpPath, path)
	}); err != nil {
		return fmt.Errorf("rename temp file into place: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync()
		_ = dirFile.Close()
	}
	return nil
}
