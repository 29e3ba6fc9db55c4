package anchor

import (
	"context"
	"path/filepath"

	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// VerifyAll runs the swarm over every anchor in the store, skipping pinned
// anchors when skipPinned is set.
func (s *Service) VerifyAll(ctx context.Context, opts SwarmOptions, skipPinned bool) (SwarmStats, error) {
	anchors, err := s.db.AllAnchors(ctx)
	if err != nil {
		return SwarmStats{}, err
	}
	return s.VerifyIDs(ctx, filterIDs(anchors, skipPinned), opts)
}

// VerifyGlob filters anchors whose filePath matches pattern and verifies
// them (spec.md §4.D).
func (s *Service) VerifyGlob(ctx context.Context, pattern string, opts SwarmOptions, skipPinned bool) (SwarmStats, error) {
	anchors, err := s.db.AllAnchors(ctx)
	if err != nil {
		return SwarmStats{}, err
	}
	var matched []int64
	for _, a := range anchors {
		if skipPinned && a.Pinned {
			continue
		}
		if ok, _ := filepath.Match(pattern, a.FilePath); ok {
			matched = append(matched, a.ID)
		}
	}
	return s.VerifyIDs(ctx, matched, opts)
}

// VerifyChangedFiles verifies the union of anchors whose filePath equals
// any of paths, defaulting detectedBy to git_hook (spec.md §4.D).
func (s *Service) VerifyChangedFiles(ctx context.Context, paths []string, opts SwarmOptions) (SwarmStats, error) {
	if opts.DetectedBy == "" {
		opts.DetectedBy = DetectedGitHook
	}
	seen := make(map[int64]bool)
	var ids []int64
	for _, p := range paths {
		anchors, err := s.db.AnchorsForFile(ctx, p)
		if err != nil {
			return SwarmStats{}, err
		}
		for _, a := range anchors {
			if !seen[a.ID] {
				seen[a.ID] = true
				ids = append(ids, a.ID)
			}
		}
	}
	return s.VerifyIDs(ctx, ids, opts)
}

func filterIDs(anchors []*store.Anchor, skipPinned bool) []int64 {
	var ids []int64
	for _, a := range anchors {
		if skipPinned && a.Pinned {
			continue
		}
		ids = append(ids, a.ID)
	}
	return ids
}
