package docgraph

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// StaleCheckThreshold is how old an invariant's last check may be before
// drift detection flags it (spec.md §4.F).
const StaleCheckThreshold = 7 * 24 * time.Hour

// DriftWarningKind classifies a single drift warning.
type DriftWarningKind string

const (
	DriftDanglingTaskLink DriftWarningKind = "dangling_task_link"
	DriftMissingTestRef   DriftWarningKind = "missing_test_ref"
	DriftStaleCheck       DriftWarningKind = "stale_check"
)

// DriftWarning is one structured finding from detectDrift.
type DriftWarning struct {
	Kind    DriftWarningKind
	Subject string
	Detail  string
}

// DetectDrift inspects the latest version of name and returns structured
// warnings: task links whose task no longer exists, invariants whose
// testRef doesn't match a file on disk, and invariants whose last check is
// older than StaleCheckThreshold (spec.md §4.F).
func (s *Service) DetectDrift(ctx context.Context, name string) ([]DriftWarning, error) {
	doc, err := s.db.GetDocByName(ctx, name)
	if err != nil {
		return nil, err
	}

	var warnings []DriftWarning

	links, err := s.db.TaskLinksForDoc(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if _, err := s.db.GetTask(ctx, link.TaskID); err != nil {
			if apitypes.TagOf(err) == apitypes.TagNotFound {
				warnings = append(warnings, DriftWarning{
					Kind: DriftDanglingTaskLink, Subject: link.TaskID,
					Detail: fmt.Sprintf("doc %s links task %s which no longer exists", name, link.TaskID),
				})
				continue
			}
			return nil, err
		}
	}

	invariants, err := s.db.InvariantsForDoc(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	for _, inv := range invariants {
		if inv.Status != store.InvariantActive {
			continue
		}
		if inv.TestRef != nil {
			if _, err := os.Stat(*inv.TestRef); err != nil {
				warnings = append(warnings, DriftWarning{
					Kind: DriftMissingTestRef, Subject: inv.ID,
					Detail: fmt.Sprintf("invariant %s declares test_ref %q which does not exist", inv.ID, *inv.TestRef),
				})
			}
		}

		check, err := s.db.LatestInvariantCheck(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		if check == nil || time.Since(check.CheckedAt) > StaleCheckThreshold {
			warnings = append(warnings, DriftWarning{
				Kind: DriftStaleCheck, Subject: inv.ID,
				Detail: fmt.Sprintf("invariant %s has not been checked within %s", inv.ID, StaleCheckThreshold),
			})
		}
	}

	return warnings, nil
}
