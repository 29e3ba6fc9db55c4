package anchor

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// defaultCacheTTL is the fallback TTL when TX_ANCHOR_CACHE_TTL is unset or
// unparseable (spec.md §4.D).
const defaultCacheTTL = 3600 * time.Second

// Action is the outcome category a caller sees from a verification,
// distinct from the anchor's stored status: it describes the transition,
// not the destination (spec.md §4.D).
type Action string

const (
	ActionUnchanged   Action = "unchanged"
	ActionSelfHealed  Action = "self_healed"
	ActionDrifted     Action = "drifted"
	ActionInvalidated Action = "invalidated"
)

// DetectedBy enumerates how a verification was triggered.
type DetectedBy string

const (
	DetectedManual   DetectedBy = "manual"
	DetectedPeriodic DetectedBy = "periodic"
	DetectedGitHook  DetectedBy = "git_hook"
)

// Service wraps the store's anchor repository with verification, TTL
// caching, and the swarm batch verifier.
type Service struct {
	db      *store.DB
	baseDir string
	ttl     time.Duration
}

// NewService builds a Service verifying files relative to baseDir. ttl of 0
// falls back to TX_ANCHOR_CACHE_TTL, then defaultCacheTTL.
func NewService(db *store.DB, baseDir string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = cacheTTLFromEnv()
	}
	return &Service{db: db, baseDir: baseDir, ttl: ttl}
}

func cacheTTLFromEnv() time.Duration {
	v := os.Getenv("TX_ANCHOR_CACHE_TTL")
	if v == "" {
		return defaultCacheTTL
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return defaultCacheTTL
	}
	return time.Duration(seconds) * time.Second
}

// CachedAnchor is the result of getWithVerification (spec.md §4.D).
type CachedAnchor struct {
	Anchor           *store.Anchor
	IsFresh          bool
	WasVerified      bool
	VerificationResult *VerifyResult
}

// GetWithVerification returns the anchor as-is if its last verification is
// still within TTL; otherwise it re-verifies, persists the outcome, and
// returns the fresh result (spec.md §4.D TTL cache).
func (s *Service) GetWithVerification(ctx context.Context, id int64) (CachedAnchor, error) {
	a, err := s.db.GetAnchor(ctx, id)
	if err != nil {
		return CachedAnchor{}, err
	}

	if a.VerifiedAt != nil {
		age := time.Since(*a.VerifiedAt)
		if age < s.ttl {
			return CachedAnchor{Anchor: a, IsFresh: true, WasVerified: false}, nil
		}
	}

	result, err := s.Verify(ctx, id, DetectedPeriodic, "")
	if err != nil {
		return CachedAnchor{}, err
	}
	refreshed, err := s.db.GetAnchor(ctx, id)
	if err != nil {
		return CachedAnchor{}, err
	}
	return CachedAnchor{Anchor: refreshed, IsFresh: false, WasVerified: true, VerificationResult: &result}, nil
}

// Verify runs the type-appropriate verifier for anchor id, persists the new
// status and an invalidation log entry, and returns the raw VerifyResult.
// Called directly by explicit verify(id) requests, bypassing pinning.
func (s *Service) Verify(ctx context.Context, id int64, detectedBy DetectedBy, reasonOverride string) (VerifyResult, error) {
	a, err := s.db.GetAnchor(ctx, id)
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyAnchor(a, s.baseDir)
	reason := result.Reason
	if reasonOverride != "" {
		reason = reasonOverride
	}
	if err := s.db.UpdateAnchorStatus(ctx, id, result.NewStatus, string(detectedBy), reason); err != nil {
		return VerifyResult{}, err
	}
	logging.AnchorDebug("verify anchor %d: %s -> %s (%s)", id, a.Status, result.NewStatus, detectedBy)
	return result, nil
}

// ActionFor classifies a verification transition into the caller-facing
// Action (spec.md §4.D: self_healed is reported, not stored).
func ActionFor(oldStatus, newStatus store.AnchorStatus) Action {
	if oldStatus == newStatus {
		return ActionUnchanged
	}
	if newStatus == store.AnchorValid {
		return ActionSelfHealed
	}
	if newStatus == store.AnchorDrifted {
		return ActionDrifted
	}
	return ActionInvalidated
}
