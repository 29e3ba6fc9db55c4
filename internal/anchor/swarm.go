package anchor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// sequentialThreshold is the id-count below which the swarm runs anchors
// one by one instead of spawning a worker pool (spec.md §4.D).
const sequentialThreshold = 20

// SwarmOptions configures a batch verification run.
type SwarmOptions struct {
	BatchSize     int
	MaxConcurrent int
	ForceSwarm    bool
	DetectedBy    DetectedBy
}

// DefaultSwarmOptions matches spec.md §4.D's defaults.
func DefaultSwarmOptions() SwarmOptions {
	return SwarmOptions{BatchSize: 10, MaxConcurrent: 4, DetectedBy: DetectedPeriodic}
}

// AnchorOutcome is one anchor's verification result within a swarm run,
// including which concurrent agent processed it.
type AnchorOutcome struct {
	AnchorID int64
	Action   Action
	Result   VerifyResult
	AgentIdx int
	Err      error
}

// SwarmStats aggregates a swarm run's per-agent durations and per-action
// counts, plus any ids whose votes disagreed across agents.
type SwarmStats struct {
	Outcomes       []AnchorOutcome
	AgentDurations []time.Duration
	ActionCounts   map[Action]int
	NeedsReview    []int64
}

// VerifyIDs runs the batch verifier over ids, taking the sequential path
// below sequentialThreshold ids unless ForceSwarm is set (spec.md §4.D).
func (s *Service) VerifyIDs(ctx context.Context, ids []int64, opts SwarmOptions) (SwarmStats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.DetectedBy == "" {
		opts.DetectedBy = DetectedPeriodic
	}

	if len(ids) < sequentialThreshold && !opts.ForceSwarm {
		return s.verifySequential(ctx, ids, opts.DetectedBy)
	}
	return s.verifySwarm(ctx, ids, opts)
}

func (s *Service) verifySequential(ctx context.Context, ids []int64, detectedBy DetectedBy) (SwarmStats, error) {
	start := time.Now()
	stats := SwarmStats{ActionCounts: make(map[Action]int)}
	for _, id := range ids {
		before, err := s.db.GetAnchor(ctx, id)
		if err != nil {
			stats.Outcomes = append(stats.Outcomes, AnchorOutcome{AnchorID: id, Err: err})
			continue
		}
		result, err := s.Verify(ctx, id, detectedBy, "")
		if err != nil {
			stats.Outcomes = append(stats.Outcomes, AnchorOutcome{AnchorID: id, Err: err})
			continue
		}
		action := ActionFor(before.Status, result.NewStatus)
		stats.Outcomes = append(stats.Outcomes, AnchorOutcome{AnchorID: id, Action: action, Result: result})
		stats.ActionCounts[action]++
	}
	stats.AgentDurations = []time.Duration{time.Since(start)}
	return stats, nil
}

// verifySwarm partitions ids into fixed-size batches, enqueues them on a
// bounded channel, and spawns min(batchCount, maxConcurrent) workers each
// looping "poll a batch -> process it -> repeat until empty" (spec.md
// §4.D), grounded on the teacher's sparse.go semaphore-channel pattern and
// intelligence_gatherer.go's errgroup join.
func (s *Service) verifySwarm(ctx context.Context, ids []int64, opts SwarmOptions) (SwarmStats, error) {
	batches := partitionIntoBatches(ids, opts.BatchSize)
	queue := make(chan []int64, len(batches))
	for _, b := range batches {
		queue <- b
	}
	close(queue)

	workers := opts.MaxConcurrent
	if workers > len(batches) {
		workers = len(batches)
	}
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var outcomes []AnchorOutcome
	durations := make([]time.Duration, workers)

	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		agentIdx := w
		eg.Go(func() error {
			start := time.Now()
			for batch := range queue {
				select {
				case <-egCtx.Done():
					return egCtx.Err()
				default:
				}
				local := s.processBatch(egCtx, batch, opts.DetectedBy, agentIdx)
				mu.Lock()
				outcomes = append(outcomes, local...)
				mu.Unlock()
			}
			durations[agentIdx] = time.Since(start)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return SwarmStats{}, err
	}

	stats := SwarmStats{Outcomes: outcomes, AgentDurations: durations, ActionCounts: make(map[Action]int)}
	for _, o := range outcomes {
		if o.Err == nil {
			stats.ActionCounts[o.Action]++
		}
	}
	stats.NeedsReview = needsReviewIDs(outcomes)
	logging.Anchor("swarm verified %d anchors across %d agents", len(outcomes), workers)
	return stats, nil
}

func (s *Service) processBatch(ctx context.Context, ids []int64, detectedBy DetectedBy, agentIdx int) []AnchorOutcome {
	out := make([]AnchorOutcome, 0, len(ids))
	for _, id := range ids {
		before, err := s.db.GetAnchor(ctx, id)
		if err != nil {
			out = append(out, AnchorOutcome{AnchorID: id, AgentIdx: agentIdx, Err: err})
			continue
		}
		result, err := s.Verify(ctx, id, detectedBy, "")
		if err != nil {
			out = append(out, AnchorOutcome{AnchorID: id, AgentIdx: agentIdx, Err: err})
			continue
		}
		action := ActionFor(before.Status, result.NewStatus)
		out = append(out, AnchorOutcome{AnchorID: id, Action: action, Result: result, AgentIdx: agentIdx})
	}
	return out
}

func partitionIntoBatches(ids []int64, batchSize int) [][]int64 {
	var batches [][]int64
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[i:end])
	}
	return batches
}

// needsReviewIDs finds anchor ids verified by more than one agent whose
// resulting statuses disagreed without a strict majority (spec.md §4.D).
func needsReviewIDs(outcomes []AnchorOutcome) []int64 {
	votes := make(map[int64][]store.AnchorStatus)
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		votes[o.AnchorID] = append(votes[o.AnchorID], o.Result.NewStatus)
	}
	var review []int64
	for id, statuses := range votes {
		if len(statuses) < 2 {
			continue
		}
		if _, ok := CalculateMajorityVote(statuses); !ok {
			review = append(review, id)
		}
	}
	return review
}

// CalculateMajorityVote returns the status holding a strict majority among
// votes, or ok=false if none does (spec.md §4.D "canonical tie rule").
// Exported for external use per spec.md.
func CalculateMajorityVote(votes []store.AnchorStatus) (store.AnchorStatus, bool) {
	counts := make(map[store.AnchorStatus]int)
	for _, v := range votes {
		counts[v]++
	}
	for status, n := range counts {
		if n*2 > len(votes) {
			return status, true
		}
	}
	return "", false
}
