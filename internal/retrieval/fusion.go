// Package retrieval implements the hybrid search over the learnings corpus:
// BM25 full-text candidates fused with dense-vector cosine similarity,
// recency decay, and outcome/frequency boosts (spec.md §4.C).
package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/embedding"
	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// contextMinScore and contextLimit are the fixed floor spec.md §4.C sets
// for the context-for-task pipeline.
const (
	contextMinScore = 0.2
	contextLimit    = 10
)

// Result is one scored hit of a hybrid search, carrying the per-leg scores
// alongside the final fused score for observability/debugging.
type Result struct {
	Learning       *store.Learning
	Score          float64
	BM25           float64
	Vector         float64
	Recency        float64
	OutcomeBoost   float64
	FrequencyBoost float64
}

// Search runs the full BM25 + vector + recency + outcome + frequency fusion
// pipeline (spec.md §4.C) and returns results sorted by descending score,
// filtered to >= minScore, truncated to limit.
func Search(ctx context.Context, db *store.DB, engine embedding.Engine, query string, limit int, minScore float64) ([]Result, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	timer := logging.StartTimer(logging.CategoryRetrieval, "Search")
	defer timer.Stop()

	weights, err := LoadWeights(ctx, db)
	if err != nil {
		return nil, err
	}

	hits, err := db.SearchLearningsFTS(ctx, query, limit*3)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	normalizedBM25 := normalizeBM25(hits)

	queryVec, vecErr := engine.Embed(ctx, query)
	if vecErr != nil {
		queryVec = nil
	}

	now := time.Now().UTC()
	results := make([]Result, 0, len(hits))
	for i, hit := range hits {
		l := hit.Learning
		bm25 := normalizedBM25[i]
		vector := vectorScore(queryVec, l.Embedding)
		recency := recencyScore(now, l.CreatedAt)
		outcomeBoost := outcomeBoost(l.OutcomeScore)
		frequencyBoost := frequencyBoost(l.UsageCount)

		score := weights.BM25*bm25 + weights.Vector*vector + weights.Recency*recency + outcomeBoost + frequencyBoost
		results = append(results, Result{
			Learning: l, Score: score, BM25: bm25, Vector: vector,
			Recency: recency, OutcomeBoost: outcomeBoost, FrequencyBoost: frequencyBoost,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	filtered := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// ContextForTask builds a query from a task's title and description and
// runs the hybrid search with the fixed context floor, incrementing
// usageCount on every learning returned (spec.md §4.C).
func ContextForTask(ctx context.Context, db *store.DB, engine embedding.Engine, title, description string) ([]Result, error) {
	query := title
	if description != "" {
		query = title + " " + description
	}
	results, err := Search(ctx, db, engine, query, contextLimit, contextMinScore)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if err := db.IncrementLearningUsage(ctx, r.Learning.ID); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// normalizeBM25 maps SQLite's bm25() ranks (lower is better, unbounded
// negative) to [0,1] where higher is better, dividing by the magnitude of
// the best match in the candidate set (spec.md §4.C step 1).
func normalizeBM25(hits []store.LearningFTSHit) []float64 {
	magnitudes := make([]float64, len(hits))
	maxMag := 0.0
	for i, h := range hits {
		m := -h.BM25
		if m < 0 {
			m = 0
		}
		magnitudes[i] = m
		if m > maxMag {
			maxMag = m
		}
	}
	out := make([]float64, len(hits))
	if maxMag == 0 {
		return out
	}
	for i, m := range magnitudes {
		out[i] = m / maxMag
	}
	return out
}

func vectorScore(query, candidate []float32) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	return (embedding.CosineSimilarity(query, candidate) + 1) / 2
}

func recencyScore(now time.Time, createdAt time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	score := 1 - ageDays/30
	if score < 0 {
		return 0
	}
	return score
}

func outcomeBoost(outcomeScore *float64) float64 {
	if outcomeScore == nil {
		return 0
	}
	return 0.1 * (*outcomeScore)
}

func frequencyBoost(usageCount int) float64 {
	return 0.05 * math.Log(1+float64(usageCount))
}
