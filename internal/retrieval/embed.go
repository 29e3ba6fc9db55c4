package retrieval

import (
	"context"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/embedding"
	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// EmbedStats summarizes an embedAll backfill pass (spec.md §4.C).
type EmbedStats struct {
	Processed int
	Skipped   int
	Failed    int
	Total     int
}

// EmbedNewLearning tries to embed a freshly created learning and persist
// the result. Failure is non-fatal: callers log and continue (spec.md
// §4.C "Embedding lifecycle").
func EmbedNewLearning(ctx context.Context, db *store.DB, engine embedding.Engine, l *store.Learning) {
	vec, err := engine.Embed(ctx, l.Content)
	if err != nil {
		logging.EmbeddingWarn("embed learning %d failed: %v", l.ID, err)
		return
	}
	if err := db.SetLearningEmbedding(ctx, l.ID, vec); err != nil {
		logging.EmbeddingError("persist embedding for learning %d failed: %v", l.ID, err)
	}
}

// EmbedAll backfills embeddings for learnings lacking one, or for every
// learning when forceAll is set (spec.md §4.C `embedAll(forceAll?)`).
func EmbedAll(ctx context.Context, db *store.DB, engine embedding.Engine, forceAll bool) (EmbedStats, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "EmbedAll")
	defer timer.Stop()

	var ids []int64
	var err error
	if forceAll {
		ids, err = db.AllLearningIDs(ctx)
	} else {
		ids, err = db.LearningsWithoutEmbedding(ctx, 1_000_000)
	}
	if err != nil {
		return EmbedStats{}, err
	}

	stats := EmbedStats{Total: len(ids)}
	for _, id := range ids {
		l, err := db.GetLearning(ctx, id)
		if err != nil {
			stats.Failed++
			continue
		}
		vec, err := engine.Embed(ctx, l.Content)
		if err != nil {
			if apitypes.TagOf(err) == apitypes.TagServiceUnavailable {
				stats.Skipped++
				continue
			}
			stats.Failed++
			continue
		}
		if err := db.SetLearningEmbedding(ctx, id, vec); err != nil {
			stats.Failed++
			continue
		}
		stats.Processed++
	}

	logging.Embedding("embedAll: %d processed, %d skipped, %d failed of %d", stats.Processed, stats.Skipped, stats.Failed, stats.Total)
	return stats, nil
}

// Coverage reports count-with-embedding / total over the learnings corpus
// (spec.md §4.C).
func Coverage(ctx context.Context, db *store.DB) (withEmbedding, total int, err error) {
	total, err = db.CountLearnings(ctx)
	if err != nil {
		return 0, 0, err
	}
	withEmbedding, err = db.CountEmbeddedLearnings(ctx)
	if err != nil {
		return 0, 0, err
	}
	return withEmbedding, total, nil
}
