package retrieval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx-sub011/internal/embedding"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSearchRanksByBM25WhenNoEmbeddings(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.CreateLearning(ctx, store.CreateLearningInput{
		Content: "the quick brown fox jumps over the lazy dog", SourceType: store.LearningSourceManual,
	})
	require.NoError(t, err)
	_, err = db.CreateLearning(ctx, store.CreateLearningInput{
		Content: "an unrelated sentence about databases", SourceType: store.LearningSourceManual,
	})
	require.NoError(t, err)

	results, err := Search(ctx, db, embedding.NoopEngine{}, "fox", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].Learning.Content, "fox")
	require.Equal(t, 0.0, results[0].Vector)
}

func TestSearchFiltersByMinScore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.CreateLearning(ctx, store.CreateLearningInput{
		Content: "match term here", SourceType: store.LearningSourceManual,
	})
	require.NoError(t, err)

	results, err := Search(ctx, db, embedding.NoopEngine{}, "match", 10, 1.1)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestOutcomeScoreIncreaseNeverDecreasesFinalScore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := db.CreateLearning(ctx, store.CreateLearningInput{
		Content: "invariant monotonicity check content", SourceType: store.LearningSourceManual,
	})
	require.NoError(t, err)

	before, err := Search(ctx, db, embedding.NoopEngine{}, "invariant monotonicity", 10, 0)
	require.NoError(t, err)
	require.Len(t, before, 1)

	require.NoError(t, db.SetLearningOutcome(ctx, l.ID, 0.9))

	after, err := Search(ctx, db, embedding.NoopEngine{}, "invariant monotonicity", 10, 0)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.GreaterOrEqual(t, after[0].Score, before[0].Score)
}

func TestRecencyScoreDecaysWithAge(t *testing.T) {
	now := time.Now().UTC()
	fresh := recencyScore(now, now)
	require.InDelta(t, 1.0, fresh, 0.01)

	old := recencyScore(now, now.Add(-60*24*time.Hour))
	require.Equal(t, 0.0, old)

	mid := recencyScore(now, now.Add(-15*24*time.Hour))
	require.InDelta(t, 0.5, mid, 0.01)
}

func TestContextForTaskIncrementsUsage(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l, err := db.CreateLearning(ctx, store.CreateLearningInput{
		Content: "retry logic for flaky network calls", SourceType: store.LearningSourceRun,
	})
	require.NoError(t, err)
	require.Equal(t, 0, l.UsageCount)

	results, err := ContextForTask(ctx, db, embedding.NoopEngine{}, "fix flaky network retries", "investigate retry logic")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	fetched, err := db.GetLearning(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, 1, fetched.UsageCount)
}

func TestEmbedAllSkipsWhenEngineUnavailable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.CreateLearning(ctx, store.CreateLearningInput{Content: "a", SourceType: store.LearningSourceManual})
	require.NoError(t, err)
	_, err = db.CreateLearning(ctx, store.CreateLearningInput{Content: "b", SourceType: store.LearningSourceManual})
	require.NoError(t, err)

	stats, err := EmbedAll(ctx, db, embedding.NoopEngine{}, false)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 2, stats.Skipped)
	require.Equal(t, 0, stats.Processed)

	withEmbedding, total, err := Coverage(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 0, withEmbedding)
	require.Equal(t, 2, total)
}

func TestLoadWeightsDefaultsWhenUnset(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	w, err := LoadWeights(ctx, db)
	require.NoError(t, err)
	require.Equal(t, DefaultWeights, w)
}

func TestSaveAndLoadWeightsRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	custom := Weights{BM25: 0.5, Vector: 0.25, Recency: 0.25}
	require.NoError(t, SaveWeights(ctx, db, custom))

	loaded, err := LoadWeights(ctx, db)
	require.NoError(t, err)
	require.InDelta(t, custom.BM25, loaded.BM25, 0.0001)
	require.InDelta(t, custom.Vector, loaded.Vector, 0.0001)
	require.InDelta(t, custom.Recency, loaded.Recency, 0.0001)
}
