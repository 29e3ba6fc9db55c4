package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndGetLearning(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	l, err := db.CreateLearning(ctx, CreateLearningInput{
		Content:    "retries must use exponential backoff",
		SourceType: LearningSourceManual,
		Keywords:   []string{"retry", "backoff"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, l.UsageCount)

	fetched, err := db.GetLearning(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, l.Content, fetched.Content)
	require.Equal(t, []string{"retry", "backoff"}, fetched.Keywords)
}

func TestLearningEmbeddingRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	l, err := db.CreateLearning(ctx, CreateLearningInput{Content: "x", SourceType: LearningSourceManual})
	require.NoError(t, err)
	require.Nil(t, l.Embedding)

	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, db.SetLearningEmbedding(ctx, l.ID, vec))

	fetched, err := db.GetLearning(ctx, l.ID)
	require.NoError(t, err)
	require.InDeltaSlice(t, vec, fetched.Embedding, 1e-6)
}

func TestIncrementLearningUsage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	l, err := db.CreateLearning(ctx, CreateLearningInput{Content: "x", SourceType: LearningSourceManual})
	require.NoError(t, err)

	require.NoError(t, db.IncrementLearningUsage(ctx, l.ID))
	require.NoError(t, db.IncrementLearningUsage(ctx, l.ID))

	fetched, err := db.GetLearning(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, 2, fetched.UsageCount)
}

func TestSearchLearningsFTS(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.CreateLearning(ctx, CreateLearningInput{Content: "exponential backoff prevents thundering herd", SourceType: LearningSourceManual})
	require.NoError(t, err)
	_, err = db.CreateLearning(ctx, CreateLearningInput{Content: "unrelated note about docs", SourceType: LearningSourceManual})
	require.NoError(t, err)

	hits, err := db.SearchLearningsFTS(ctx, "backoff", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Contains(t, hits[0].Learning.Content, "backoff")
}

func TestLearningsWithoutEmbedding(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	l1, err := db.CreateLearning(ctx, CreateLearningInput{Content: "a", SourceType: LearningSourceManual})
	require.NoError(t, err)
	l2, err := db.CreateLearning(ctx, CreateLearningInput{Content: "b", SourceType: LearningSourceManual})
	require.NoError(t, err)
	require.NoError(t, db.SetLearningEmbedding(ctx, l1.ID, []float32{1}))

	ids, err := db.LearningsWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{l2.ID}, ids)
}

func TestFileLearningsForPattern(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.CreateFileLearning(ctx, "internal/store/*.go", "store files use querier interface", nil)
	require.NoError(t, err)

	hits, err := db.FileLearningsForPattern(ctx, "internal/store/tasks.go")
	require.NoError(t, err)
	require.Len(t, hits, 1)
}
