package observability

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWithSpanRecordsSuccessEvent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)

	var ranInner bool
	err := svc.WithRunContext(ctx, "run-abc123", func(ctx context.Context) error {
		return svc.WithSpan(ctx, "do_thing", map[string]interface{}{"k": "v"}, func(ctx context.Context) error {
			ranInner = true
			return nil
		})
	})
	require.NoError(t, err)
	require.True(t, ranInner)

	events, err := db.EventsForRun(ctx, "run-abc123")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "span", events[0].EventType)
	require.Equal(t, "do_thing", events[0].Content)
	require.Equal(t, "ok", events[0].Metadata["status"])
	require.Equal(t, "v", events[0].Metadata["k"])
}

func TestWithSpanRecordsErrorStatusAndPropagatesError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)

	boom := errors.New("boom")
	err := svc.WithRunContext(ctx, "run-err1", func(ctx context.Context) error {
		return svc.WithSpan(ctx, "failing_thing", nil, func(ctx context.Context) error {
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	events, err := db.EventsForRun(ctx, "run-err1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "error", events[0].Metadata["status"])
	require.Equal(t, "boom", events[0].Metadata["error"])
}

func TestRecordMetricWritesMetricEvent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)

	err := svc.WithRunContext(ctx, "run-metric1", func(ctx context.Context) error {
		return svc.RecordMetric(ctx, "queue_depth", 42, map[string]interface{}{"shard": "a"})
	})
	require.NoError(t, err)

	events, err := db.EventsForRun(ctx, "run-metric1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "metric", events[0].EventType)
	require.Equal(t, "queue_depth", events[0].Content)
	require.NotNil(t, events[0].DurationMs)
	require.Equal(t, int64(42), *events[0].DurationMs)
}

func TestWithRunContextNestingOverridesThenRestores(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)

	err := svc.WithRunContext(ctx, "run-outer", func(ctx context.Context) error {
		require.Equal(t, "run-outer", runIDFrom(ctx))

		err := svc.WithRunContext(ctx, "run-inner", func(ctx context.Context) error {
			require.Equal(t, "run-inner", runIDFrom(ctx))
			return nil
		})
		require.NoError(t, err)

		require.Equal(t, "run-outer", runIDFrom(ctx))
		return nil
	})
	require.NoError(t, err)
}

func TestWithSpanSucceedsWhenNoRunBound(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db)

	require.NoError(t, svc.WithSpan(ctx, "unscoped_span", nil, func(ctx context.Context) error { return nil }))
}

func TestNoopRunsEffectWithoutRecording(t *testing.T) {
	ctx := context.Background()
	var n Noop

	var ran bool
	require.NoError(t, n.WithSpan(ctx, "x", nil, func(ctx context.Context) error { ran = true; return nil }))
	require.True(t, ran)
	require.NoError(t, n.RecordMetric(ctx, "x", 1, nil))
	require.NoError(t, n.WithRunContext(ctx, "r", func(ctx context.Context) error { return nil }))
}
