package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustCreateTask(t *testing.T, db *DB, id, title string) *Task {
	t.Helper()
	ctx := context.Background()
	task, err := db.CreateTask(ctx, id, CreateTaskInput{Title: title, Score: 500})
	require.NoError(t, err)
	return task
}

func TestCreateAndGetTask(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	task := mustCreateTask(t, db, "tx-00000001", "first task")
	require.Equal(t, StatusBacklog, task.Status)
	require.Equal(t, 500, task.Score)

	fetched, err := db.GetTask(ctx, "tx-00000001")
	require.NoError(t, err)
	require.Equal(t, task.ID, fetched.ID)
}

func TestGetTaskNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetTask(context.Background(), "tx-missing")
	apiErr, ok := apitypes.AsError(err)
	require.True(t, ok)
	require.Equal(t, apitypes.TagNotFound, apiErr.Tag)
}

func TestCreateTaskRejectsEmptyTitle(t *testing.T) {
	db := openTestDB(t)
	_, err := db.CreateTask(context.Background(), "tx-1", CreateTaskInput{Title: ""})
	apiErr, ok := apitypes.AsError(err)
	require.True(t, ok)
	require.Equal(t, apitypes.TagValidation, apiErr.Tag)
}

func TestStatusTransitions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-a", "a")

	task, err := db.UpdateTaskStatus(ctx, "tx-a", StatusReady)
	require.NoError(t, err)
	require.Equal(t, StatusReady, task.Status)

	task, err = db.UpdateTaskStatus(ctx, "tx-a", StatusActive)
	require.NoError(t, err)
	require.Equal(t, StatusActive, task.Status)
	require.Nil(t, task.CompletedAt)

	task, err = db.UpdateTaskStatus(ctx, "tx-a", StatusDone)
	require.NoError(t, err)
	require.Equal(t, StatusDone, task.Status)
	require.NotNil(t, task.CompletedAt)
}

func TestInvalidStatusTransitionRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-b", "b")

	_, err := db.UpdateTaskStatus(ctx, "tx-b", StatusDone)
	apiErr, ok := apitypes.AsError(err)
	require.True(t, ok)
	require.Equal(t, apitypes.TagValidation, apiErr.Tag)
}

func TestTerminalStatusesRejectFurtherTransitions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-c", "c")

	_, err := db.UpdateTaskStatus(ctx, "tx-c", StatusActive)
	require.NoError(t, err)
	_, err = db.UpdateTaskStatus(ctx, "tx-c", StatusDone)
	require.NoError(t, err)

	_, err = db.UpdateTaskStatus(ctx, "tx-c", StatusReady)
	apiErr, ok := apitypes.AsError(err)
	require.True(t, ok)
	require.Equal(t, apitypes.TagValidation, apiErr.Tag)
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-1", "one")
	mustCreateTask(t, db, "tx-2", "two")
	mustCreateTask(t, db, "tx-3", "three")

	require.NoError(t, db.AddDependency(ctx, "tx-1", "tx-2"))
	require.NoError(t, db.AddDependency(ctx, "tx-2", "tx-3"))

	err := db.AddDependency(ctx, "tx-3", "tx-1")
	apiErr, ok := apitypes.AsError(err)
	require.True(t, ok)
	require.Equal(t, apitypes.TagValidation, apiErr.Tag)
}

func TestAddDependencyRejectsSelf(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-1", "one")

	err := db.AddDependency(ctx, "tx-1", "tx-1")
	apiErr, ok := apitypes.AsError(err)
	require.True(t, ok)
	require.Equal(t, apitypes.TagValidation, apiErr.Tag)
}

func TestReadyTasksExcludesBlockedByIncompleteDependency(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-blocker", "blocker")
	mustCreateTask(t, db, "tx-blocked", "blocked")
	require.NoError(t, db.AddDependency(ctx, "tx-blocker", "tx-blocked"))

	ready, err := db.ReadyTasks(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(ready))
	for _, r := range ready {
		ids = append(ids, r.ID)
	}
	require.Contains(t, ids, "tx-blocker")
	require.NotContains(t, ids, "tx-blocked")

	_, err = db.UpdateTaskStatus(ctx, "tx-blocker", StatusActive)
	require.NoError(t, err)
	_, err = db.UpdateTaskStatus(ctx, "tx-blocker", StatusDone)
	require.NoError(t, err)

	ready, err = db.ReadyTasks(ctx, 10)
	require.NoError(t, err)
	ids = ids[:0]
	for _, r := range ready {
		ids = append(ids, r.ID)
	}
	require.Contains(t, ids, "tx-blocked")
}

func TestReadyTasksIncludesPlanningTaskWithNoIncompleteBlockers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-planning", "planning task")

	_, err := db.UpdateTaskStatus(ctx, "tx-planning", StatusPlanning)
	require.NoError(t, err)

	ready, err := db.ReadyTasks(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(ready))
	for _, r := range ready {
		ids = append(ids, r.ID)
	}
	require.Contains(t, ids, "tx-planning")
}

func TestListTasksPageOrdersByScoreThenID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.CreateTask(ctx, "tx-low", CreateTaskInput{Title: "low", Score: 100})
	require.NoError(t, err)
	_, err = db.CreateTask(ctx, "tx-high", CreateTaskInput{Title: "high", Score: 900})
	require.NoError(t, err)

	page, err := db.ListTasksPage(ctx, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "tx-high", page[0].ID)
	require.Equal(t, "tx-low", page[1].ID)
}
