package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartAndFinishRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-run-task", "task")

	taskID := "tx-run-task"
	run, err := db.StartRun(ctx, "run-000000000001", StartRunInput{TaskID: &taskID, Agent: "claude"})
	require.NoError(t, err)
	require.Equal(t, RunRunning, run.Status)
	require.Nil(t, run.EndedAt)

	summary := "completed successfully"
	finished, err := db.FinishRun(ctx, run.ID, FinishRunInput{Status: RunCompleted, Summary: &summary})
	require.NoError(t, err)
	require.Equal(t, RunCompleted, finished.Status)
	require.NotNil(t, finished.EndedAt)
	require.Equal(t, summary, *finished.Summary)
}

func TestStartRunRejectsEmptyAgent(t *testing.T) {
	db := openTestDB(t)
	_, err := db.StartRun(context.Background(), "run-1", StartRunInput{Agent: ""})
	require.Error(t, err)
}

func TestRunsForTask(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustCreateTask(t, db, "tx-runs", "task")
	taskID := "tx-runs"

	_, err := db.StartRun(ctx, "run-1", StartRunInput{TaskID: &taskID, Agent: "a"})
	require.NoError(t, err)
	_, err = db.StartRun(ctx, "run-2", StartRunInput{TaskID: &taskID, Agent: "a"})
	require.NoError(t, err)

	runs, err := db.RunsForTask(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}
