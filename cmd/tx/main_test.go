package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

// withWorkspace points the CLI's global --workspace flag at a temp dir for
// the duration of one test and restores it afterward.
func withWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := workspace
	workspace = dir
	t.Cleanup(func() { workspace = prev })
	return dir
}

func TestResolveWorkspaceDefaultsToCwd(t *testing.T) {
	prev := workspace
	workspace = ""
	t.Cleanup(func() { workspace = prev })

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, cwd, resolveWorkspace())
}

func TestTxDirAndDBPathAreUnderWorkspace(t *testing.T) {
	dir := withWorkspace(t)
	require.Equal(t, filepath.Join(dir, ".tx"), txDir())
	require.Equal(t, filepath.Join(dir, ".tx", "tasks.db"), dbPath())
	require.Equal(t, filepath.Join(dir, ".tx", "tasks.jsonl"), jsonlPath())
}

func TestDBPathHonorsEnvOverride(t *testing.T) {
	withWorkspace(t)
	t.Setenv("TX_DB_PATH", "/tmp/custom-tasks.db")
	require.Equal(t, "/tmp/custom-tasks.db", dbPath())
}

func TestInitCreatesWorkspaceLayout(t *testing.T) {
	dir := withWorkspace(t)

	cmd := initCmd
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, runInit(cmd, nil))

	require.DirExists(t, filepath.Join(dir, ".tx"))
	require.FileExists(t, filepath.Join(dir, ".tx", "config.toml"))
	require.DirExists(t, filepath.Join(dir, ".tx", "docs"))
}

func TestTaskCreateReadyRoundTrip(t *testing.T) {
	withWorkspace(t)

	taskTitle, taskDescription, taskParentID, taskScore = "first task", "", "", 5
	var createOut bytes.Buffer
	taskCreateCmd.SetOut(&createOut)
	require.NoError(t, runTaskCreate(taskCreateCmd, nil))
	require.Contains(t, createOut.String(), "created")

	taskReadyLimit = 10
	var readyOut bytes.Buffer
	taskReadyCmd.SetOut(&readyOut)
	require.NoError(t, runTaskReady(taskReadyCmd, nil))
	require.Contains(t, readyOut.String(), "first task")
}

func TestDocCreateLockRoundTrip(t *testing.T) {
	withWorkspace(t)

	docKind, docTitle, docDescription = "design", "Design One", ""
	var createOut bytes.Buffer
	docCreateCmd.SetOut(&createOut)
	require.NoError(t, runDocCreate(docCreateCmd, []string{"design-one"}))
	require.Contains(t, createOut.String(), "created doc")

	db, err := openDB()
	require.NoError(t, err)
	defer db.Close()
	doc, err := db.GetDocByName(context.Background(), "design-one")
	require.NoError(t, err)

	var lockOut bytes.Buffer
	docLockCmd.SetOut(&lockOut)
	require.NoError(t, runDocLock(docLockCmd, []string{strconv.FormatInt(doc.ID, 10)}))
	require.Contains(t, lockOut.String(), "locked doc")
}
