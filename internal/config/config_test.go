package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), f.Config)
}

func TestSaveCreatesRecognizedSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	f, err := Load(path)
	require.NoError(t, err)
	f.Config.Docs.Path = "docs/custom"
	f.Config.Dashboard.DefaultTaskAssignmentType = "agent"
	require.NoError(t, f.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "docs/custom", reloaded.Config.Docs.Path)
	require.Equal(t, "agent", reloaded.Config.Dashboard.DefaultTaskAssignmentType)
}

func TestSavePreservesUnknownKeysAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	original := "# top comment\n[docs]\npath = \"docs\"\ncustom_key = \"keep-me\"\n\n[dashboard]\ndefault_task_assigment_type = \"human\"\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	f.Config.Docs.Path = "docs/v2"
	require.NoError(t, f.Save())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(out)
	require.Contains(t, content, "# top comment")
	require.Contains(t, content, "custom_key = \"keep-me\"")
	require.Contains(t, content, "path = \"docs/v2\"")
}

func TestInvalidDashboardAssigneeTypeFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[dashboard]\ndefault_task_assigment_type = \"bogus\"\n"), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "human", f.Config.Dashboard.DefaultTaskAssignmentType)
}
