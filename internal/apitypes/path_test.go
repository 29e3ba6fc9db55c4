package apitypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveUnderRootAcceptsRelative(t *testing.T) {
	resolved, err := ResolveUnderRoot("/project", "docs/overview.yml")
	require.NoError(t, err)
	require.Equal(t, "/project/docs/overview.yml", resolved)
}

func TestResolveUnderRootRejectsTraversal(t *testing.T) {
	_, err := ResolveUnderRoot("/project", "../etc/passwd")
	require.Error(t, err)
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, TagValidation, e.Tag)
}

func TestResolveUnderRootRejectsEscapingAbsolute(t *testing.T) {
	_, err := ResolveUnderRoot("/project", "/etc/passwd")
	require.Error(t, err)
}

func TestResolveUnderRootAcceptsAbsoluteInsideRoot(t *testing.T) {
	resolved, err := ResolveUnderRoot("/project", "/project/sub/file.txt")
	require.NoError(t, err)
	require.Equal(t, "/project/sub/file.txt", resolved)
}

func TestResolveUnderRootRejectsNUL(t *testing.T) {
	_, err := ResolveUnderRoot("/project", "sub/\x00file")
	require.Error(t, err)
}
