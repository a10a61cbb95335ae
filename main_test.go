package main

import (
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id, err := parseID("loan ID", " 42 ")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseID("loan ID", bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "a very...", truncateString("a very long title", 9))
	assert.Equal(t, "Война и мир", truncateString("Война и мир", 11))
	assert.Equal(t, "Прест...", truncateString("Преступление и наказание", 8))
	assert.True(t, utf8.ValidString(truncateString("Преступление и наказание", 8)))
}

func TestListBooksOnEmptyDatabase(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "cli.db"), "list-books", "--available"})
	require.NoError(t, root.Execute())
}

func TestStaffCommandsNeedAccount(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "cli.db"), "issue", "1"})
	assert.ErrorContains(t, root.Execute(), "--as")
}

func TestServeNeedsSecret(t *testing.T) {
	t.Setenv("LIBRARY_JWT_SECRET", "")
	root := newRootCmd()
	root.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "cli.db"), "serve"})
	assert.ErrorContains(t, root.Execute(), "LIBRARY_JWT_SECRET")
}
