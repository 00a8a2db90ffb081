package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "ref")

	t.Run("creates parents and writes", func(t *testing.T) {
		require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "first", string(got))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	})

	t.Run("overwrites", func(t *testing.T) {
		require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))
	})

	t.Run("leaves no temp files", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, IsTemp(e.Name()), "leftover %s", e.Name())
		}
	})
}
