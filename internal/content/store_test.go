package content

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vverrors "vv/internal/errors"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "objects")
	s, err := NewFileStore(root, Options{CacheSize: 8})
	require.NoError(t, err)
	return s, root
}

func TestFileStore(t *testing.T) {
	t.Run("store is idempotent", func(t *testing.T) {
		s, root := newTestStore(t)

		d1, err := s.Store([]byte("hello\n"))
		require.NoError(t, err)
		d2, err := s.Store([]byte("hello\n"))
		require.NoError(t, err)

		assert.Equal(t, d1, d2)
		assert.Len(t, d1, DigestLen)
		assert.EqualValues(t, 1, s.Writes())
		assert.FileExists(t, filepath.Join(root, d1[:2], d1[2:]))
	})

	t.Run("known digest", func(t *testing.T) {
		s, _ := newTestStore(t)
		d, err := s.Store([]byte{})
		require.NoError(t, err)
		assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", d)
	})

	t.Run("get round trip survives cache purge", func(t *testing.T) {
		s, _ := newTestStore(t)
		d, err := s.Store([]byte("line1\nline2\n"))
		require.NoError(t, err)

		s.Purge()
		got, err := s.Get(d)
		require.NoError(t, err)
		assert.Equal(t, "line1\nline2\n", string(got))
	})

	t.Run("missing blob", func(t *testing.T) {
		s, _ := newTestStore(t)
		_, err := s.Get(Digest([]byte("nope")))
		assert.ErrorIs(t, err, vverrors.ErrNotFound)
		assert.False(t, s.Exists(Digest([]byte("nope"))))
	})

	t.Run("malformed digest", func(t *testing.T) {
		s, _ := newTestStore(t)
		_, err := s.Get("../../etc/passwd")
		assert.ErrorIs(t, err, vverrors.ErrInvalidArgument)
		assert.False(t, s.Exists("xyz"))
	})

	t.Run("corrupt blob detected", func(t *testing.T) {
		s, root := newTestStore(t)
		d, err := s.Store([]byte("original"))
		require.NoError(t, err)
		s.Purge()

		path := filepath.Join(root, d[:2], d[2:])
		require.NoError(t, os.Chmod(path, 0o644))
		require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

		_, err = s.Get(d)
		assert.ErrorIs(t, err, vverrors.ErrCorruptRecord)
	})

	t.Run("exists has no side effects", func(t *testing.T) {
		s, root := newTestStore(t)
		assert.False(t, s.Exists(Digest([]byte("absent"))))
		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
