package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vv/internal/content"
	vverrors "vv/internal/errors"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, data := range files {
		abs := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(data), 0o644))
	}
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, DirName), 0o755))
	deep := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	got, err := FindRoot(deep)
	require.NoError(t, err)
	want, err := filepath.Abs(root)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = FindRoot(t.TempDir())
	assert.ErrorIs(t, err, vverrors.ErrNotFound)
}

func TestRel(t *testing.T) {
	root := t.TempDir()
	w := New(root, nil)

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.txt", "a.txt", false},
		{"./dir/../b.txt", "b.txt", false},
		{filepath.Join(root, "x", "y.go"), "x/y.go", false},
		{".", ".", false},
		{"../escape", "", true},
		{".vv/HEAD", "", true},
		{"", "", true},
		{"bad\xff.txt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := w.Rel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, vverrors.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldIgnore(t *testing.T) {
	w := New(t.TempDir(), nil)

	assert.True(t, w.ShouldIgnore(".vv/objects"))
	assert.True(t, w.ShouldIgnore(".git"))
	assert.True(t, w.ShouldIgnore("web/node_modules/x.js"))
	assert.True(t, w.ShouldIgnore("src/.hidden"))
	assert.False(t, w.ShouldIgnore("src/main.go"))
	assert.False(t, w.ShouldIgnore("."))
}

func TestExpand(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"README":              "hello",
		"src/main.go":         "package main",
		"src/.cache":          "x",
		"node_modules/dep.js": "x",
		".vv/HEAD":            "ref: refs/heads/main\n",
		".env":                "SECRET=1",
	})
	w := New(root, nil)

	t.Run("whole tree", func(t *testing.T) {
		got, err := w.Expand(".")
		require.NoError(t, err)
		assert.Equal(t, []string{"README", "src/main.go"}, got)
	})

	t.Run("explicit file bypasses ignore", func(t *testing.T) {
		got, err := w.Expand(".env", "src", "README")
		require.NoError(t, err)
		assert.Equal(t, []string{".env", "README", "src/main.go"}, got)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := w.Expand("nope.txt")
		assert.ErrorIs(t, err, vverrors.ErrNotFound)
	})

	t.Run("non UTF-8 file name", func(t *testing.T) {
		writeFiles(t, root, map[string]string{"raw/a\xff": "x"})
		_, err := w.Expand("raw")
		assert.ErrorIs(t, err, vverrors.ErrInvalidArgument)
	})
}

func TestMaterialize(t *testing.T) {
	store, err := content.NewFileStore(filepath.Join(t.TempDir(), "objects"), content.Options{})
	require.NoError(t, err)

	a, err := store.Store([]byte("alpha\n"))
	require.NoError(t, err)
	b, err := store.Store([]byte("beta\n"))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, Materialize(dir, map[string]string{"a.txt": a, "nested/b.txt": b}, store, nil))

	got, err := os.ReadFile(filepath.Join(dir, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta\n", string(got))

	err = Materialize(dir, map[string]string{"../evil": a}, store, nil)
	assert.ErrorIs(t, err, vverrors.ErrCorruptRecord)
}
