package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		c, err := Load(filepath.Join(t.TempDir(), FileName))
		require.NoError(t, err)
		assert.Equal(t, "myers", c.Diff.Algorithm)
		assert.Equal(t, 3*time.Second, c.Lock.Timeout.Duration)
		assert.Equal(t, "full", c.Merge.BasePolicy)
		assert.False(t, c.Merge.FastForward)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		data := `
[user]
name = "Ada"
email = "ada@example.com"

[lock]
timeout = "250ms"

[merge]
base_policy = "first-parent"
`
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "Ada", c.User.Name)
		assert.Equal(t, 250*time.Millisecond, c.Lock.Timeout.Duration)
		assert.Equal(t, "first-parent", c.Merge.BasePolicy)
		assert.Equal(t, 256, c.Storage.CacheSize)
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("VV_AUTHOR_NAME", "Grace")
		t.Setenv("VV_LOG_LEVEL", "debug")

		c, err := Load(filepath.Join(t.TempDir(), FileName))
		require.NoError(t, err)
		assert.Equal(t, "Grace", c.User.Name)
		assert.Equal(t, "debug", c.Log.Level)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		require.NoError(t, os.WriteFile(path, []byte("[diff]\nalgorithm = \"patience\"\n"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	c := Default()
	c.User.Name = "Ada"
	c.Merge.FastForward = true
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}
