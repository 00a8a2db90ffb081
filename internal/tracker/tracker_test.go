package tracker

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vverrors "vv/internal/errors"
	"vv/internal/workspace"
)

type recordingStager struct {
	mu      sync.Mutex
	added   []string
	removed []string
	fail    error
}

func (s *recordingStager) StageAdd(paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.added = append(s.added, paths...)
	return nil
}

func (s *recordingStager) StageRemove(paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.removed = append(s.removed, paths...)
	return nil
}

func (s *recordingStager) hasAdded(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.added, p)
}

func (s *recordingStager) hasRemoved(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.removed, p)
}

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, workspace.DirName), 0o755))
	return workspace.New(root, nil)
}

func TestTrackerStagesEdits(t *testing.T) {
	ws := newWorkspace(t)
	stager := &recordingStager{}

	tr, err := New(ws, stager, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "a.txt"), []byte("a\n"), 0o644))
	require.Eventually(t, func() bool { return stager.hasAdded("a.txt") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.MkdirAll(filepath.Join(ws.Root, "src"), 0o755))
	// give the watcher a moment to pick up the new directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "src", "main.go"), []byte("package main\n"), 0o644))
	require.Eventually(t, func() bool { return stager.hasAdded("src/main.go") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(ws.Root, "a.txt")))
	require.Eventually(t, func() bool { return stager.hasRemoved("a.txt") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, ".hidden"), []byte("x"), 0o644))

	cancel()
	require.NoError(t, <-done)
	assert.False(t, stager.hasAdded(".hidden"))
}

func TestFlushRequeuesOnFailure(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "a.txt"), []byte("a\n"), 0o644))

	stager := &recordingStager{fail: vverrors.RepositoryLocked("busy")}
	tr, err := New(ws, stager, Options{})
	require.NoError(t, err)
	defer tr.Close()

	tr.pending["a.txt"] = true
	err = tr.Flush()
	assert.True(t, vverrors.IsType(err, vverrors.ErrorTypeRepositoryLocked))
	assert.True(t, tr.pending["a.txt"])

	stager.fail = nil
	require.NoError(t, tr.Flush())
	assert.True(t, stager.hasAdded("a.txt"))
	assert.Empty(t, tr.pending)
}
