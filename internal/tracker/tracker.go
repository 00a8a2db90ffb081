// internal/tracker/tracker.go
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	vverrors "vv/internal/errors"
	"vv/internal/logging"
	"vv/internal/workspace"
)

// Stager receives the paths the tracker decides to stage.
type Stager interface {
	StageAdd(paths ...string) error
	StageRemove(paths ...string) error
}

// Options configures a Tracker.
type Options struct {
	// Debounce is how long the tracker waits after the last event before
	// staging. Editors often write a file several times in a row.
	Debounce time.Duration
	Logger   *zap.Logger
}

// Tracker watches a working directory and stages edited files
// automatically.
type Tracker struct {
	ws       *workspace.Workspace
	stager   Stager
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]bool

	closeOnce sync.Once
	closeErr  error
}

func New(ws *workspace.Workspace, stager Stager, opts Options) (*Tracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}

	t := &Tracker{
		ws:       ws,
		stager:   stager,
		watcher:  watcher,
		debounce: opts.Debounce,
		logger:   logging.OrNop(opts.Logger),
		pending:  make(map[string]bool),
	}

	if err := t.watchTree(ws.Root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("initializing watches: %w", err)
	}
	return t, nil
}

// watchTree adds dir and every non-ignored directory below it.
func (t *Tracker) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := t.rel(path); ok && rel != "." && t.ws.ShouldIgnore(rel) {
			return filepath.SkipDir
		}
		if err := t.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (t *Tracker) rel(abs string) (string, bool) {
	r, err := filepath.Rel(t.ws.Root, abs)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(r), true
}

// Run processes events until ctx is done, then stages anything still
// pending and closes the watcher.
func (t *Tracker) Run(ctx context.Context) error {
	timer := time.NewTimer(t.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return multierr.Append(t.Flush(), t.Close())

		case event, ok := <-t.watcher.Events:
			if !ok {
				return nil
			}
			if t.handle(event) {
				timer.Reset(t.debounce)
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Error("watcher error", zap.Error(err))

		case <-timer.C:
			if err := t.Flush(); err != nil {
				t.logger.Warn("auto-stage failed", zap.Error(err))
				if vverrors.IsType(err, vverrors.ErrorTypeRepositoryLocked) {
					timer.Reset(t.debounce)
				}
			}
		}
	}
}

// handle records a relevant event and reports whether it was one.
func (t *Tracker) handle(event fsnotify.Event) bool {
	rel, ok := t.rel(event.Name)
	if !ok || rel == "." || t.ws.ShouldIgnore(rel) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := t.watchTree(event.Name); err != nil {
				t.logger.Error("watching new directory", zap.String("path", rel), zap.Error(err))
			}
			return false
		}
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	t.mu.Lock()
	t.pending[rel] = true
	t.mu.Unlock()
	return true
}

// Flush stages every pending path: files that exist are added and missing
// ones are removed. Paths that fail stay pending.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	paths := make([]string, 0, len(t.pending))
	for p := range t.pending {
		paths = append(paths, p)
	}
	t.pending = make(map[string]bool)
	t.mu.Unlock()

	if len(paths) == 0 {
		return nil
	}
	sort.Strings(paths)

	var added, removed []string
	for _, p := range paths {
		info, err := os.Stat(t.ws.Abs(p))
		switch {
		case err == nil && info.Mode().IsRegular():
			added = append(added, p)
		case errors.Is(err, fs.ErrNotExist):
			removed = append(removed, p)
		}
	}

	var err error
	if len(added) > 0 {
		if aerr := t.stager.StageAdd(added...); aerr != nil {
			t.requeue(added)
			err = multierr.Append(err, aerr)
		}
	}
	for _, p := range removed {
		// Untracked files that vanish have nothing to stage.
		if rerr := t.stager.StageRemove(p); rerr != nil && !vverrors.IsType(rerr, vverrors.ErrorTypeNotFound) {
			t.requeue([]string{p})
			err = multierr.Append(err, rerr)
		}
	}

	t.logger.Debug("auto-staged",
		zap.Strings("added", added),
		zap.Strings("removed", removed),
		zap.Error(err))
	return err
}

func (t *Tracker) requeue(paths []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range paths {
		t.pending[p] = true
	}
}

// Close stops watching without flushing. It is safe to call more than
// once.
func (t *Tracker) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.watcher.Close()
	})
	return t.closeErr
}
