// internal/repo/repo.go
package repo

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"vv/internal/branch"
	"vv/internal/commit"
	"vv/internal/config"
	"vv/internal/content"
	"vv/internal/diff"
	vverrors "vv/internal/errors"
	"vv/internal/lock"
	"vv/internal/logging"
	"vv/internal/merge"
	"vv/internal/staging"
	"vv/internal/tracker"
	"vv/internal/workspace"
)

// DefaultBranch is the branch HEAD points at after Init.
const DefaultBranch = "main"

const (
	objectsDir = "objects"
	commitsDir = "commits"
	indexFile  = "index"
	lockFile   = "lock"
)

// Repository is a working directory plus its .vv metadata. Mutating
// operations hold the repository lock for their whole duration, so several
// processes can share one repository.
type Repository struct {
	Root   string
	Config *config.Config

	dir      string
	ws       *workspace.Workspace
	blobs    *content.FileStore
	commits  *commit.Graph
	branches *branch.Table
	merger   *merge.Engine
	differ   *diff.Engine
	lock     *lock.Lock
	logger   *zap.Logger

	saveIndex func(*staging.Set) error

	mu       sync.Mutex
	trackers []*tracker.Tracker
}

// Init creates an empty repository at path with the given configuration
// (nil means defaults) and opens it.
func Init(path string, cfg *config.Config, logger *zap.Logger) (*Repository, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(root, workspace.DirName)
	if _, err := os.Stat(dir); err == nil {
		return nil, vverrors.AlreadyExists("repository already exists at %s", root).WithPath(root)
	}

	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, vverrors.InvalidArgument("invalid configuration").Wrap(err)
	}

	for _, d := range []string{objectsDir, commitsDir, filepath.Join("refs", "heads")} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}
	if err := cfg.Save(filepath.Join(dir, config.FileName)); err != nil {
		return nil, err
	}
	if err := branch.NewTable(dir, nil, logger).Init(DefaultBranch); err != nil {
		return nil, err
	}

	logging.OrNop(logger).Info("initialized repository", zap.String("root", root))
	return Open(root, logger)
}

// Open finds the repository containing path and loads its configuration.
func Open(path string, logger *zap.Logger) (*Repository, error) {
	root, err := workspace.FindRoot(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(root, workspace.DirName)

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	if err != nil {
		return nil, vverrors.CorruptRecord("loading configuration").Wrap(err)
	}

	logger = logging.OrNop(logger).With(zap.String("repo", root))

	blobs, err := content.NewFileStore(filepath.Join(dir, objectsDir), content.Options{
		CacheSize: cfg.Storage.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	commits, err := commit.NewGraph(filepath.Join(dir, commitsDir), commit.Options{
		CacheSize:  cfg.Storage.CacheSize,
		BasePolicy: commit.BasePolicy(cfg.Merge.BasePolicy),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	branches := branch.NewTable(dir, commits, logger)

	algorithm, ok := diff.ByName(cfg.Diff.Algorithm)
	if !ok {
		return nil, vverrors.InvalidArgument("unknown diff algorithm %q", cfg.Diff.Algorithm)
	}

	return &Repository{
		Root:     root,
		Config:   cfg,
		dir:      dir,
		ws:       workspace.New(root, logger),
		blobs:    blobs,
		commits:  commits,
		branches: branches,
		merger: merge.NewEngine(commits, branches, blobs, merge.Options{
			Strategy:    merge.Strategy(cfg.Merge.Strategy),
			FastForward: cfg.Merge.FastForward,
			Logger:      logger,
		}),
		differ: diff.NewEngine(algorithm, cfg.Diff.ContextLines),
		lock:      lock.New(filepath.Join(dir, lockFile), cfg.Lock.Timeout.Duration, logger),
		logger:    logger,
		saveIndex: (*staging.Set).Save,
	}, nil
}

// Workspace returns the working directory helper.
func (r *Repository) Workspace() *workspace.Workspace { return r.ws }

// withLock runs fn while holding the repository lock.
func (r *Repository) withLock(fn func() error) (err error) {
	h, err := r.lock.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, h.Release())
	}()
	return fn()
}

func (r *Repository) loadIndex() (*staging.Set, error) {
	return staging.Load(filepath.Join(r.dir, indexFile))
}

// headTree returns the tree of the current branch's tip, empty when the
// branch is unborn.
func (r *Repository) headTree() (*branch.Branch, map[string]string, error) {
	cur, err := r.branches.Current()
	if err != nil {
		return nil, nil, err
	}
	if cur.IsUnborn() {
		return cur, map[string]string{}, nil
	}
	c, err := r.commits.Get(cur.Commit)
	if err != nil {
		return nil, nil, err
	}
	return cur, c.Tree, nil
}

// StageAdd stores the named files and records them in the index.
// Directories, including ".", are expanded with ignore rules.
func (r *Repository) StageAdd(paths ...string) error {
	if len(paths) == 0 {
		return vverrors.InvalidArgument("no paths given")
	}
	return r.withLock(func() error {
		files, err := r.ws.Expand(paths...)
		if err != nil {
			return err
		}
		idx, err := r.loadIndex()
		if err != nil {
			return err
		}

		for _, rel := range files {
			data, err := r.ws.ReadFile(rel)
			if err != nil {
				return err
			}
			digest, err := r.blobs.Store(data)
			if err != nil {
				return fmt.Errorf("storing %s: %w", rel, err)
			}
			if err := idx.Add(rel, digest); err != nil {
				return err
			}
		}
		if err := idx.Save(); err != nil {
			return err
		}

		r.logger.Debug("staged", zap.Strings("paths", files))
		return nil
	})
}

// StageRemove records deletions of tracked paths. A path that was only
// staged, never committed, is simply unstaged. The working file is left
// alone.
func (r *Repository) StageRemove(paths ...string) error {
	if len(paths) == 0 {
		return vverrors.InvalidArgument("no paths given")
	}
	return r.withLock(func() error {
		_, tree, err := r.headTree()
		if err != nil {
			return err
		}
		idx, err := r.loadIndex()
		if err != nil {
			return err
		}

		for _, p := range paths {
			rel, err := r.ws.Rel(p)
			if err != nil {
				return err
			}
			matched, err := removeMatching(idx, tree, rel)
			if err != nil {
				return err
			}
			if matched == 0 {
				return vverrors.NotFound("path %q is not tracked", p).WithPath(rel)
			}
		}
		return idx.Save()
	})
}

// removeMatching stages the removal of rel, or of every tracked and staged
// path below it when rel names a directory, and returns how many paths it
// touched. Paths that were only staged are unstaged.
func removeMatching(idx *staging.Set, tree map[string]string, rel string) (int, error) {
	remove := func(path string) error {
		if _, tracked := tree[path]; tracked {
			return idx.Remove(path)
		}
		idx.Unstage(path)
		return nil
	}

	_, tracked := tree[rel]
	_, staged := idx.Get(rel)
	if tracked || staged {
		return 1, remove(rel)
	}

	prefix := rel + "/"
	if rel == "." {
		prefix = ""
	}
	var paths []string
	for path := range tree {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	for _, e := range idx.Entries() {
		if _, ok := tree[e.Path]; !ok && strings.HasPrefix(e.Path, prefix) {
			paths = append(paths, e.Path)
		}
	}
	for _, path := range paths {
		if err := remove(path); err != nil {
			return 0, err
		}
	}
	return len(paths), nil
}

// Staged returns the pending changes sorted by path.
func (r *Repository) Staged() ([]staging.Entry, error) {
	idx, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Entries(), nil
}

// CommitOption customises a single commit.
type CommitOption func(*commitOptions)

type commitOptions struct {
	tags map[string]string
}

// WithTags attaches key/value annotations to the commit.
func WithTags(tags map[string]string) CommitOption {
	return func(o *commitOptions) {
		if o.tags == nil {
			o.tags = make(map[string]string, len(tags))
		}
		maps.Copy(o.tags, tags)
	}
}

// Commit records the staged changes on top of the current branch and
// clears the index. A zero author falls back to the configured user.
func (r *Repository) Commit(message string, author commit.Author, opts ...CommitOption) (*commit.Commit, error) {
	if author.Name == "" {
		author = r.configuredAuthor()
	}
	if author.Name == "" {
		return nil, vverrors.InvalidArgument("commit author is not set")
	}
	var o commitOptions
	for _, opt := range opts {
		opt(&o)
	}

	var created *commit.Commit
	err := r.withLock(func() error {
		idx, err := r.loadIndex()
		if err != nil {
			return err
		}
		if idx.IsEmpty() {
			return vverrors.EmptyStagingSet("nothing staged to commit")
		}

		cur, tree, err := r.headTree()
		if err != nil {
			return err
		}
		var parents []string
		if !cur.IsUnborn() {
			parents = []string{cur.Commit}
		}
		tree = idx.Apply(tree)
		now := time.Now().UTC()

		_, digest, err := commit.Encode(&commit.Commit{
			Message:   message,
			Author:    author,
			Timestamp: now,
			Parents:   parents,
			Tree:      tree,
			Tags:      o.tags,
		})
		if err != nil {
			return err
		}
		existed := r.commits.Has(digest)

		c, err := r.commits.CreateTagged(message, author, now, parents, tree, o.tags)
		if err != nil {
			return err
		}
		discard := func(err error) error {
			if !existed {
				err = multierr.Append(err, r.commits.Discard(c.Digest))
			}
			return err
		}

		// The index is emptied before the branch moves so that a landed
		// commit never leaves its changes staged.
		pending := idx.Entries()
		idx.Clear()
		if err := r.saveIndex(idx); err != nil {
			return discard(err)
		}
		if err := r.branches.Update(cur.Name, c.Digest); err != nil {
			err = discard(err)
			if rerr := restore(idx, pending); rerr != nil {
				return multierr.Append(err, rerr)
			}
			return multierr.Append(err, r.saveIndex(idx))
		}

		created = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func restore(idx *staging.Set, entries []staging.Entry) error {
	var err error
	for _, e := range entries {
		if e.Removed {
			err = multierr.Append(err, idx.Remove(e.Path))
		} else {
			err = multierr.Append(err, idx.Add(e.Path, e.Digest))
		}
	}
	return err
}

func (r *Repository) configuredAuthor() commit.Author {
	return commit.Author{Name: r.Config.User.Name, Email: r.Config.User.Email}
}

func (r *Repository) BranchCreate(name string) (*branch.Branch, error) {
	var b *branch.Branch
	err := r.withLock(func() error {
		var err error
		b, err = r.branches.Create(name)
		return err
	})
	return b, err
}

// BranchCheckout moves HEAD to name. The working directory is not touched;
// see Materialize.
func (r *Repository) BranchCheckout(name string) error {
	return r.withLock(func() error {
		return r.branches.Checkout(name)
	})
}

func (r *Repository) BranchDelete(name string) error {
	return r.withLock(func() error {
		return r.branches.Delete(name)
	})
}

func (r *Repository) BranchList() ([]*branch.Branch, error) {
	return r.branches.List()
}

// CurrentBranch returns the branch HEAD points at.
func (r *Repository) CurrentBranch() (*branch.Branch, error) {
	return r.branches.Current()
}

// Merge merges branch name into the current branch as the configured user.
// Repository defaults for strategy and fast-forward apply unless opts
// override them.
func (r *Repository) Merge(name string, opts ...merge.Option) (*merge.Result, error) {
	author := r.configuredAuthor()
	if author.Name == "" {
		return nil, vverrors.InvalidArgument("merge author is not set")
	}

	var result *merge.Result
	err := r.withLock(func() error {
		var err error
		result, err = r.merger.Merge(name, author, opts...)
		return err
	})
	return result, err
}

// Log returns up to limit commits of the current branch's first-parent
// history, newest first. A limit of zero or less means no limit.
func (r *Repository) Log(limit int) ([]*commit.Commit, error) {
	cur, err := r.branches.Current()
	if err != nil {
		return nil, err
	}
	if cur.IsUnborn() {
		return nil, nil
	}

	var out []*commit.Commit
	for c, err := range r.commits.Ancestors(cur.Commit) {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Resolve looks a commit up by full or abbreviated digest.
func (r *Repository) Resolve(prefix string) (*commit.Commit, error) {
	return r.commits.Resolve(prefix)
}

// Diff compares the staged version of path with the one in HEAD. A path
// with nothing staged yields an empty result.
func (r *Repository) Diff(path string) (*diff.Result, error) {
	rel, err := r.ws.Rel(path)
	if err != nil {
		return nil, err
	}
	_, tree, err := r.headTree()
	if err != nil {
		return nil, err
	}
	idx, err := r.loadIndex()
	if err != nil {
		return nil, err
	}

	headDigest, tracked := tree[rel]
	entry, staged := idx.Get(rel)
	if !tracked && !staged {
		return nil, vverrors.NotFound("path %q is neither tracked nor staged", path).WithPath(rel)
	}

	oldContent, err := r.blob(headDigest)
	if err != nil {
		return nil, err
	}
	newContent := oldContent
	if staged {
		if newContent, err = r.blob(entry.Digest); err != nil {
			return nil, err
		}
	}
	return r.differ.Diff(oldContent, newContent), nil
}

// blob returns the content for digest, or nothing for an empty digest.
func (r *Repository) blob(digest string) ([]byte, error) {
	if digest == "" {
		return nil, nil
	}
	return r.blobs.Get(digest)
}

// Materialize writes the current branch's tree into dir.
func (r *Repository) Materialize(dir string) error {
	_, tree, err := r.headTree()
	if err != nil {
		return err
	}
	return workspace.Materialize(dir, tree, r.blobs, r.logger)
}

// Watch starts auto-staging edits in the working directory. Run the
// returned tracker to process events; Close stops it.
func (r *Repository) Watch(debounce time.Duration) (*tracker.Tracker, error) {
	t, err := tracker.New(r.ws, r, tracker.Options{Debounce: debounce, Logger: r.logger})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.trackers = append(r.trackers, t)
	r.mu.Unlock()
	return t, nil
}

// Close stops any trackers and drops cached objects.
func (r *Repository) Close() error {
	r.mu.Lock()
	trackers := r.trackers
	r.trackers = nil
	r.mu.Unlock()

	var err error
	for _, t := range trackers {
		err = multierr.Append(err, t.Close())
	}
	r.blobs.Purge()
	r.commits.Purge()
	return err
}
