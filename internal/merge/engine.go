// internal/merge/engine.go
package merge

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"vv/internal/branch"
	"vv/internal/commit"
	"vv/internal/content"
	"vv/internal/diff"
	vverrors "vv/internal/errors"
	"vv/internal/logging"
)

// Commits is the part of the commit graph a merge needs.
type Commits interface {
	Get(digest string) (*commit.Commit, error)
	Has(digest string) bool
	MergeBase(a, b string) (*commit.Commit, error)
	IsAncestor(ancestor, descendant string) (bool, error)
	Create(message string, author commit.Author, timestamp time.Time, parents []string, tree map[string]string) (*commit.Commit, error)
	Discard(digest string) error
}

// Branches is the part of the branch table a merge needs.
type Branches interface {
	Current() (*branch.Branch, error)
	Get(name string) (*branch.Branch, error)
	Update(name, digest string) error
}

// Engine merges another branch into the current one.
type Engine struct {
	commits     Commits
	branches    Branches
	blobs       content.Store
	algorithm   diff.Algorithm
	strategy    Strategy
	fastForward bool
	logger      *zap.Logger
}

// Options holds repository-wide merge defaults. Per-call Options override
// them.
type Options struct {
	Strategy    Strategy
	FastForward bool
	Logger      *zap.Logger
}

func NewEngine(commits Commits, branches Branches, blobs content.Store, opts Options) *Engine {
	if opts.Strategy == "" {
		opts.Strategy = ThreeWay
	}
	return &Engine{
		commits:     commits,
		branches:    branches,
		blobs:       blobs,
		algorithm:   diff.MyersDiff{},
		strategy:    opts.Strategy,
		fastForward: opts.FastForward,
		logger:      logging.OrNop(opts.Logger),
	}
}

// Merge merges branch name into the current branch. Conflicts are not an
// error: they come back in a Result with status Conflicted and leave the
// repository untouched. Errors mean the merge was aborted.
func (e *Engine) Merge(name string, author commit.Author, opts ...Option) (*Result, error) {
	o := options{
		strategy:    e.strategy,
		fastForward: e.fastForward,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	switch o.strategy {
	case ThreeWay, Ours, Theirs:
	default:
		return nil, vverrors.InvalidArgument("unknown merge strategy %q", o.strategy)
	}

	cur, err := e.branches.Current()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	target, err := e.branches.Get(name)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	log := e.logger.With(zap.String("branch", cur.Name), zap.String("theirs", name))

	if name == cur.Name || target.IsUnborn() || target.Commit == cur.Commit {
		log.Info("merge: already up to date")
		return &Result{Status: Success, UpToDate: true}, nil
	}

	if cur.IsUnborn() {
		if o.fastForward {
			return e.fastForwardTo(cur.Name, target.Commit, log)
		}
		return nil, vverrors.NoCommonAncestor("current branch has no commits").WithBranch(cur.Name)
	}

	contained, err := e.commits.IsAncestor(target.Commit, cur.Commit)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if contained {
		log.Info("merge: already up to date")
		return &Result{Status: Success, UpToDate: true}, nil
	}

	base, err := e.commits.MergeBase(cur.Commit, target.Commit)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if base == nil {
		return nil, vverrors.NoCommonAncestor("branches %q and %q share no history", cur.Name, name).WithBranch(name)
	}
	if o.fastForward && base.Digest == cur.Commit {
		return e.fastForwardTo(cur.Name, target.Commit, log)
	}

	ours, err := e.commits.Get(cur.Commit)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	theirs, err := e.commits.Get(target.Commit)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	tree, pending, conflicts, err := e.mergeTrees(base.Tree, ours.Tree, theirs.Tree, &o)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		log.Info("merge: conflicts", zap.Int("conflicts", len(conflicts)), zap.String("base", base.Digest))
		return &Result{Status: Conflicted, Conflicts: conflicts}, nil
	}

	for path, data := range pending {
		digest, err := e.blobs.Store(data)
		if err != nil {
			return nil, fmt.Errorf("merge: store %s: %w", path, err)
		}
		tree[path] = digest
	}

	msg := o.message
	if msg == "" {
		msg = fmt.Sprintf("Merge branch '%s' into %s", name, cur.Name)
	}
	c, err := e.commit(cur.Name, msg, author, o.now(), []string{ours.Digest, theirs.Digest}, tree)
	if err != nil {
		return nil, err
	}

	log.Info("merge: committed", zap.String("commit", c.Digest), zap.String("base", base.Digest))
	return &Result{Status: Success, Commit: c}, nil
}

// commit creates the merge commit and moves the branch to it. A commit that
// did not exist before is discarded again if the branch cannot be moved.
func (e *Engine) commit(branchName, msg string, author commit.Author, ts time.Time, parents []string, tree map[string]string) (*commit.Commit, error) {
	_, digest, err := commit.Encode(&commit.Commit{
		Message:   msg,
		Author:    author,
		Timestamp: ts,
		Parents:   parents,
		Tree:      tree,
	})
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	existed := e.commits.Has(digest)

	c, err := e.commits.Create(msg, author, ts, parents, tree)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := e.branches.Update(branchName, c.Digest); err != nil {
		if !existed {
			if derr := e.commits.Discard(c.Digest); derr != nil {
				e.logger.Error("discard merge commit", zap.String("commit", c.Digest), zap.Error(derr))
			}
		}
		return nil, fmt.Errorf("merge: %w", err)
	}
	return c, nil
}

func (e *Engine) fastForwardTo(branchName, digest string, log *zap.Logger) (*Result, error) {
	c, err := e.commits.Get(digest)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if err := e.branches.Update(branchName, digest); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	log.Info("merge: fast-forward", zap.String("commit", digest))
	return &Result{Status: Success, Commit: c, FastForward: true}, nil
}
