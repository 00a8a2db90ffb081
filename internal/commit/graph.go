package commit

import (
	"fmt"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"vv/internal/content"
	vverrors "vv/internal/errors"
	"vv/internal/fsutil"
	"vv/internal/logging"
)

// BasePolicy selects how MergeBase walks history.
type BasePolicy string

const (
	// PolicyFull walks every parent on both sides.
	PolicyFull BasePolicy = "full"
	// PolicyFirstParent follows only first parents. After an earlier merge
	// this can miss the true nearest common ancestor.
	PolicyFirstParent BasePolicy = "first-parent"
)

// MinPrefixLen is the shortest abbreviated digest Resolve accepts.
const MinPrefixLen = 4

// Graph is the append-only commit DAG stored as one record per file under
// dir, named by digest.
type Graph struct {
	dir    string
	cache  *lru.Cache[string, *Commit]
	policy BasePolicy
	logger *zap.Logger
}

// Options configures a Graph.
type Options struct {
	CacheSize  int
	BasePolicy BasePolicy
	Logger     *zap.Logger
}

func NewGraph(dir string, opts Options) (*Graph, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating commit directory: %w", err)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	cache, err := lru.New[string, *Commit](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	switch opts.BasePolicy {
	case "":
		opts.BasePolicy = PolicyFull
	case PolicyFull, PolicyFirstParent:
	default:
		return nil, vverrors.InvalidArgument("unknown merge base policy %q", opts.BasePolicy)
	}

	return &Graph{
		dir:    dir,
		cache:  cache,
		policy: opts.BasePolicy,
		logger: logging.OrNop(opts.Logger),
	}, nil
}

func (g *Graph) path(digest string) string {
	return filepath.Join(g.dir, digest)
}

// Create records a new commit. Every parent must already exist; a commit
// with no parents is a root. Creating a commit that already exists returns
// the existing one without writing.
func (g *Graph) Create(message string, author Author, timestamp time.Time, parents []string, tree map[string]string) (*Commit, error) {
	return g.CreateTagged(message, author, timestamp, parents, tree, nil)
}

// CreateTagged is Create for a commit carrying tags.
func (g *Graph) CreateTagged(message string, author Author, timestamp time.Time, parents []string, tree, tags map[string]string) (*Commit, error) {
	for _, p := range parents {
		if !g.Has(p) {
			return nil, vverrors.InvalidParent("parent commit does not exist").WithDigest(p)
		}
	}
	for path, digest := range tree {
		if path == "" {
			return nil, vverrors.InvalidArgument("tree contains an empty path")
		}
		if !content.ValidDigest(digest) {
			return nil, vverrors.InvalidArgument("tree entry has malformed digest %q", digest).WithPath(path)
		}
	}

	c := &Commit{
		Message:   message,
		Author:    author,
		Timestamp: timestamp.UTC(),
		Parents:   append([]string{}, parents...),
		Tree:      maps.Clone(tree),
		Tags:      maps.Clone(tags),
	}
	if len(c.Tags) == 0 {
		c.Tags = nil
	}
	if c.Tree == nil {
		c.Tree = map[string]string{}
	}
	data, digest, err := Encode(c)
	if err != nil {
		return nil, err
	}
	c.Digest = digest

	if g.Has(digest) {
		g.logger.Debug("commit already recorded", zap.String("digest", digest))
		return g.Get(digest)
	}

	if err := fsutil.WriteFileAtomic(g.path(digest), data, 0o444); err != nil {
		return nil, fmt.Errorf("writing commit %s: %w", digest, err)
	}
	g.cache.Add(digest, c)

	g.logger.Info("commit created",
		zap.String("digest", digest),
		zap.Strings("parents", c.Parents),
		zap.Int("paths", len(c.Tree)))
	return c, nil
}

// Get loads the commit with the full digest.
func (g *Graph) Get(digest string) (*Commit, error) {
	if !content.ValidDigest(digest) {
		return nil, vverrors.InvalidArgument("malformed commit digest %q", digest)
	}
	if c, ok := g.cache.Get(digest); ok {
		return c, nil
	}

	data, err := os.ReadFile(g.path(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vverrors.NotFound("commit not found").WithDigest(digest)
		}
		return nil, fmt.Errorf("reading commit %s: %w", digest, err)
	}

	c, err := Decode(digest, data)
	if err != nil {
		g.logger.Warn("corrupt commit record", zap.String("digest", digest), zap.Error(err))
		return nil, err
	}
	g.cache.Add(digest, c)
	return c, nil
}

// Has reports whether a commit with the full digest exists.
func (g *Graph) Has(digest string) bool {
	if !content.ValidDigest(digest) {
		return false
	}
	if g.cache.Contains(digest) {
		return true
	}
	_, err := os.Stat(g.path(digest))
	return err == nil
}

// Resolve finds a commit by full or abbreviated digest.
func (g *Graph) Resolve(prefix string) (*Commit, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if len(prefix) == content.DigestLen {
		return g.Get(prefix)
	}
	if len(prefix) < MinPrefixLen || !content.IsHex(prefix) {
		return nil, vverrors.InvalidArgument("commit prefix %q must be at least %d hex characters", prefix, MinPrefixLen)
	}

	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}

	var match string
	for _, e := range entries {
		name := e.Name()
		if fsutil.IsTemp(name) || !strings.HasPrefix(name, prefix) {
			continue
		}
		if match != "" {
			return nil, vverrors.InvalidArgument("commit prefix %q is ambiguous", prefix)
		}
		match = name
	}
	if match == "" {
		return nil, vverrors.NotFound("no commit matches %q", prefix)
	}
	return g.Get(match)
}

// Ancestors yields digest's commit followed by its first-parent chain down
// to a root. Each call starts a fresh walk.
func (g *Graph) Ancestors(digest string) iter.Seq2[*Commit, error] {
	return func(yield func(*Commit, error) bool) {
		next := digest
		for next != "" {
			c, err := g.Get(next)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(c, nil) {
				return
			}
			next = c.Parent()
		}
	}
}

// MergeBase returns the nearest common ancestor of a and b, or nil when the
// histories are disjoint.
func (g *Graph) MergeBase(a, b string) (*Commit, error) {
	follow := g.parents
	if g.policy == PolicyFirstParent {
		follow = firstParent
	}

	seen := make(map[string]bool)
	if err := g.walk(a, follow, func(c *Commit) bool {
		seen[c.Digest] = true
		return true
	}); err != nil {
		return nil, err
	}

	var base *Commit
	if err := g.walk(b, follow, func(c *Commit) bool {
		if seen[c.Digest] {
			base = c
			return false
		}
		return true
	}); err != nil {
		return nil, err
	}

	if base != nil {
		g.logger.Debug("merge base found",
			zap.String("a", a), zap.String("b", b), zap.String("base", base.Digest))
	}
	return base, nil
}

// IsAncestor reports whether ancestor is reachable from descendant through
// any parent. A commit is its own ancestor.
func (g *Graph) IsAncestor(ancestor, descendant string) (bool, error) {
	found := false
	err := g.walk(descendant, g.parents, func(c *Commit) bool {
		found = c.Digest == ancestor
		return !found
	})
	return found, err
}

// Discard removes a commit record that no branch references. It exists to
// roll back a commit whose branch update failed.
func (g *Graph) Discard(digest string) error {
	if !content.ValidDigest(digest) {
		return vverrors.InvalidArgument("malformed commit digest %q", digest)
	}
	g.cache.Remove(digest)
	if err := os.Remove(g.path(digest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discarding commit %s: %w", digest, err)
	}
	g.logger.Warn("commit discarded", zap.String("digest", digest))
	return nil
}

// Purge empties the commit cache.
func (g *Graph) Purge() {
	g.cache.Purge()
}

func (g *Graph) parents(c *Commit) []string { return c.Parents }

func firstParent(c *Commit) []string {
	if p := c.Parent(); p != "" {
		return []string{p}
	}
	return nil
}

// walk visits commits breadth first from start, nearest first, until visit
// returns false.
func (g *Graph) walk(start string, follow func(*Commit) []string, visit func(*Commit) bool) error {
	queue := []string{start}
	queued := map[string]bool{start: true}

	for len(queue) > 0 {
		digest := queue[0]
		queue = queue[1:]

		c, err := g.Get(digest)
		if err != nil {
			return err
		}
		if !visit(c) {
			return nil
		}
		for _, p := range follow(c) {
			if !queued[p] {
				queued[p] = true
				queue = append(queue, p)
			}
		}
	}
	return nil
}
