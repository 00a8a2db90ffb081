package merge

import (
	"strings"
	"time"

	"vv/internal/commit"
)

// Status is the terminal state of a merge attempt. An aborted merge is
// reported as an error instead.
type Status int

const (
	Success Status = iota
	Conflicted
)

func (s Status) String() string {
	if s == Conflicted {
		return "conflict"
	}
	return "success"
}

// ConflictKind says why a path could not be merged.
type ConflictKind string

const (
	// KindContent: both sides changed the same lines of a file differently.
	KindContent ConflictKind = "content"
	// KindAddAdd: both sides added the path with different content.
	KindAddAdd ConflictKind = "add-add"
	// KindDeleteModify: one side deleted the path, the other modified it.
	KindDeleteModify ConflictKind = "delete-modify"
	// KindBinary: both sides changed a file that is not line-mergeable.
	KindBinary ConflictKind = "binary"
)

// Conflict is one colliding region of one path. Line ranges are 0-based
// and end-exclusive. Delete/modify conflicts cover the whole file and use a
// nil side for the deletion. Binary conflicts carry no lines.
type Conflict struct {
	Path      string
	Kind      ConflictKind
	Base      []string
	Ours      []string
	Theirs    []string
	BaseStart int
	BaseEnd   int
}

// Markers renders the conflict with the usual ours/theirs markers.
func (c Conflict) Markers() string {
	var b strings.Builder
	b.WriteString("<<<<<<< ours\n")
	for _, l := range c.Ours {
		b.WriteString(l + "\n")
	}
	b.WriteString("=======\n")
	for _, l := range c.Theirs {
		b.WriteString(l + "\n")
	}
	b.WriteString(">>>>>>> theirs\n")
	return b.String()
}

// Result is the outcome of a merge that was not aborted.
type Result struct {
	Status Status
	// Commit is the new merge commit, or the fast-forward target. It is nil
	// when nothing changed or the merge conflicted.
	Commit      *commit.Commit
	UpToDate    bool
	FastForward bool
	Conflicts   []Conflict
}

// ConflictPaths lists each conflicting path once, in order.
func (r *Result) ConflictPaths() []string {
	var paths []string
	seen := make(map[string]bool)
	for _, c := range r.Conflicts {
		if !seen[c.Path] {
			seen[c.Path] = true
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// Strategy chooses how conflicting paths are settled.
type Strategy string

const (
	ThreeWay Strategy = "three-way"
	Ours     Strategy = "ours"
	Theirs   Strategy = "theirs"
)

// Resolution is a caller's decision for one path, passed when re-invoking
// a conflicted merge.
type Resolution struct {
	Content []byte
	Delete  bool
}

type options struct {
	strategy    Strategy
	resolutions map[string]Resolution
	fastForward bool
	message     string
	now         func() time.Time
}

// Option customises a single merge.
type Option func(*options)

func WithStrategy(s Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithResolution settles path with the given content, overriding whatever
// the merge would have decided for it.
func WithResolution(path string, r Resolution) Option {
	return func(o *options) {
		if o.resolutions == nil {
			o.resolutions = make(map[string]Resolution)
		}
		o.resolutions[path] = r
	}
}

func WithResolutions(rs map[string]Resolution) Option {
	return func(o *options) {
		for path, r := range rs {
			WithResolution(path, r)(o)
		}
	}
}

// WithFastForward moves the branch instead of committing when ours is an
// ancestor of theirs.
func WithFastForward(ff bool) Option {
	return func(o *options) { o.fastForward = ff }
}

func WithMessage(msg string) Option {
	return func(o *options) { o.message = msg }
}

// WithClock sets the source of the merge commit timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
