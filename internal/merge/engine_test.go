package merge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vv/internal/branch"
	"vv/internal/commit"
	"vv/internal/content"
	vverrors "vv/internal/errors"
)

var tester = commit.Author{Name: "Tess", Email: "tess@example.com"}

type fixture struct {
	t        *testing.T
	root     string
	blobs    *content.FileStore
	graph    *commit.Graph
	branches *branch.Table
	engine   *Engine
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	blobs, err := content.NewFileStore(filepath.Join(root, "objects"), content.Options{})
	require.NoError(t, err)
	graph, err := commit.NewGraph(filepath.Join(root, "commits"), commit.Options{})
	require.NoError(t, err)
	table := branch.NewTable(root, graph, nil)
	require.NoError(t, table.Init("main"))

	return &fixture{
		t:        t,
		root:     root,
		blobs:    blobs,
		graph:    graph,
		branches: table,
		engine:   NewEngine(graph, table, blobs, Options{}),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// commitFiles replaces the current branch's tree with files and commits it.
func (f *fixture) commitFiles(files map[string]string) *commit.Commit {
	f.t.Helper()
	cur, err := f.branches.Current()
	require.NoError(f.t, err)

	tree := make(map[string]string)
	for path, data := range files {
		d, err := f.blobs.Store([]byte(data))
		require.NoError(f.t, err)
		tree[path] = d
	}

	var parents []string
	if !cur.IsUnborn() {
		parents = []string{cur.Commit}
	}
	f.clock = f.clock.Add(time.Second)
	c, err := f.graph.Create("commit", tester, f.clock, parents, tree)
	require.NoError(f.t, err)
	require.NoError(f.t, f.branches.Update(cur.Name, c.Digest))
	return c
}

func (f *fixture) checkout(name string) {
	f.t.Helper()
	require.NoError(f.t, f.branches.Checkout(name))
}

func (f *fixture) branch(name string) {
	f.t.Helper()
	_, err := f.branches.Create(name)
	require.NoError(f.t, err)
}

func (f *fixture) tip() string {
	f.t.Helper()
	cur, err := f.branches.Current()
	require.NoError(f.t, err)
	return cur.Commit
}

func (f *fixture) commitCount() int {
	f.t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.root, "commits"))
	require.NoError(f.t, err)
	return len(entries)
}

func (f *fixture) read(c *commit.Commit, path string) string {
	f.t.Helper()
	data, err := f.blobs.Get(c.Tree[path])
	require.NoError(f.t, err)
	return string(data)
}

// diverge builds base on main, then ours on main and theirs on feature.
func (f *fixture) diverge(base, ours, theirs map[string]string) {
	f.commitFiles(base)
	f.branch("feature")
	f.checkout("feature")
	f.commitFiles(theirs)
	f.checkout("main")
	f.commitFiles(ours)
}

func TestMergeUpToDate(t *testing.T) {
	f := newFixture(t)
	f.commitFiles(map[string]string{"f": "A"})
	f.branch("feature")
	before := f.tip()

	for _, name := range []string{"main", "feature"} {
		res, err := f.engine.Merge(name, tester)
		require.NoError(t, err)
		assert.Equal(t, Success, res.Status)
		assert.True(t, res.UpToDate)
		assert.Nil(t, res.Commit)
	}
	assert.Equal(t, before, f.tip())

	t.Run("theirs already contained", func(t *testing.T) {
		f.commitFiles(map[string]string{"f": "B"})
		res, err := f.engine.Merge("feature", tester)
		require.NoError(t, err)
		assert.True(t, res.UpToDate)
	})
}

func TestMergeConflict(t *testing.T) {
	f := newFixture(t)
	f.diverge(
		map[string]string{"f": "A"},
		map[string]string{"f": "B"},
		map[string]string{"f": "C"},
	)
	before := f.tip()
	commits := f.commitCount()

	res, err := f.engine.Merge("feature", tester)
	require.NoError(t, err)
	assert.Equal(t, Conflicted, res.Status)
	require.Len(t, res.Conflicts, 1)

	c := res.Conflicts[0]
	assert.Equal(t, "f", c.Path)
	assert.Equal(t, KindContent, c.Kind)
	assert.Equal(t, []string{"B"}, c.Ours)
	assert.Equal(t, []string{"C"}, c.Theirs)
	assert.Equal(t, []string{"A"}, c.Base)
	assert.Equal(t, "<<<<<<< ours\nB\n=======\nC\n>>>>>>> theirs\n", c.Markers())

	assert.Nil(t, res.Commit)
	assert.Equal(t, before, f.tip(), "branch must not move on conflict")
	assert.Equal(t, commits, f.commitCount(), "no commit may be recorded on conflict")
}

func TestMergeConvergence(t *testing.T) {
	f := newFixture(t)
	f.diverge(
		map[string]string{"f": "A", "x": "x"},
		map[string]string{"f": "B", "x": "x"},
		map[string]string{"f": "B", "x": "x", "y": "y"},
	)
	ours := f.tip()
	feature, err := f.branches.Get("feature")
	require.NoError(t, err)

	res, err := f.engine.Merge("feature", tester)
	require.NoError(t, err)
	require.Equal(t, Success, res.Status)
	require.NotNil(t, res.Commit)

	assert.Equal(t, content.Digest([]byte("B")), res.Commit.Tree["f"])
	assert.Equal(t, []string{ours, feature.Commit}, res.Commit.Parents)
	assert.Equal(t, res.Commit.Digest, f.tip())
	assert.Equal(t, "y", f.read(res.Commit, "y"))
}

func TestMergeDecisionTable(t *testing.T) {
	f := newFixture(t)
	f.diverge(
		map[string]string{
			"ours-edit":   "base",
			"theirs-edit": "base",
			"ours-del":    "base",
			"theirs-del":  "base",
			"both-del":    "base",
		},
		map[string]string{
			"ours-edit":   "ours",
			"theirs-edit": "base",
			"theirs-del":  "base",
			"ours-add":    "new",
			"same-add":    "same",
		},
		map[string]string{
			"ours-edit":   "base",
			"theirs-edit": "theirs",
			"ours-del":    "base",
			"theirs-add":  "new",
			"same-add":    "same",
		},
	)

	res, err := f.engine.Merge("feature", tester)
	require.NoError(t, err)
	require.Equal(t, Success, res.Status)

	tree := res.Commit.Tree
	assert.Equal(t, "ours", f.read(res.Commit, "ours-edit"))
	assert.Equal(t, "theirs", f.read(res.Commit, "theirs-edit"))
	assert.Equal(t, "new", f.read(res.Commit, "ours-add"))
	assert.Equal(t, "new", f.read(res.Commit, "theirs-add"))
	assert.Equal(t, "same", f.read(res.Commit, "same-add"))
	assert.NotContains(t, tree, "ours-del")
	assert.NotContains(t, tree, "theirs-del")
	assert.NotContains(t, tree, "both-del")
	assert.Len(t, tree, 5)
}

func TestMergeLineLevel(t *testing.T) {
	f := newFixture(t)
	f.diverge(
		map[string]string{"doc": "one\ntwo\nthree\nfour\nfive\n"},
		map[string]string{"doc": "ONE\ntwo\nthree\nfour\nfive\n"},
		map[string]string{"doc": "one\ntwo\nthree\nfour\nFIVE\n"},
	)

	res, err := f.engine.Merge("feature", tester)
	require.NoError(t, err)
	require.Equal(t, Success, res.Status)
	assert.Equal(t, "ONE\ntwo\nthree\nfour\nFIVE\n", f.read(res.Commit, "doc"))
}

func TestMergeWholeFileConflicts(t *testing.T) {
	t.Run("delete/modify", func(t *testing.T) {
		f := newFixture(t)
		f.diverge(
			map[string]string{"f": "base\n", "keep": "k"},
			map[string]string{"keep": "k"},
			map[string]string{"f": "changed\n", "keep": "k"},
		)

		res, err := f.engine.Merge("feature", tester)
		require.NoError(t, err)
		require.Len(t, res.Conflicts, 1)
		c := res.Conflicts[0]
		assert.Equal(t, KindDeleteModify, c.Kind)
		assert.Nil(t, c.Ours)
		assert.Equal(t, []string{"changed"}, c.Theirs)
		assert.Equal(t, 0, c.BaseStart)
		assert.Equal(t, 1, c.BaseEnd)
	})

	t.Run("add/add", func(t *testing.T) {
		f := newFixture(t)
		f.diverge(
			map[string]string{"keep": "k"},
			map[string]string{"keep": "k", "n": "ours\n"},
			map[string]string{"keep": "k", "n": "theirs\n"},
		)

		res, err := f.engine.Merge("feature", tester)
		require.NoError(t, err)
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, KindAddAdd, res.Conflicts[0].Kind)
		assert.Equal(t, []string{"n"}, res.ConflictPaths())
	})

	t.Run("binary", func(t *testing.T) {
		f := newFixture(t)
		f.diverge(
			map[string]string{"bin": "a\x00b"},
			map[string]string{"bin": "a\x00c"},
			map[string]string{"bin": "a\x00d"},
		)

		res, err := f.engine.Merge("feature", tester)
		require.NoError(t, err)
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, KindBinary, res.Conflicts[0].Kind)
	})
}

func TestMergeStrategies(t *testing.T) {
	for _, tc := range []struct {
		strategy Strategy
		want     string
	}{
		{Ours, "B"},
		{Theirs, "C"},
	} {
		t.Run(string(tc.strategy), func(t *testing.T) {
			f := newFixture(t)
			f.diverge(
				map[string]string{"f": "A"},
				map[string]string{"f": "B"},
				map[string]string{"f": "C"},
			)

			res, err := f.engine.Merge("feature", tester, WithStrategy(tc.strategy))
			require.NoError(t, err)
			require.Equal(t, Success, res.Status)
			assert.Equal(t, tc.want, f.read(res.Commit, "f"))
		})
	}

	t.Run("unknown", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Merge("main", tester, WithStrategy("octopus"))
		assert.ErrorIs(t, err, vverrors.ErrInvalidArgument)
	})
}

func TestMergeResolutions(t *testing.T) {
	f := newFixture(t)
	f.diverge(
		map[string]string{"f": "A", "g": "A"},
		map[string]string{"f": "B", "g": "B"},
		map[string]string{"f": "C", "g": "C"},
	)

	res, err := f.engine.Merge("feature", tester)
	require.NoError(t, err)
	require.Equal(t, []string{"f", "g"}, res.ConflictPaths())

	res, err = f.engine.Merge("feature", tester,
		WithResolution("f", Resolution{Content: []byte("resolved\n")}),
		WithResolutions(map[string]Resolution{"g": {Delete: true}}),
		WithMessage("resolve"),
	)
	require.NoError(t, err)
	require.Equal(t, Success, res.Status)
	assert.Equal(t, "resolve", res.Commit.Message)
	assert.Equal(t, "resolved\n", f.read(res.Commit, "f"))
	assert.NotContains(t, res.Commit.Tree, "g")
}

func TestMergeDisjointHistories(t *testing.T) {
	f := newFixture(t)
	f.commitFiles(map[string]string{"f": "main"})
	before := f.tip()

	// An orphan branch: create it, then point it at an unrelated root.
	f.branch("orphan")
	root, err := f.graph.Create("other root", tester, f.clock, nil, map[string]string{})
	require.NoError(t, err)
	require.NoError(t, f.branches.Update("orphan", root.Digest))

	_, err = f.engine.Merge("orphan", tester)
	assert.ErrorIs(t, err, vverrors.ErrNoCommonAncestor)
	assert.Equal(t, before, f.tip())
}

func TestMergeFastForward(t *testing.T) {
	setup := func(t *testing.T) (*fixture, *commit.Commit) {
		f := newFixture(t)
		f.commitFiles(map[string]string{"f": "A"})
		f.branch("feature")
		f.checkout("feature")
		ahead := f.commitFiles(map[string]string{"f": "B"})
		f.checkout("main")
		return f, ahead
	}

	t.Run("disabled makes a merge commit", func(t *testing.T) {
		f, ahead := setup(t)

		res, err := f.engine.Merge("feature", tester)
		require.NoError(t, err)
		require.NotNil(t, res.Commit)
		assert.False(t, res.FastForward)
		assert.True(t, res.Commit.IsMerge())
		assert.Equal(t, ahead.Digest, res.Commit.Parents[1])
		assert.Equal(t, "B", f.read(res.Commit, "f"))
	})

	t.Run("enabled moves the branch", func(t *testing.T) {
		f, ahead := setup(t)

		res, err := f.engine.Merge("feature", tester, WithFastForward(true))
		require.NoError(t, err)
		assert.True(t, res.FastForward)
		assert.Equal(t, ahead.Digest, f.tip())
	})
}

type failingBranches struct {
	Branches
}

func (failingBranches) Update(string, string) error { return errors.New("disk full") }

func TestMergeRollsBackCommitOnBranchFailure(t *testing.T) {
	f := newFixture(t)
	f.diverge(
		map[string]string{"a": "1", "b": "1"},
		map[string]string{"a": "2", "b": "1"},
		map[string]string{"a": "1", "b": "2"},
	)
	before := f.tip()
	commits := f.commitCount()

	engine := NewEngine(f.graph, failingBranches{f.branches}, f.blobs, Options{})
	_, err := engine.Merge("feature", tester)
	require.Error(t, err)

	assert.Equal(t, commits, f.commitCount())
	assert.Equal(t, before, f.tip())
}

func TestMergeFinalNewline(t *testing.T) {
	tests := []struct {
		name               string
		base, ours, theirs string
		want               string
	}{
		{"theirs drops final newline", "a\nb\n", "A\nb\n", "a\nb", "A\nb"},
		{"ours drops final newline", "a\nb\n", "A\nb", "a\nB\n", "A\nB"},
		{"ours adds final newline", "a\nb", "a\nb\n", "a\nB", "a\nB\n"},
		{"neither has one", "a\nb", "A\nb", "a\nB", "A\nB"},
		{"both keep it", "a\nb\n", "A\nb\n", "a\nB\n", "A\nB\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.diverge(
				map[string]string{"f": tt.base},
				map[string]string{"f": tt.ours},
				map[string]string{"f": tt.theirs},
			)

			res, err := f.engine.Merge("feature", tester)
			require.NoError(t, err)
			require.Equal(t, Success, res.Status)
			assert.Equal(t, tt.want, f.read(res.Commit, "f"))
		})
	}
}

func TestMergeAbortsOnCorruptBlob(t *testing.T) {
	f := newFixture(t)
	base := "one\ntwo\n"
	f.diverge(
		map[string]string{"f": base},
		map[string]string{"f": "ONE\ntwo\n"},
		map[string]string{"f": "one\nTWO\n"},
	)
	before := f.tip()
	commits := f.commitCount()

	digest := content.Digest([]byte(base))
	path := filepath.Join(f.root, "objects", digest[:2], digest[2:])
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, os.WriteFile(path, []byte("tampered\n"), 0o644))
	f.blobs.Purge()

	res, err := f.engine.Merge("feature", tester)
	assert.ErrorIs(t, err, vverrors.ErrCorruptRecord)
	assert.Nil(t, res)
	assert.Equal(t, before, f.tip())
	assert.Equal(t, commits, f.commitCount())
}
