package merge

import (
	"bytes"
	"fmt"
	"sort"

	"vv/internal/diff"
)

// binarySniffLen is how much of a blob is checked for NUL bytes.
const binarySniffLen = 8000

// side is one tree's view of a path.
type side struct {
	digest  string
	present bool
}

func lookup(tree map[string]string, path string) side {
	d, ok := tree[path]
	return side{digest: d, present: ok}
}

// outcome of the per-path decision table. A path with keep unset is absent
// from the merged tree.
type outcome struct {
	digest   string
	keep     bool
	conflict ConflictKind
}

func take(s side) outcome { return outcome{digest: s.digest, keep: s.present} }

// decide applies the three-way table to one path, comparing digests only.
func decide(base, ours, theirs side) outcome {
	if !base.present {
		switch {
		case !theirs.present:
			return take(ours)
		case !ours.present:
			return take(theirs)
		case ours.digest == theirs.digest:
			return take(ours)
		default:
			return outcome{conflict: KindAddAdd}
		}
	}

	switch {
	case ours.present && theirs.present:
		switch {
		case ours.digest == base.digest:
			return take(theirs)
		case theirs.digest == base.digest, ours.digest == theirs.digest:
			return take(ours)
		default:
			return outcome{conflict: KindContent}
		}
	case !ours.present && !theirs.present:
		return outcome{}
	case !ours.present:
		if theirs.digest == base.digest {
			return outcome{}
		}
		return outcome{conflict: KindDeleteModify}
	default:
		if ours.digest == base.digest {
			return outcome{}
		}
		return outcome{conflict: KindDeleteModify}
	}
}

func unionPaths(trees ...map[string]string) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, t := range trees {
		for p := range t {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)
	return paths
}

// mergeTrees resolves every path of the three trees. Content produced by a
// line merge or a caller resolution is returned in pending, not yet stored.
func (e *Engine) mergeTrees(baseTree, oursTree, theirsTree map[string]string, o *options) (map[string]string, map[string][]byte, []Conflict, error) {
	tree := make(map[string]string)
	pending := make(map[string][]byte)
	var conflicts []Conflict

	for _, path := range unionPaths(baseTree, oursTree, theirsTree) {
		if r, ok := o.resolutions[path]; ok {
			if !r.Delete {
				pending[path] = r.Content
			}
			continue
		}

		base, ours, theirs := lookup(baseTree, path), lookup(oursTree, path), lookup(theirsTree, path)
		out := decide(base, ours, theirs)

		if out.conflict != "" {
			switch o.strategy {
			case Ours:
				out = take(ours)
			case Theirs:
				out = take(theirs)
			default:
				merged, cs, err := e.mergeFile(path, out.conflict, base, ours, theirs)
				if err != nil {
					return nil, nil, nil, err
				}
				if len(cs) > 0 {
					conflicts = append(conflicts, cs...)
				} else {
					pending[path] = merged
				}
				continue
			}
		}

		if out.keep {
			tree[path] = out.digest
		}
	}

	return tree, pending, conflicts, nil
}

// mergeFile attempts a line-level merge of a path both sides touched.
func (e *Engine) mergeFile(path string, kind ConflictKind, base, ours, theirs side) ([]byte, []Conflict, error) {
	baseData, err := e.load(path, base)
	if err != nil {
		return nil, nil, err
	}
	oursData, err := e.load(path, ours)
	if err != nil {
		return nil, nil, err
	}
	theirsData, err := e.load(path, theirs)
	if err != nil {
		return nil, nil, err
	}

	baseLines := diff.SplitLines(baseData)
	whole := Conflict{
		Path:    path,
		Kind:    kind,
		Base:    baseLines,
		BaseEnd: len(baseLines),
	}

	if kind == KindDeleteModify {
		if ours.present {
			whole.Ours = diff.SplitLines(oursData)
		}
		if theirs.present {
			whole.Theirs = diff.SplitLines(theirsData)
		}
		return nil, []Conflict{whole}, nil
	}

	if isBinary(baseData) || isBinary(oursData) || isBinary(theirsData) {
		whole.Kind = KindBinary
		whole.Base = nil
		whole.BaseEnd = 0
		return nil, []Conflict{whole}, nil
	}

	merged, regions := Lines(e.algorithm, baseLines, diff.SplitLines(oursData), diff.SplitLines(theirsData))
	if len(regions) == 0 {
		out := diff.JoinLines(merged)
		if len(out) > 0 && !mergedEOL(baseData, oursData, theirsData) {
			out = out[:len(out)-1]
		}
		return out, nil, nil
	}

	conflicts := make([]Conflict, len(regions))
	for i, r := range regions {
		conflicts[i] = Conflict{
			Path:      path,
			Kind:      kind,
			Base:      r.Base,
			Ours:      r.Ours,
			Theirs:    r.Theirs,
			BaseStart: r.BaseStart,
			BaseEnd:   r.BaseEnd,
		}
	}
	return nil, conflicts, nil
}

func (e *Engine) load(path string, s side) ([]byte, error) {
	if !s.present {
		return nil, nil
	}
	data, err := e.blobs.Get(s.digest)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", path, err)
	}
	return data, nil
}

func endsWithNewline(data []byte) bool {
	return len(data) > 0 && data[len(data)-1] == '\n'
}

// mergedEOL decides whether merged text ends with a newline. Lines do not
// carry it, so a side that only added or dropped the final newline is
// honoured here.
func mergedEOL(base, ours, theirs []byte) bool {
	b, o := endsWithNewline(base), endsWithNewline(ours)
	if o != b {
		return o
	}
	return endsWithNewline(theirs)
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}
