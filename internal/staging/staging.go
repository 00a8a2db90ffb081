package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"sort"
	"unicode/utf8"

	"vv/internal/content"
	vverrors "vv/internal/errors"
	"vv/internal/fsutil"
)

// Entry is one pending change: a path with its new blob digest, or a
// removal when Removed is set.
type Entry struct {
	Path    string `json:"path"`
	Digest  string `json:"digest,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// Set is the pending-change buffer persisted as the repository index.
type Set struct {
	path    string
	entries map[string]Entry
}

type index struct {
	Entries []Entry `json:"entries"`
}

// Load reads the index at path. A missing index is an empty set.
func Load(path string) (*Set, error) {
	s := &Set{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, vverrors.CorruptRecord("decode index").WithPath(path).Wrap(err)
	}
	for _, e := range idx.Entries {
		if e.Path == "" || (!e.Removed && !content.ValidDigest(e.Digest)) {
			return nil, vverrors.CorruptRecord("index entry is malformed").WithPath(e.Path)
		}
		s.entries[e.Path] = e
	}
	return s, nil
}

// Save writes the set atomically.
func (s *Set) Save() error {
	data, err := json.MarshalIndent(index{Entries: s.Entries()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func checkPath(path string) error {
	if path == "" {
		return vverrors.InvalidArgument("empty path")
	}
	if !utf8.ValidString(path) {
		return vverrors.InvalidArgument("path %q is not valid UTF-8", path).WithPath(path)
	}
	return nil
}

// Add stages path at digest, replacing any earlier entry for it.
func (s *Set) Add(path, digest string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if !content.ValidDigest(digest) {
		return vverrors.InvalidArgument("malformed digest %q", digest).WithPath(path)
	}
	s.entries[path] = Entry{Path: path, Digest: digest}
	return nil
}

// Remove stages the removal of path.
func (s *Set) Remove(path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	s.entries[path] = Entry{Path: path, Removed: true}
	return nil
}

// Unstage drops any pending change for path.
func (s *Set) Unstage(path string) {
	delete(s.entries, path)
}

// Entries returns the pending changes sorted by path.
func (s *Set) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Set) Get(path string) (Entry, bool) {
	e, ok := s.entries[path]
	return e, ok
}

func (s *Set) Len() int { return len(s.entries) }

func (s *Set) IsEmpty() bool { return len(s.entries) == 0 }

func (s *Set) Clear() {
	s.entries = make(map[string]Entry)
}

// Apply returns a copy of tree with the pending changes applied.
func (s *Set) Apply(tree map[string]string) map[string]string {
	out := maps.Clone(tree)
	if out == nil {
		out = make(map[string]string, len(s.entries))
	}
	for path, e := range s.entries {
		if e.Removed {
			delete(out, path)
		} else {
			out[path] = e.Digest
		}
	}
	return out
}
