// internal/workspace/local.go
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"vv/internal/content"
	vverrors "vv/internal/errors"
	"vv/internal/fsutil"
	"vv/internal/logging"
)

// DirName is the repository metadata directory at the workspace root.
const DirName = ".vv"

// DefaultIgnore lists the path component patterns skipped when a directory
// is expanded for staging.
var DefaultIgnore = []string{".*", "node_modules"}

// FindRoot searches upward from startDir for a directory holding DirName.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", vverrors.NotFound("no repository found at or above %s", startDir)
}

// Workspace is the working directory of a repository.
type Workspace struct {
	Root   string
	Ignore []string
	logger *zap.Logger
}

func New(root string, logger *zap.Logger) *Workspace {
	return &Workspace{
		Root:   root,
		Ignore: DefaultIgnore,
		logger: logging.OrNop(logger),
	}
}

// Rel turns p, absolute or relative to the root, into a clean
// slash-separated repository path. "." is returned for the root itself.
func (w *Workspace) Rel(p string) (string, error) {
	if p == "" {
		return "", vverrors.InvalidArgument("empty path")
	}
	if !utf8.ValidString(p) {
		return "", vverrors.InvalidArgument("path %q is not valid UTF-8", p).WithPath(p)
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.Root, p)
	}
	rel, err := filepath.Rel(w.Root, filepath.Clean(abs))
	if err != nil {
		return "", vverrors.InvalidArgument("path %q is outside the repository", p).Wrap(err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", vverrors.InvalidArgument("path %q is outside the repository", p).WithPath(p)
	}
	if rel == DirName || strings.HasPrefix(rel, DirName+"/") {
		return "", vverrors.InvalidArgument("path %q is inside the repository metadata", p).WithPath(p)
	}
	return rel, nil
}

// ShouldIgnore reports whether any component of rel matches an ignore
// pattern.
func (w *Workspace) ShouldIgnore(rel string) bool {
	if rel == "" {
		return true
	}
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if part == DirName {
			return true
		}
		for _, pattern := range w.Ignore {
			if ok, _ := path.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}

// Expand resolves paths to the sorted set of files they name. Directories,
// including ".", are walked with ignore rules applied. Files named
// explicitly are returned even when an ignore pattern matches them.
func (w *Workspace) Expand(paths ...string) ([]string, error) {
	seen := make(map[string]bool)
	for _, p := range paths {
		rel, err := w.Rel(p)
		if err != nil {
			return nil, err
		}

		abs := w.Abs(rel)
		info, err := os.Stat(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, vverrors.NotFound("path %q does not exist", p).WithPath(rel)
			}
			return nil, fmt.Errorf("stat %s: %w", rel, err)
		}
		if !info.IsDir() {
			seen[rel] = true
			continue
		}

		err = filepath.WalkDir(abs, func(fp string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			r, err := filepath.Rel(w.Root, fp)
			if err != nil {
				return err
			}
			r = filepath.ToSlash(r)
			if !utf8.ValidString(r) {
				return vverrors.InvalidArgument("path %q is not valid UTF-8", r).WithPath(r)
			}
			if r != rel && w.ShouldIgnore(r) {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				seen[r] = true
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", rel, err)
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Abs returns the filesystem path of a repository path.
func (w *Workspace) Abs(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	data, err := os.ReadFile(w.Abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, vverrors.NotFound("file %q does not exist", rel).WithPath(rel)
		}
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return data, nil
}

// Materialize writes every file of tree below dir. Files not in the tree
// are left alone.
func Materialize(dir string, tree map[string]string, blobs content.Store, logger *zap.Logger) error {
	logger = logging.OrNop(logger)

	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		clean := path.Clean(p)
		if clean != p || path.IsAbs(p) || clean == ".." || strings.HasPrefix(clean, "../") {
			return vverrors.CorruptRecord("tree path %q escapes the target directory", p).WithPath(p)
		}
		data, err := blobs.Get(tree[p])
		if err != nil {
			return fmt.Errorf("materialize %s: %w", p, err)
		}
		if err := fsutil.WriteFileAtomic(filepath.Join(dir, filepath.FromSlash(p)), data, 0o644); err != nil {
			return fmt.Errorf("materialize %s: %w", p, err)
		}
	}

	logger.Debug("tree materialized", zap.String("dir", dir), zap.Int("files", len(paths)))
	return nil
}
