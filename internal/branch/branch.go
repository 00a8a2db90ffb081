// internal/branch/branch.go
package branch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"vv/internal/content"
	vverrors "vv/internal/errors"
	"vv/internal/fsutil"
	"vv/internal/logging"
)

const headPrefix = "ref: refs/heads/"

// Branch is a named pointer into the commit graph. Commit is empty for an
// unborn branch.
type Branch struct {
	Name    string
	Commit  string
	Current bool
}

// IsUnborn reports whether the branch has no commits yet.
func (b *Branch) IsUnborn() bool { return b.Commit == "" }

// CommitChecker is the part of the commit graph the table needs.
type CommitChecker interface {
	Has(digest string) bool
}

// Table stores branches as refs/heads/<name> files and the current branch
// in HEAD, both under root.
type Table struct {
	headPath string
	headsDir string
	commits  CommitChecker
	logger   *zap.Logger
}

func NewTable(root string, commits CommitChecker, logger *zap.Logger) *Table {
	return &Table{
		headPath: filepath.Join(root, "HEAD"),
		headsDir: filepath.Join(root, "refs", "heads"),
		commits:  commits,
		logger:   logging.OrNop(logger),
	}
}

// Init points HEAD at a new unborn branch.
func (t *Table) Init(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := t.writeRef(name, ""); err != nil {
		return err
	}
	return t.writeHead(name)
}

// ValidateName rejects names that cannot be stored as a ref file.
func ValidateName(name string) error {
	invalid := func(reason string) error {
		return vverrors.InvalidArgument("invalid branch name %q: %s", name, reason).WithBranch(name)
	}

	switch {
	case name == "":
		return invalid("empty")
	case name == "HEAD":
		return invalid("reserved")
	case !utf8.ValidString(name):
		return invalid("not valid UTF-8")
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return invalid("leading or trailing slash")
	case strings.Contains(name, ".."):
		return invalid("contains ..")
	case strings.Contains(name, "//"):
		return invalid("empty path component")
	}
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return invalid("component starts with a dot")
		}
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '\\' {
			return invalid("contains whitespace, control character or backslash")
		}
	}
	return nil
}

func (t *Table) refPath(name string) string {
	return filepath.Join(t.headsDir, filepath.FromSlash(name))
}

func (t *Table) writeRef(name, digest string) error {
	data := []byte{}
	if digest != "" {
		data = []byte(digest + "\n")
	}
	if err := fsutil.WriteFileAtomic(t.refPath(name), data, 0o644); err != nil {
		return fmt.Errorf("write ref %s: %w", name, err)
	}
	return nil
}

func (t *Table) writeHead(name string) error {
	if err := fsutil.WriteFileAtomic(t.headPath, []byte(headPrefix+name+"\n"), 0o644); err != nil {
		return fmt.Errorf("write HEAD: %w", err)
	}
	return nil
}

// missing reports whether err means no ref file exists at a path. A parent
// component that is a file yields ENOTDIR rather than ENOENT.
func missing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func (t *Table) readRef(name string) (string, error) {
	notFound := vverrors.NotFound("branch %q not found", name).WithBranch(name)

	info, err := os.Stat(t.refPath(name))
	switch {
	case missing(err):
		return "", notFound
	case err != nil:
		return "", fmt.Errorf("read ref %s: %w", name, err)
	case info.IsDir():
		// only a namespace for nested branches such as name/x
		return "", notFound
	}

	data, err := os.ReadFile(t.refPath(name))
	if err != nil {
		if missing(err) {
			return "", notFound
		}
		return "", fmt.Errorf("read ref %s: %w", name, err)
	}
	digest := strings.TrimSpace(string(data))
	if digest != "" && !content.ValidDigest(digest) {
		return "", vverrors.CorruptRecord("ref %q holds malformed digest %q", name, digest).WithBranch(name)
	}
	return digest, nil
}

// CurrentName returns the branch HEAD points at.
func (t *Table) CurrentName() (string, error) {
	data, err := os.ReadFile(t.headPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", vverrors.NotFound("HEAD not found")
		}
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	head := strings.TrimSpace(string(data))
	if !strings.HasPrefix(head, headPrefix) {
		return "", vverrors.CorruptRecord("HEAD is not a branch reference: %q", head)
	}
	return strings.TrimPrefix(head, headPrefix), nil
}

func (t *Table) Current() (*Branch, error) {
	name, err := t.CurrentName()
	if err != nil {
		return nil, err
	}
	digest, err := t.readRef(name)
	if err != nil {
		return nil, err
	}
	return &Branch{Name: name, Commit: digest, Current: true}, nil
}

func (t *Table) Get(name string) (*Branch, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	digest, err := t.readRef(name)
	if err != nil {
		return nil, err
	}
	current, err := t.CurrentName()
	if err != nil {
		return nil, err
	}
	return &Branch{Name: name, Commit: digest, Current: current == name}, nil
}

// Create adds a branch at the current branch's commit. Branching from an
// unborn branch yields another unborn branch.
func (t *Table) Create(name string) (*Branch, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := t.checkFree(name); err != nil {
		return nil, err
	}

	cur, err := t.Current()
	if err != nil {
		return nil, fmt.Errorf("create branch %s: %w", name, err)
	}
	if err := t.writeRef(name, cur.Commit); err != nil {
		return nil, err
	}

	t.logger.Info("branch created",
		zap.String("branch", name),
		zap.String("from", cur.Name),
		zap.String("commit", cur.Commit))
	return &Branch{Name: name, Commit: cur.Commit}, nil
}

// checkFree reports whether a ref file for name can be written. A name
// cannot be both a branch and the directory of nested branches.
func (t *Table) checkFree(name string) error {
	info, err := os.Stat(t.refPath(name))
	switch {
	case err == nil && info.IsDir():
		return vverrors.InvalidArgument("branch %q conflicts with existing branches under %s/", name, name).WithBranch(name)
	case err == nil:
		return vverrors.AlreadyExists("branch %q already exists", name).WithBranch(name)
	case !missing(err):
		return fmt.Errorf("stat ref %s: %w", name, err)
	}

	parts := strings.Split(name, "/")
	for i := 1; i < len(parts); i++ {
		prefix := strings.Join(parts[:i], "/")
		info, err := os.Stat(t.refPath(prefix))
		if err == nil && !info.IsDir() {
			return vverrors.InvalidArgument("branch %q conflicts with existing branch %q", name, prefix).WithBranch(name)
		}
	}
	return nil
}

// Checkout makes name the current branch. It does not touch any working
// directory.
func (t *Table) Checkout(name string) error {
	b, err := t.Get(name)
	if err != nil {
		return err
	}
	if b.Current {
		return nil
	}
	if err := t.writeHead(name); err != nil {
		return err
	}
	t.logger.Info("branch checked out", zap.String("branch", name))
	return nil
}

// Update repoints an existing branch at a known commit.
func (t *Table) Update(name, digest string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	old, err := t.readRef(name)
	if err != nil {
		return err
	}
	if !t.commits.Has(digest) {
		return vverrors.InvalidCommit("commit does not exist").WithDigest(digest).WithBranch(name)
	}
	if err := t.writeRef(name, digest); err != nil {
		return err
	}

	t.logger.Info("branch updated",
		zap.String("branch", name),
		zap.String("old", old),
		zap.String("new", digest))
	return nil
}

// Delete removes a branch other than the current one. The commits it
// pointed at are kept.
func (t *Table) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	current, err := t.CurrentName()
	if err != nil {
		return err
	}
	if current == name {
		return vverrors.CannotDeleteCurrent("cannot delete the current branch %q", name).WithBranch(name)
	}

	if _, err := t.readRef(name); vverrors.IsType(err, vverrors.ErrorTypeNotFound) {
		return err
	}
	if err := os.Remove(t.refPath(name)); err != nil {
		if missing(err) {
			return vverrors.NotFound("branch %q not found", name).WithBranch(name)
		}
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	t.pruneEmptyDirs(filepath.Dir(t.refPath(name)))

	t.logger.Info("branch deleted", zap.String("branch", name))
	return nil
}

// pruneEmptyDirs removes directories left empty by deleting a nested
// branch such as feature/x.
func (t *Table) pruneEmptyDirs(dir string) {
	for dir != t.headsDir && strings.HasPrefix(dir, t.headsDir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// List returns every branch sorted by name.
func (t *Table) List() ([]*Branch, error) {
	current, err := t.CurrentName()
	if err != nil {
		return nil, err
	}

	var branches []*Branch
	err = filepath.WalkDir(t.headsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || fsutil.IsTemp(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(t.headsDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		digest, err := t.readRef(name)
		if err != nil {
			return err
		}
		branches = append(branches, &Branch{Name: name, Commit: digest, Current: name == current})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	sort.Slice(branches, func(i, j int) bool {
		return branches[i].Name < branches[j].Name
	})
	return branches, nil
}
