// internal/commit/commit.go
package commit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"vv/internal/content"
	vverrors "vv/internal/errors"
)

// Author identifies who made a commit.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// String renders the author as "Name <email>".
func (a Author) String() string {
	if a.Email == "" {
		return a.Name
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// ParseAuthor accepts "Name <email>" or a bare name.
func ParseAuthor(s string) (Author, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Author{}, vverrors.InvalidArgument("author must not be empty")
	}

	open := strings.LastIndexByte(s, '<')
	if open < 0 {
		return Author{Name: s}, nil
	}
	if !strings.HasSuffix(s, ">") {
		return Author{}, vverrors.InvalidArgument("malformed author %q", s)
	}
	a := Author{
		Name:  strings.TrimSpace(s[:open]),
		Email: strings.TrimSpace(s[open+1 : len(s)-1]),
	}
	if a.Name == "" {
		return Author{}, vverrors.InvalidArgument("author %q has no name", s)
	}
	return a, nil
}

// Commit is an immutable snapshot of the whole tree. Digest is derived from
// every other field. Commits handed out by a Graph are shared and must not
// be modified.
type Commit struct {
	Digest    string
	Message   string
	Author    Author
	Timestamp time.Time
	Parents   []string
	Tree      map[string]string
	// Tags are optional key/value annotations. They are part of the digest.
	Tags map[string]string
}

// IsRoot reports whether c has no parents.
func (c *Commit) IsRoot() bool { return len(c.Parents) == 0 }

// IsMerge reports whether c has more than one parent.
func (c *Commit) IsMerge() bool { return len(c.Parents) > 1 }

// Parent returns the first (mainline) parent, or "" for a root commit.
func (c *Commit) Parent() string {
	if len(c.Parents) == 0 {
		return ""
	}
	return c.Parents[0]
}

// Short returns the abbreviated digest used in log output.
func (c *Commit) Short() string {
	if len(c.Digest) < 12 {
		return c.Digest
	}
	return c.Digest[:12]
}

// record is the canonical on-disk form. Field order is fixed by the struct
// and encoding/json sorts the tree keys, so equal commits encode to equal
// bytes.
type record struct {
	Message   string            `json:"message"`
	Author    Author            `json:"author"`
	Timestamp int64             `json:"timestamp"`
	Parents   []string          `json:"parents"`
	Tree      map[string]string `json:"tree"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// validate rejects text that JSON cannot carry byte for byte. Invalid
// UTF-8 would be replaced by U+FFFD and distinct commits would share a
// digest.
func validate(c *Commit) error {
	text := func(what, s string) error {
		if !utf8.ValidString(s) {
			return vverrors.InvalidArgument("%s is not valid UTF-8", what)
		}
		return nil
	}
	if err := text("commit message", c.Message); err != nil {
		return err
	}
	if err := text("author name", c.Author.Name); err != nil {
		return err
	}
	if err := text("author email", c.Author.Email); err != nil {
		return err
	}
	for path := range c.Tree {
		if !utf8.ValidString(path) {
			return vverrors.InvalidArgument("tree path %q is not valid UTF-8", path).WithPath(path)
		}
	}
	for k, v := range c.Tags {
		if k == "" {
			return vverrors.InvalidArgument("empty tag key")
		}
		if err := text(fmt.Sprintf("tag %q", k), k+v); err != nil {
			return err
		}
	}
	return nil
}

// Encode returns the canonical record bytes and their digest.
func Encode(c *Commit) ([]byte, string, error) {
	if err := validate(c); err != nil {
		return nil, "", err
	}
	r := record{
		Message:   c.Message,
		Author:    c.Author,
		Timestamp: c.Timestamp.UnixNano(),
		Parents:   c.Parents,
		Tree:      c.Tree,
		Tags:      c.Tags,
	}
	if r.Parents == nil {
		r.Parents = []string{}
	}
	if r.Tree == nil {
		r.Tree = map[string]string{}
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, "", fmt.Errorf("encode commit: %w", err)
	}
	return data, content.Digest(data), nil
}

// Decode parses a record stored under digest, rejecting bytes that do not
// hash to it.
func Decode(digest string, data []byte) (*Commit, error) {
	if got := content.Digest(data); got != digest {
		return nil, vverrors.CorruptRecord("commit record does not match its digest").WithDigest(digest)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, vverrors.CorruptRecord("decode commit record").WithDigest(digest).Wrap(err)
	}
	for _, p := range r.Parents {
		if !content.ValidDigest(p) {
			return nil, vverrors.CorruptRecord("commit has malformed parent %q", p).WithDigest(digest)
		}
	}
	if r.Tree == nil {
		r.Tree = map[string]string{}
	}

	return &Commit{
		Digest:    digest,
		Message:   r.Message,
		Author:    r.Author,
		Timestamp: time.Unix(0, r.Timestamp).UTC(),
		Parents:   r.Parents,
		Tree:      r.Tree,
		Tags:      r.Tags,
	}, nil
}
