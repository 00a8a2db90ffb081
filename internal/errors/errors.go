// internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

type ErrorType string

const (
	ErrorTypeNotFound            ErrorType = "NOT_FOUND"
	ErrorTypeAlreadyExists       ErrorType = "ALREADY_EXISTS"
	ErrorTypeInvalidParent       ErrorType = "INVALID_PARENT"
	ErrorTypeInvalidCommit       ErrorType = "INVALID_COMMIT"
	ErrorTypeCannotDeleteCurrent ErrorType = "CANNOT_DELETE_CURRENT"
	ErrorTypeNoCommonAncestor    ErrorType = "NO_COMMON_ANCESTOR"
	ErrorTypeEmptyStagingSet     ErrorType = "EMPTY_STAGING_SET"
	ErrorTypeRepositoryLocked    ErrorType = "REPOSITORY_LOCKED"
	ErrorTypeCorruptRecord       ErrorType = "CORRUPT_RECORD"
	ErrorTypeInvalidArgument     ErrorType = "INVALID_ARGUMENT"
)

// Sentinels for errors.Is. Matching is by Type only, so any *Error of the
// same kind satisfies errors.Is(err, ErrNotFound).
var (
	ErrNotFound            = &Error{Type: ErrorTypeNotFound, Message: "not found"}
	ErrAlreadyExists       = &Error{Type: ErrorTypeAlreadyExists, Message: "already exists"}
	ErrInvalidParent       = &Error{Type: ErrorTypeInvalidParent, Message: "invalid parent"}
	ErrInvalidCommit       = &Error{Type: ErrorTypeInvalidCommit, Message: "invalid commit"}
	ErrCannotDeleteCurrent = &Error{Type: ErrorTypeCannotDeleteCurrent, Message: "cannot delete current branch"}
	ErrNoCommonAncestor    = &Error{Type: ErrorTypeNoCommonAncestor, Message: "no common ancestor"}
	ErrEmptyStagingSet     = &Error{Type: ErrorTypeEmptyStagingSet, Message: "nothing staged"}
	ErrRepositoryLocked    = &Error{Type: ErrorTypeRepositoryLocked, Message: "repository locked"}
	ErrCorruptRecord       = &Error{Type: ErrorTypeCorruptRecord, Message: "corrupt record"}
	ErrInvalidArgument     = &Error{Type: ErrorTypeInvalidArgument, Message: "invalid argument"}
)

// Error carries a distinguishable kind plus the structured data a caller
// needs to build a user-facing message.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Digest  string    `json:"digest,omitempty"`
	Branch  string    `json:"branch,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString(e.Message)
	if e.Branch != "" {
		fmt.Fprintf(&b, " (branch %s)", e.Branch)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %s)", e.Path)
	}
	if e.Digest != "" {
		fmt.Fprintf(&b, " (digest %s)", e.Digest)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Type == t.Type
}

// WithPath returns a copy of e annotated with path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// WithDigest returns a copy of e annotated with digest.
func (e *Error) WithDigest(digest string) *Error {
	c := *e
	c.Digest = digest
	return &c
}

// WithBranch returns a copy of e annotated with branch.
func (e *Error) WithBranch(branch string) *Error {
	c := *e
	c.Branch = branch
	return &c
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

func newError(t ErrorType, format string, args ...any) *Error {
	return &Error{
		Type:    t,
		Message: fmt.Sprintf(format, args...),
	}
}

func NotFound(format string, args ...any) *Error {
	return newError(ErrorTypeNotFound, format, args...)
}

func AlreadyExists(format string, args ...any) *Error {
	return newError(ErrorTypeAlreadyExists, format, args...)
}

func InvalidParent(format string, args ...any) *Error {
	return newError(ErrorTypeInvalidParent, format, args...)
}

func InvalidCommit(format string, args ...any) *Error {
	return newError(ErrorTypeInvalidCommit, format, args...)
}

func CannotDeleteCurrent(format string, args ...any) *Error {
	return newError(ErrorTypeCannotDeleteCurrent, format, args...)
}

func NoCommonAncestor(format string, args ...any) *Error {
	return newError(ErrorTypeNoCommonAncestor, format, args...)
}

func EmptyStagingSet(format string, args ...any) *Error {
	return newError(ErrorTypeEmptyStagingSet, format, args...)
}

func RepositoryLocked(format string, args ...any) *Error {
	return newError(ErrorTypeRepositoryLocked, format, args...)
}

func CorruptRecord(format string, args ...any) *Error {
	return newError(ErrorTypeCorruptRecord, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return newError(ErrorTypeInvalidArgument, format, args...)
}

// TypeOf returns the kind of the first *Error in err's chain, or "" when
// err carries none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsType reports whether err's chain contains an *Error of kind t.
func IsType(err error, t ErrorType) bool {
	return stderrors.Is(err, &Error{Type: t})
}
