package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Run("Is matches by type through wraps", func(t *testing.T) {
		err := fmt.Errorf("merge: %w", NotFound("branch %q not found", "dev").WithBranch("dev"))
		assert.True(t, stderrors.Is(err, ErrNotFound))
		assert.False(t, stderrors.Is(err, ErrAlreadyExists))
		assert.Equal(t, ErrorTypeNotFound, TypeOf(err))
		assert.True(t, IsType(err, ErrorTypeNotFound))
	})

	t.Run("structured data is preserved", func(t *testing.T) {
		err := fmt.Errorf("read: %w", CorruptRecord("digest mismatch").WithDigest("abcd").WithPath("a.txt"))

		var e *Error
		assert.True(t, stderrors.As(err, &e))
		assert.Equal(t, "abcd", e.Digest)
		assert.Equal(t, "a.txt", e.Path)
		assert.Contains(t, err.Error(), "digest mismatch")
		assert.Contains(t, err.Error(), "abcd")
	})

	t.Run("cause is reachable", func(t *testing.T) {
		cause := stderrors.New("disk on fire")
		err := CorruptRecord("decode commit").Wrap(cause)
		assert.True(t, stderrors.Is(err, cause))
		assert.True(t, stderrors.Is(err, ErrCorruptRecord))
	})

	t.Run("plain errors have no type", func(t *testing.T) {
		assert.Equal(t, ErrorType(""), TypeOf(stderrors.New("x")))
	})
}
