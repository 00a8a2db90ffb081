package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	vverrors "vv/internal/errors"
	"vv/internal/logging"
)

const pollInterval = 10 * time.Millisecond

// Lock is a repository-wide advisory lock on a file. The kernel drops the
// lock when its holder exits, so a crashed process never wedges the
// repository. It is not reentrant.
type Lock struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

// Handle is a held lock. Release it exactly once.
type Handle struct {
	fl     *flock.Flock
	token  string
	logger *zap.Logger
}

func New(path string, timeout time.Duration, logger *zap.Logger) *Lock {
	return &Lock{path: path, timeout: timeout, logger: logging.OrNop(logger)}
}

// Acquire waits up to the configured timeout for the lock.
func (l *Lock) Acquire() (*Handle, error) {
	fl := flock.New(l.path)

	var (
		ok  bool
		err error
	)
	if l.timeout <= 0 {
		ok, err = fl.TryLock()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		ok, err = fl.TryLockContext(ctx, pollInterval)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !ok {
		l.logger.Warn("lock wait timed out",
			zap.String("path", l.path),
			zap.String("holder", l.holder()),
			zap.Duration("timeout", l.timeout))
		return nil, vverrors.RepositoryLocked("repository is locked by another operation").
			WithPath(l.path)
	}

	// A clean release empties the file, so a leftover record means the
	// previous holder died while holding the lock.
	if prev := l.holder(); prev != "" {
		l.logger.Warn("reclaimed stale lock", zap.String("path", l.path), zap.String("holder", prev))
	}

	token := uuid.NewString()
	if err := os.WriteFile(l.path, []byte(fmt.Sprintf("%s %d\n", token, os.Getpid())), 0o644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Handle{fl: fl, token: token, logger: l.logger}, nil
}

func (l *Lock) holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Release clears the holder record and drops the lock.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	var terr error
	if err := os.Truncate(h.fl.Path(), 0); err != nil && !os.IsNotExist(err) {
		terr = fmt.Errorf("clear lock file: %w", err)
	}
	if err := h.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", h.fl.Path(), err)
	}
	h.logger.Debug("lock released", zap.String("token", h.token))
	return terr
}
