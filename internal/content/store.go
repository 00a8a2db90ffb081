// internal/content/store.go
package content

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	vverrors "vv/internal/errors"
	"vv/internal/fsutil"
	"vv/internal/logging"
)

// FileStore keeps blobs under root as <first-2-hex>/<remaining-62-hex>.
// Blob bytes returned by Get are shared with the cache and must not be
// modified.
type FileStore struct {
	root   string
	cache  *lru.Cache[string, []byte]
	logger *zap.Logger
	writes atomic.Int64
}

var _ Store = (*FileStore)(nil)

// Options configures a FileStore.
type Options struct {
	CacheSize int
	Logger    *zap.Logger
}

func NewFileStore(root string, opts Options) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating content store directory: %w", err)
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	return &FileStore{
		root:   root,
		cache:  cache,
		logger: logging.OrNop(opts.Logger),
	}, nil
}

func (s *FileStore) path(digest string) string {
	return filepath.Join(s.root, digest[:2], digest[2:])
}

// Store persists content and returns its digest. Storing content that is
// already present performs no write.
func (s *FileStore) Store(content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}

	digest := Digest(content)
	if s.Exists(digest) {
		return digest, nil
	}

	if err := fsutil.WriteFileAtomic(s.path(digest), content, 0o444); err != nil {
		return "", fmt.Errorf("writing blob %s: %w", digest, err)
	}
	s.writes.Add(1)
	s.cache.Add(digest, bytes.Clone(content))

	s.logger.Debug("blob stored", zap.String("digest", digest), zap.Int("size", len(content)))
	return digest, nil
}

// Get returns the blob for digest, verifying it against its name on disk.
func (s *FileStore) Get(digest string) ([]byte, error) {
	if !ValidDigest(digest) {
		return nil, vverrors.InvalidArgument("malformed blob digest %q", digest)
	}

	if content, ok := s.cache.Get(digest); ok {
		return content, nil
	}

	content, err := os.ReadFile(s.path(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vverrors.NotFound("blob not found").WithDigest(digest)
		}
		return nil, fmt.Errorf("reading blob %s: %w", digest, err)
	}

	if got := Digest(content); got != digest {
		s.logger.Warn("blob hash mismatch", zap.String("digest", digest), zap.String("actual", got))
		return nil, vverrors.CorruptRecord("blob content does not match its digest").WithDigest(digest)
	}

	s.cache.Add(digest, content)
	return content, nil
}

// Exists checks for digest without reading or caching the blob.
func (s *FileStore) Exists(digest string) bool {
	if !ValidDigest(digest) {
		return false
	}
	if s.cache.Contains(digest) {
		return true
	}
	_, err := os.Stat(s.path(digest))
	return err == nil
}

// Writes returns the number of blobs physically written by this store.
func (s *FileStore) Writes() int64 {
	return s.writes.Load()
}

// Purge drops every cached blob.
func (s *FileStore) Purge() {
	s.cache.Purge()
}
