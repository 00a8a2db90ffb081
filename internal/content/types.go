package content

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestLen is the length of a hex-encoded SHA-256 digest.
const DigestLen = sha256.Size * 2

// Store is the blob interface the rest of the core depends on.
type Store interface {
	Store(content []byte) (string, error)
	Get(digest string) ([]byte, error)
	Exists(digest string) bool
}

// Digest returns the lowercase hex SHA-256 of content.
func Digest(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// ValidDigest reports whether s is a full lowercase hex SHA-256 digest.
func ValidDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	return IsHex(s)
}

// IsHex reports whether s is non-empty lowercase hex.
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
