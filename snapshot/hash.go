package snapshot

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
)

// DigestLength is the length of a hex-encoded content digest.
const DigestLength = md5.Size * 2

// ContentHasher accumulates the bytes of one file. It is an io.Writer so a
// retrieval can stream straight into it.
type ContentHasher struct {
	h hash.Hash
	n int64
}

// NewContentHasher returns an empty hasher.
func NewContentHasher() *ContentHasher {
	return &ContentHasher{h: md5.New()}
}

// Write adds p to the digest. It never fails.
func (c *ContentHasher) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return c.h.Write(p)
}

// Len returns the number of bytes written so far.
func (c *ContentHasher) Len() int64 {
	return c.n
}

// HexDigest returns the digest of everything written so far as 32 lowercase
// hex characters.
func (c *ContentHasher) HexDigest() string {
	return hex.EncodeToString(c.h.Sum(nil))
}

// isDigest reports whether s looks like a HexDigest result.
func isDigest(s string) bool {
	if len(s) != DigestLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
