package carve

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// newHashers returns a fresh MD5/SHA-256 pair for carvers that write
// directly (not through CarveStream) but still need to stream-hash their
// output as they go.
func newHashers() (hash.Hash, hash.Hash) {
	return md5.New(), sha256.New()
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
