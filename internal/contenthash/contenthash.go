// Package contenthash provides content addressing for binary attachments.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the lowercase hex SHA-256 digest of the exact byte
// sequence. Attachments are hashed raw; decoding or truncating the content
// before hashing would collapse distinct binaries onto one key.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
