// Package sha256 derives the stable identity keys used to deduplicate events.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FieldSeparator joins key components before hashing.
const FieldSeparator = "|"

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key hashes fields joined by FieldSeparator. Callers are responsible for
// any case folding; Key hashes exactly what it is given.
func Key(fields ...string) string {
	return Hash([]byte(strings.Join(fields, FieldSeparator)))
}
