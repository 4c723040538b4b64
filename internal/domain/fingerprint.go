package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hashable is implemented by records whose saves are guarded by a content
// fingerprint. The repository computes the fingerprint from HashSource
// before every write and skips the write when it matches the stored value,
// which makes at-least-once message redelivery idempotent.
type Hashable interface {
	HashSource() string
}

// Fingerprint returns the stable hash of a record's hash source.
func Fingerprint(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
