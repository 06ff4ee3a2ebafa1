// Package attestation computes the salted hash stamped into journal entries
// when a mandate attestation is produced. The hash lets a printed attestation
// be checked later against the journal without storing the document itself.
package attestation

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex SHA-256 of value concatenated with salt.
func Hash(value, salt string) string {
	sum := sha256.Sum256([]byte(value + salt))
	return hex.EncodeToString(sum[:])
}

// Validate reports whether hash is the salted hash of value.
func Validate(value, salt, hash string) bool {
	return Hash(value, salt) == hash
}
