package encryption

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashSecret returns the hex SHA-256 digest stored in place of a client secret
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretMatches compares secret against a stored digest in constant time.
// Both sides are fixed-length digests, so the comparison does not leak the
// length of the presented secret.
func SecretMatches(storedHash, secret string) bool {
	presented := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(presented)) == 1
}
