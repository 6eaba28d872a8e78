package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns a SHA-256 hash of token, hex-encoded.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokensEqual compares a presented token (e.g. a CSRF header) with the expected one in constant time.
// Both sides are hashed first so the comparison does not leak length. Empty tokens never match.
func TokensEqual(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	a := HashToken(presented)
	b := HashToken(expected)
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
