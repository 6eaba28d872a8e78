package security

import "time"

// testMasterKey is a fixed master key for unit tests only. Do not use in production.
const testMasterKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

// NewTestTokenProvider returns a TokenProvider keyed from the fixed test master key.
// For unit tests only. Callers must not use in production.
func NewTestTokenProvider() (*TokenProvider, error) {
	master, err := ParseEncryptionKey(testMasterKey)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(master, PurposeAccessToken)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(key, "test-issuer", "test-audience", 15*time.Minute), nil
}

// TestMasterKey returns a copy of the fixed test master key bytes. For unit tests only.
func TestMasterKey() []byte {
	b, _ := ParseEncryptionKey(testMasterKey)
	return b
}
