package security

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MinKeyLength is the minimum master key length in bytes.
const MinKeyLength = 32

// ErrInvalidKey is returned when the master key is missing or too short.
var ErrInvalidKey = errors.New("invalid key")

// Key purposes for DeriveKey. Each purpose yields an independent subkey.
const (
	PurposeAccessToken = "intellx access token v1"
	PurposeClientStore = "intellx client store v1"
)

// ParseEncryptionKey decodes the configured master key. s may be hex, standard or URL-safe base64,
// or raw text; the first encoding that yields at least MinKeyLength bytes wins.
func ParseEncryptionKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) >= MinKeyLength {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) >= MinKeyLength {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil && len(b) >= MinKeyLength {
		return b, nil
	}
	if len(s) >= MinKeyLength {
		return []byte(s), nil
	}
	return nil, ErrInvalidKey
}

// DeriveKey derives a 32-byte subkey for purpose from master using HKDF-SHA256.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) < MinKeyLength {
		return nil, ErrInvalidKey
	}
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
