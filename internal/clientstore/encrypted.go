package clientstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptedBackend seals every value with XChaCha20-Poly1305 before handing it to the wrapped backend.
// The namespace and key are bound as additional data, so a value copied to another slot fails to open.
type EncryptedBackend struct {
	b    Backend
	aead cipher.AEAD
}

// NewEncryptedBackend wraps b. key must be 32 bytes (see security.DeriveKey with PurposeClientStore).
func NewEncryptedBackend(b Backend, key []byte) (*EncryptedBackend, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("clientstore: %w", err)
	}
	return &EncryptedBackend{b: b, aead: aead}, nil
}

func additionalData(namespace, key string) []byte {
	return []byte(namespace + "\x00" + key)
}

// Get opens the stored value. A value that fails to decode or authenticate yields ErrCorrupt.
func (e *EncryptedBackend) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	sealed, ok, err := e.b.Get(ctx, namespace, key)
	if err != nil || !ok {
		return "", ok, err
	}
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < e.aead.NonceSize()+e.aead.Overhead() {
		return "", false, ErrCorrupt
	}
	nonce, ct := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, ct, additionalData(namespace, key))
	if err != nil {
		return "", false, ErrCorrupt
	}
	return string(plain), true, nil
}

func (e *EncryptedBackend) Set(ctx context.Context, namespace, key, value string) error {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(value)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("clientstore: nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(value), additionalData(namespace, key))
	return e.b.Set(ctx, namespace, key, base64.RawStdEncoding.EncodeToString(sealed))
}

func (e *EncryptedBackend) Remove(ctx context.Context, namespace, key string) error {
	return e.b.Remove(ctx, namespace, key)
}
