// Package crypto provides transparent per-tenant field encryption for
// sensitive finding data.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// errCiphertextMalformed is returned when a stored value cannot be decoded.
var errCiphertextMalformed = errors.New("ciphertext is malformed")

// errKeyVersionMismatch is returned when a value was sealed under a different
// rotation version than the key presented.
var errKeyVersionMismatch = errors.New("key rotation version mismatch")

// FieldCipher seals and opens individual field values with a tenant key.
// Values are encoded as base64(version || nonce || ciphertext) so a rotated
// key is detected before any decryption is attempted.
type FieldCipher struct {
	aead    cipher.AEAD
	version uint8
}

// NewFieldCipher creates a FieldCipher from 32 bytes of tenant key material
// and its rotation version.
func NewFieldCipher(key []byte, version uint8) (*FieldCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to construct cipher: %w", err)
	}
	return &FieldCipher{aead: aead, version: version}, nil
}

// Seal encrypts the plaintext field value.
func (c *FieldCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	buf := make([]byte, 0, 1+len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	buf = append(buf, c.version)
	buf = append(buf, nonce...)
	buf = c.aead.Seal(buf, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Open decrypts a value previously produced by Seal with the same key.
func (c *FieldCipher) Open(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errCiphertextMalformed, err)
	}
	if len(raw) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", errCiphertextMalformed
	}
	if raw[0] != c.version {
		return "", fmt.Errorf("%w: sealed with version %d, key is version %d", errKeyVersionMismatch, raw[0], c.version)
	}

	nonce := raw[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := raw[1+chacha20poly1305.NonceSizeX:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt field: %w", err)
	}
	return string(plaintext), nil
}

// IsKeyVersionMismatch reports whether err indicates a rotated key.
func IsKeyVersionMismatch(err error) bool { return errors.Is(err, errKeyVersionMismatch) }
