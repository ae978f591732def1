package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

// ErrInvalidCiphertext is returned when a stored blob is truncated,
// tampered with, or encrypted under a different key. Decryption never
// returns wrong plaintext.
var ErrInvalidCiphertext = errors.New("privacy: invalid ciphertext")

var hexKeyRegex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// ParseKey decodes a 32-byte encryption key given as 64 hex chars or
// base64. Any other input is rejected; callers treat that as fatal.
func ParseKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, errors.New("privacy: encryption key is required")
	}
	var key []byte
	var err error
	if hexKeyRegex.MatchString(raw) {
		key, err = hex.DecodeString(raw)
	} else {
		key, err = base64.StdEncoding.DecodeString(raw)
	}
	if err != nil || len(key) != keySize {
		return nil, fmt.Errorf("privacy: encryption key must be a %d-byte key (base64 or 64-char hex)", keySize)
	}
	return key, nil
}

// Cipher provides authenticated symmetric encryption for subscriber email
// addresses. Blobs are stored as base64(nonce ‖ tag ‖ ciphertext).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte AES-256-GCM key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("privacy: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	// Seal returns ciphertext ‖ tag; storage layout is nonce ‖ tag ‖ ciphertext.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a stored blob. Returns ErrInvalidCiphertext for anything
// that does not authenticate under the current key.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(blob) < nonceSize+tagSize {
		return "", ErrInvalidCiphertext
	}
	nonce := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	ct := blob[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
