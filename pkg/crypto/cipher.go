// Package crypto seals credentials stored in the database.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a value produced by Cipher. Values without it are read as plaintext,
// which lets rows written before encryption was enabled keep working.
const SealedPrefix = "enc:v1:"

var (
	ErrInvalidKey        = errors.New("crypto: invalid encryption key")
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
)

// Encryptor seals and opens credential strings.
type Encryptor interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(stored string) (string, error)
}

// NoOpEncryptor stores credentials as they are.
type NoOpEncryptor struct{}

func (NoOpEncryptor) EncryptString(plaintext string) (string, error) { return plaintext, nil }

// DecryptString refuses sealed values, since there is no key to open them.
func (NoOpEncryptor) DecryptString(stored string) (string, error) {
	if IsSealed(stored) {
		return "", fmt.Errorf("%w: value is sealed but no key is configured", ErrDecryptionFailed)
	}
	return stored, nil
}

// IsSealed reports whether a stored value was produced by Cipher.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, SealedPrefix)
}

// Cipher is AES-256-GCM with a random nonce prepended to each ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

var _ Encryptor = (*Cipher)(nil)

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be exactly 32 bytes, got %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewEncryptor builds an Encryptor from a configured key. An empty key gives a NoOpEncryptor.
// format is "hex", "base64" or "raw"; empty means raw.
func NewEncryptor(key, format string) (Encryptor, error) {
	if key == "" {
		return NoOpEncryptor{}, nil
	}
	var raw []byte
	var err error
	switch format {
	case "hex":
		raw, err = hex.DecodeString(key)
	case "base64":
		raw, err = base64.StdEncoding.DecodeString(key)
	case "", "raw":
		raw = []byte(key)
	default:
		return nil, fmt.Errorf("%w: unknown key format %q", ErrInvalidKey, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s decode: %v", ErrInvalidKey, format, err)
	}
	return NewCipher(raw)
}

// EncryptString seals plaintext. Empty strings stay empty.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a sealed value. Unsealed values are returned unchanged.
func (c *Cipher) DecryptString(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidCiphertext, err)
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("%w: ciphertext too short", ErrInvalidCiphertext)
	}
	plaintext, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
