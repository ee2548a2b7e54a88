// Package credential seals mail-server passwords at rest and resolves a
// user's stored server settings into decrypted connection parameters.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Frokesy/goatmail-be/internal/mail"
)

var (
	// ErrNotConfigured means the user has no server of the requested kind.
	ErrNotConfigured = mail.ErrNotConfigured
	// ErrDecrypt means a stored password could not be opened.
	ErrDecrypt = mail.ErrCredentialUnreadable
)

const keySize = 32

// sealed is the stored form of an encrypted password.
type sealed struct {
	IV      string `json:"iv"`
	Content string `json:"content"`
	Tag     string `json:"tag"`
}

// Cipher encrypts passwords with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 64-character hex key.
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// GenerateKey returns a random key in the form NewCipher accepts.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext with a fresh nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	tagAt := len(out) - c.aead.Overhead()
	b, err := json.Marshal(sealed{
		IV:      hex.EncodeToString(nonce),
		Content: hex.EncodeToString(out[:tagAt]),
		Tag:     hex.EncodeToString(out[tagAt:]),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed or tampered
// input yields an error wrapping ErrDecrypt.
func (c *Cipher) Decrypt(stored string) (string, error) {
	var s sealed
	if err := json.Unmarshal([]byte(stored), &s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	nonce, err1 := hex.DecodeString(s.IV)
	content, err2 := hex.DecodeString(s.Content)
	tag, err3 := hex.DecodeString(s.Tag)
	if err1 != nil || err2 != nil || err3 != nil {
		return "", fmt.Errorf("%w: bad hex encoding", ErrDecrypt)
	}
	if len(nonce) != c.aead.NonceSize() || len(tag) != c.aead.Overhead() {
		return "", fmt.Errorf("%w: bad nonce or tag length", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, nonce, append(content, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}
