// Package crypto encrypts the Orthanc passwords stored in connection profiles.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Box seals secrets with AES-256-GCM. Ciphertexts are base64 strings with the
// nonce prepended.
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a Box from key. Keys that are not 32 bytes long are hashed
// with SHA-256.
func NewBox(key []byte) (*Box, error) {
	if len(key) == 0 {
		return nil, errors.New("empty encryption key")
	}
	if len(key) != 32 {
		hash := sha256.Sum256(key)
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Box{aead: gcm}, nil
}

// LoadBox picks the encryption key
// Priority:
// 1. ENCRYPTION_KEY environment variable (base64, or any string which is hashed)
// 2. System keychain, generating and storing a new key on first use
func LoadBox(logger *log.Logger) (*Box, error) {
	if keyString := os.Getenv("ENCRYPTION_KEY"); keyString != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(keyString)
		if err != nil {
			keyBytes = []byte(keyString)
		}
		return NewBox(keyBytes)
	}

	key, err := LoadOrCreateKey(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption from keystore: %w", err)
	}
	return NewBox(key)
}

// Seal encrypts plaintext and returns base64-encoded ciphertext
func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal
func (b *Box) Open(ciphertextB64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := b.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
