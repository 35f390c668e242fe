package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/zalando/go-keyring"
)

const (
	keystoreService = "tciasync-desktop"
	keystoreUser    = "encryption-key"
)

// LoadOrCreateKey loads the encryption key from the system keychain, or
// generates and stores a new 32-byte key
func LoadOrCreateKey(logger *log.Logger) ([]byte, error) {
	keyString, err := keyring.Get(keystoreService, keystoreUser)
	if err == nil && keyString != "" {
		key, decodeErr := base64.StdEncoding.DecodeString(keyString)
		if decodeErr == nil {
			return key, nil
		}
		// A value that is not base64 is used as the key itself
		return []byte(keyString), nil
	}

	if err != nil && !errors.Is(err, keyring.ErrNotFound) && logger != nil {
		logger.Warn("Keystore unavailable", "error", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	if err := keyring.Set(keystoreService, keystoreUser, base64.StdEncoding.EncodeToString(key)); err != nil {
		// On Linux without a secret service the key only lives for this run
		if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
			return nil, fmt.Errorf("keychain storage required on %s: %w", runtime.GOOS, err)
		}
		if logger != nil {
			logger.Warn("Failed to store key in keychain, stored passwords will not survive a restart", "error", err)
		}
	}

	return key, nil
}

// DeleteKey removes the encryption key from the keychain
func DeleteKey() error {
	return keyring.Delete(keystoreService, keystoreUser)
}

// IsKeyStored checks if an encryption key exists in the keychain
func IsKeyStored() bool {
	_, err := keyring.Get(keystoreService, keystoreUser)
	return err == nil
}
