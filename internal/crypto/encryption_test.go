package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	box, err := NewBox(key)
	require.NoError(t, err)
	return box
}

func TestSealOpen(t *testing.T) {
	box := newTestBox(t)

	t.Run("Should encrypt and decrypt successfully", func(t *testing.T) {
		plaintext := "orthanc-password"

		encrypted, err := box.Seal(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encrypted)
		assert.NotEmpty(t, encrypted)

		decrypted, err := box.Open(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("Should produce different ciphertexts for same plaintext", func(t *testing.T) {
		plaintext := "password123"

		encrypted1, err := box.Seal(plaintext)
		require.NoError(t, err)
		encrypted2, err := box.Seal(plaintext)
		require.NoError(t, err)

		// AES-GCM includes random nonce, so ciphertexts should differ
		assert.NotEqual(t, encrypted1, encrypted2)

		decrypted1, err := box.Open(encrypted1)
		require.NoError(t, err)
		decrypted2, err := box.Open(encrypted2)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted1)
		assert.Equal(t, plaintext, decrypted2)
	})

	t.Run("Should fail gracefully with invalid ciphertext", func(t *testing.T) {
		_, err := box.Open("invalid-base64-data!!!")
		assert.ErrorContains(t, err, "failed to decode base64")
	})

	t.Run("Should fail with ciphertext too short", func(t *testing.T) {
		shortCiphertext := base64.StdEncoding.EncodeToString([]byte("short"))

		_, err := box.Open(shortCiphertext)
		assert.ErrorContains(t, err, "ciphertext too short")
	})

	t.Run("Should reject ciphertext sealed with another key", func(t *testing.T) {
		encrypted, err := newTestBox(t).Seal("secret")
		require.NoError(t, err)

		_, err = box.Open(encrypted)
		assert.ErrorContains(t, err, "failed to decrypt")
	})

	t.Run("Should handle empty plaintext", func(t *testing.T) {
		encrypted, err := box.Seal("")
		require.NoError(t, err)

		decrypted, err := box.Open(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "", decrypted)
	})

	t.Run("Should handle special characters", func(t *testing.T) {
		plaintext := "p@ssw0rd!#$%^&*(){}[]|\\:;<>,.?/~`"

		encrypted, err := box.Seal(plaintext)
		require.NoError(t, err)

		decrypted, err := box.Open(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})
}

func TestNewBox(t *testing.T) {
	t.Run("Should reject an empty key", func(t *testing.T) {
		_, err := NewBox(nil)
		assert.Error(t, err)
	})

	t.Run("Should derive a key from short input", func(t *testing.T) {
		a, err := NewBox([]byte("short"))
		require.NoError(t, err)
		b, err := NewBox([]byte("short"))
		require.NoError(t, err)

		encrypted, err := a.Seal("secret")
		require.NoError(t, err)
		decrypted, err := b.Open(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "secret", decrypted)
	})
}

func TestLoadBox(t *testing.T) {
	t.Run("Should use a base64 key from the environment", func(t *testing.T) {
		key := make([]byte, 32)
		_, err := rand.Read(key)
		require.NoError(t, err)
		t.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))

		box, err := LoadBox(nil)
		require.NoError(t, err)

		direct, err := NewBox(key)
		require.NoError(t, err)
		encrypted, err := box.Seal("secret")
		require.NoError(t, err)
		decrypted, err := direct.Open(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "secret", decrypted)
	})

	t.Run("Should handle raw string as encryption key", func(t *testing.T) {
		t.Setenv("ENCRYPTION_KEY", "test-encryption-key-raw-string")

		box, err := LoadBox(nil)
		require.NoError(t, err)
		assert.NotNil(t, box)
	})

	t.Run("Should create and reuse a keychain key", func(t *testing.T) {
		keyring.MockInit()
		t.Setenv("ENCRYPTION_KEY", "")

		assert.False(t, IsKeyStored())
		first, err := LoadBox(nil)
		require.NoError(t, err)
		assert.True(t, IsKeyStored())

		second, err := LoadBox(nil)
		require.NoError(t, err)

		encrypted, err := first.Seal("secret")
		require.NoError(t, err)
		decrypted, err := second.Open(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "secret", decrypted)

		require.NoError(t, DeleteKey())
		assert.False(t, IsKeyStored())
	})
}

func TestLoadOrCreateKey(t *testing.T) {
	t.Run("Should use a stored value that is not base64 as the key", func(t *testing.T) {
		keyring.MockInit()
		require.NoError(t, keyring.Set(keystoreService, keystoreUser, "plain-key-value!"))

		key, err := LoadOrCreateKey(nil)

		require.NoError(t, err)
		assert.Equal(t, []byte("plain-key-value!"), key)
	})
}
