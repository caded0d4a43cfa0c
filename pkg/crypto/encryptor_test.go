package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	enc, err := NewEncryptor(key)
	require.NoError(t, err)
	return enc
}

func TestNewEncryptor(t *testing.T) {
	t.Run("empty key", func(t *testing.T) {
		_, err := NewEncryptor("")
		assert.ErrorIs(t, err, ErrNoKey)
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := NewEncryptor("invalid-key-format")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing identity")
	})

	t.Run("same key same recipient", func(t *testing.T) {
		key, err := GenerateKey()
		require.NoError(t, err)

		a, err := NewEncryptor(key)
		require.NoError(t, err)
		b, err := NewEncryptor(key)
		require.NoError(t, err)

		assert.Equal(t, a.PublicKey(), b.PublicKey())
		assert.Contains(t, a.PublicKey(), "age1")
	})
}

func TestGenerateKey(t *testing.T) {
	key1, err := GenerateKey()
	require.NoError(t, err)
	key2, err := GenerateKey()
	require.NoError(t, err)

	assert.NotEqual(t, key1, key2)
	assert.Contains(t, key1, "AGE-SECRET-KEY-")
}

func TestEncryptDecrypt(t *testing.T) {
	enc := newTestEncryptor(t)
	plaintext := []byte("https://app.example.com/invitations/accept?token=abc")

	c1, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	c2, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)

	for _, c := range [][]byte{c1, c2} {
		decrypted, err := enc.Decrypt(c)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}

	t.Run("empty plaintext", func(t *testing.T) {
		c, err := enc.Encrypt([]byte{})
		require.NoError(t, err)
		assert.NotEmpty(t, c)

		p, err := enc.Decrypt(c)
		require.NoError(t, err)
		assert.Empty(t, p)
	})
}

func TestDecryptRejects(t *testing.T) {
	enc := newTestEncryptor(t)

	t.Run("garbage", func(t *testing.T) {
		_, err := enc.Decrypt([]byte("not valid ciphertext"))
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		c, err := enc.Encrypt([]byte("secret"))
		require.NoError(t, err)

		other := newTestEncryptor(t)
		_, err = other.Decrypt(c)
		assert.Error(t, err)
	})
}

func TestEncryptString(t *testing.T) {
	enc := newTestEncryptor(t)

	ciphertext, err := enc.EncryptString("token=abc")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "token")

	plaintext, err := enc.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "token=abc", plaintext)

	_, err = enc.DecryptString("not valid base64!!!")
	assert.ErrorContains(t, err, "decoding base64")

	_, err = enc.DecryptString("SGVsbG8gV29ybGQ=")
	assert.Error(t, err)
}
