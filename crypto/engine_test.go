package crypto

import (
	"bytes"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := GenerateRSAKeyPair(MinModulusBits)
	require.NoError(t, err)
	return key
}

func TestDirectRoundTrip(t *testing.T) {
	engine, err := NewEngine("")
	require.NoError(t, err)
	key := testKeyPair(t)

	plaintext := []byte("meet at the usual place")
	ciphertext, err := engine.EncryptDirect(plaintext, &key.PublicKey)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := engine.DecryptDirect(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDirectSizeBound(t *testing.T) {
	engine, err := NewEngine(SuiteAESGCM)
	require.NoError(t, err)
	key := testKeyPair(t)

	bound := DirectSizeBound(&key.PublicKey)
	assert.Equal(t, 190, bound)

	atBound := bytes.Repeat([]byte{'a'}, bound)
	_, err = engine.EncryptDirect(atBound, &key.PublicKey)
	assert.NoError(t, err)

	overBound := bytes.Repeat([]byte{'a'}, bound+1)
	_, err = engine.EncryptDirect(overBound, &key.PublicKey)
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestDirectWrongKeyIsRecoverable(t *testing.T) {
	engine, err := NewEngine("")
	require.NoError(t, err)
	sender := testKeyPair(t)
	other := testKeyPair(t)

	ciphertext, err := engine.EncryptDirect([]byte("secret"), &sender.PublicKey)
	require.NoError(t, err)

	_, err = engine.DecryptDirect(ciphertext, other)
	assert.ErrorIs(t, err, ErrDecryption)

	// Corrupted ciphertext surfaces the same recoverable error.
	ciphertext[0] ^= 0xff
	_, err = engine.DecryptDirect(ciphertext, sender)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestGroupRoundTrip(t *testing.T) {
	for _, suite := range []Suite{SuiteAESGCM, SuiteXChaCha20} {
		t.Run(string(suite), func(t *testing.T) {
			engine, err := NewEngine(suite)
			require.NoError(t, err)

			plaintext := bytes.Repeat([]byte("arbitrary length payload "), 512)
			env, err := engine.EncryptGroup(plaintext)
			require.NoError(t, err)
			require.Len(t, env.Key, 32)

			decrypted, err := engine.DecryptGroup(env.Ciphertext, env.Key, env.IV)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)
		})
	}
}

func TestGroupFreshKeyPerMessage(t *testing.T) {
	engine, err := NewEngine("")
	require.NoError(t, err)

	first, err := engine.EncryptGroup([]byte("same plaintext"))
	require.NoError(t, err)
	second, err := engine.EncryptGroup([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Key, second.Key)
	assert.NotEqual(t, first.IV, second.IV)
	assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
}

func TestGroupTamperDetection(t *testing.T) {
	engine, err := NewEngine("")
	require.NoError(t, err)

	env, err := engine.EncryptGroup([]byte("tamper me"))
	require.NoError(t, err)

	env.Ciphertext[0] ^= 0xff
	_, err = engine.DecryptGroup(env.Ciphertext, env.Key, env.IV)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestWrapUnwrapKey(t *testing.T) {
	engine, err := NewEngine("")
	require.NoError(t, err)
	key := testKeyPair(t)

	env, err := engine.EncryptGroup([]byte("envelope"))
	require.NoError(t, err)

	wrapped, err := engine.WrapKey(env.Key, &key.PublicKey)
	require.NoError(t, err)

	unwrapped, err := engine.UnwrapKey(wrapped, key)
	require.NoError(t, err)
	assert.Equal(t, env.Key, unwrapped)

	other := testKeyPair(t)
	_, err = engine.UnwrapKey(wrapped, other)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestNewEngineRejectsUnknownSuite(t *testing.T) {
	_, err := NewEngine("rot13")
	assert.Error(t, err)
}
