package ports

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADCrypto_RoundTrip(t *testing.T) {
	c := NewAEADCrypto()
	key := bytes.Repeat([]byte{0x42}, 32)
	nonce, err := c.NewNonce()
	require.NoError(t, err)
	assert.Len(t, nonce, c.NonceSize())

	ad := []byte("fleetctl-backup-v1")
	plaintext := []byte("hello world")

	ciphertext, err := c.AEADEncrypt(key, nonce, ad, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := c.AEADDecrypt(key, nonce, ad, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestAEADCrypto_TamperedCiphertextFailsAuth(t *testing.T) {
	c := NewAEADCrypto()
	key := bytes.Repeat([]byte{0x01}, 32)
	nonce, err := c.NewNonce()
	require.NoError(t, err)
	ad := []byte("fleetctl-backup-v1")

	ciphertext, err := c.AEADEncrypt(key, nonce, ad, []byte("payload"))
	require.NoError(t, err)

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xFF

	_, err = c.AEADDecrypt(key, nonce, ad, tampered)
	assert.Error(t, err)
}

func TestAEADCrypto_RejectsShortKey(t *testing.T) {
	c := NewAEADCrypto()
	nonce, err := c.NewNonce()
	require.NoError(t, err)

	_, err = c.AEADEncrypt([]byte("short"), nonce, nil, []byte("x"))
	assert.Error(t, err)
}

func TestAEADCrypto_HashSHA256Deterministic(t *testing.T) {
	c := NewAEADCrypto()
	a := c.HashSHA256([]byte("data"))
	b := c.HashSHA256([]byte("data"))
	assert.Equal(t, a, b)
}
