package codec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestCodec_EncodeDecodeRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "hello")
	writeFile(t, src, "nested/b.txt", "world")

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	c := New(ports.NewAEADCrypto(), 5)
	blob, record, err := c.Encode(src, []string{"a.txt", "nested/b.txt"}, key)
	require.NoError(t, err)
	record.CreatedAt = time.Now()
	require.NoError(t, ValidateRecordMetadata(record))

	dst := t.TempDir()
	require.NoError(t, c.Decode(blob, key, record.Hash, dst))

	gotA, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(gotA))

	gotB, err := os.ReadFile(filepath.Join(dst, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(gotB))
}

func TestCodec_RejectsEmptyFileSet(t *testing.T) {
	c := New(ports.NewAEADCrypto(), 5)
	_, _, err := c.Encode(t.TempDir(), nil, make([]byte, 32))
	assert.Error(t, err)
}

func TestCodec_TamperedBlobFailsChecksum(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "hello")
	key := make([]byte, 32)

	c := New(ports.NewAEADCrypto(), 3)
	blob, record, err := c.Encode(src, []string{"a.txt"}, key)
	require.NoError(t, err)

	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0xFF

	err = c.Decode(tampered, key, record.Hash, t.TempDir())
	require.Error(t, err)
}

func TestCodec_WrongKeyFailsDecrypt(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "hello")
	key := make([]byte, 32)

	c := New(ports.NewAEADCrypto(), 3)
	blob, record, err := c.Encode(src, []string{"a.txt"}, key)
	require.NoError(t, err)

	// Use the correct hash (so checksum passes) but a different key, to
	// exercise the decrypt-failure path distinctly from checksum mismatch.
	wrongKey := make([]byte, 32)
	wrongKey[0] = 1

	err = c.Decode(blob, wrongKey, record.Hash, t.TempDir())
	require.Error(t, err)
}
