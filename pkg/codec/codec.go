// Package codec implements the Backup Codec: serialize a file tree into
// a stable archive, compress it, encrypt it with AEAD, and checksum the
// result. Decode reverses the pipeline, failing closed at the first
// integrity check that does not pass.
package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// associatedData binds every ciphertext to this product and wire
// version; any blob produced by a different product or format rejects
// during AEAD verification.
var associatedData = []byte("fleetctl-backup-v1")

// Codec encodes and decodes backups. It holds no keys between calls;
// callers supply the 256-bit key on every Encode/Decode.
type Codec struct {
	crypto           ports.Crypto
	compressionLevel int
}

// New constructs a Codec. compressionLevel is clamped to zstd's
// supported range (mapped 0-9 per configuration to zstd's four levels).
func New(crypto ports.Crypto, compressionLevel int) *Codec {
	return &Codec{crypto: crypto, compressionLevel: compressionLevel}
}

func (c *Codec) zstdLevel() zstd.EncoderLevel {
	switch {
	case c.compressionLevel <= 1:
		return zstd.SpeedFastest
	case c.compressionLevel <= 4:
		return zstd.SpeedDefault
	case c.compressionLevel <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Encode reads every file in relPaths under sourceRoot, archives,
// compresses, and AEAD-encrypts it with key, and returns the opaque
// blob plus the BackupRecord describing it. key must be 32 bytes.
func (c *Codec) Encode(sourceRoot string, relPaths []string, key []byte) ([]byte, types.BackupRecord, error) {
	if len(relPaths) == 0 {
		return nil, types.BackupRecord{}, errs.New(errs.KindInvalidArgument, "backup must cover at least one file")
	}

	archived, err := buildArchive(sourceRoot, relPaths)
	if err != nil {
		return nil, types.BackupRecord{}, err
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.zstdLevel()))
	if err != nil {
		return nil, types.BackupRecord{}, errs.Wrap(errs.KindUnexpected, "constructing zstd encoder", err)
	}
	compressed := encoder.EncodeAll(archived, nil)
	_ = encoder.Close()

	nonce, err := c.crypto.NewNonce()
	if err != nil {
		return nil, types.BackupRecord{}, err
	}
	ciphertext, err := c.crypto.AEADEncrypt(key, nonce, associatedData, compressed)
	if err != nil {
		return nil, types.BackupRecord{}, err
	}

	blob := append(append([]byte(nil), nonce...), ciphertext...)
	hash := c.crypto.HashSHA256(blob)

	ratio := 0.0
	if len(archived) > 0 {
		ratio = float64(len(compressed)) / float64(len(archived))
	}

	record := types.BackupRecord{
		ID:               uuid.NewString(),
		EncryptedSize:    int64(len(blob)),
		SourceFiles:      append([]string(nil), relPaths...),
		Encrypted:        true,
		CompressionRatio: ratio,
		Hash:             hex.EncodeToString(hash[:]),
	}
	return blob, record, nil
}

// Decode verifies blob against expectedHash, decrypts and decompresses
// it, and materializes the archive under targetRoot.
func (c *Codec) Decode(blob []byte, key []byte, expectedHash string, targetRoot string) error {
	actualHash := c.crypto.HashSHA256(blob)
	if hex.EncodeToString(actualHash[:]) != expectedHash {
		return errs.New(errs.KindChecksumMismatch, "backup blob hash does not match BackupRecord")
	}

	nonceSize := c.crypto.NonceSize()
	if len(blob) < nonceSize {
		return errs.New(errs.KindDecryptFailed, "blob shorter than nonce")
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]

	compressed, err := c.crypto.AEADDecrypt(key, nonce, associatedData, ciphertext)
	if err != nil {
		return errs.Wrap(errs.KindDecryptFailed, "AEAD decryption failed", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return errs.Wrap(errs.KindUnexpected, "constructing zstd decoder", err)
	}
	defer decoder.Close()
	archived, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return errs.Wrap(errs.KindDecompressFailed, "zstd decompression failed", err)
	}

	entries, err := parseArchive(archived)
	if err != nil {
		return err
	}
	return materialize(entries, targetRoot)
}

// ValidateRecordMetadata checks a BackupRecord's shape before any I/O is
// attempted, as the Integrity Tester's first TestCase step requires.
func ValidateRecordMetadata(record types.BackupRecord) error {
	if len(record.SourceFiles) == 0 {
		return errs.New(errs.KindMetadataInvalid, "backup record lists no source files")
	}
	if len(record.Hash) != 64 {
		return errs.New(errs.KindMetadataInvalid, fmt.Sprintf("backup record hash has unexpected length %d", len(record.Hash)))
	}
	if record.CreatedAt.IsZero() {
		return errs.New(errs.KindMetadataInvalid, "backup record has no creation time")
	}
	return nil
}
