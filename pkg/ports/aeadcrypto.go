package ports

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/cuemby/fleetctl/pkg/errs"
)

// AEADCrypto implements Crypto with AES-256-GCM: a correct construction
// with a 96-bit nonce from crypto/rand, never the nonce-size mismatch
// that a NewGCMWithNonceSize misuse would produce.
type AEADCrypto struct{}

// NewAEADCrypto returns the production Crypto port adapter.
func NewAEADCrypto() *AEADCrypto {
	return &AEADCrypto{}
}

func (AEADCrypto) HashSHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func (AEADCrypto) NonceSize() int {
	return 12
}

func (a AEADCrypto) NewNonce() ([]byte, error) {
	nonce := make([]byte, a.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "generating AEAD nonce", err)
	}
	return nonce, nil
}

func (AEADCrypto) gcm(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, errs.New(errs.KindInvalidArgument, "AEAD key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "creating AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "creating GCM mode", err)
	}
	return gcm, nil
}

func (a AEADCrypto) AEADEncrypt(key, nonce, associatedData, plaintext []byte) ([]byte, error) {
	gcm, err := a.gcm(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errs.New(errs.KindInvalidArgument, "nonce has wrong size for AEAD construction")
	}
	return gcm.Seal(nil, nonce, plaintext, associatedData), nil
}

func (a AEADCrypto) AEADDecrypt(key, nonce, associatedData, ciphertext []byte) ([]byte, error) {
	gcm, err := a.gcm(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errs.New(errs.KindInvalidArgument, "nonce has wrong size for AEAD construction")
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryptFailed, "AEAD authentication failed", err)
	}
	return plaintext, nil
}
