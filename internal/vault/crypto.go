package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/solvault/wallet-core/internal/errs"
)

const (
	// kdfIterations is the fixed PBKDF2-SHA256 work factor for newly created
	// vaults. Existing records keep whatever iteration count they persisted.
	kdfIterations = 600_000

	keyLen   = 32
	saltLen  = 32
	nonceLen = 12
)

// newSalt generates a fresh random salt.
func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// deriveKey derives the vault encryption key from a password.
// Caller should zero the returned key after use.
func deriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// encryptSecret seals plaintext under key with AES-256-GCM and a fresh nonce.
func encryptSecret(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce = make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aesGCM.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// decryptSecret opens ciphertext. Every failure, including corrupted
// ciphertext or a wrong nonce, surfaces as ErrIncorrectPassword: a caller
// holding only a password cannot distinguish those cases.
// Caller should zero the returned plaintext after use.
func decryptSecret(key, ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.ErrIncorrectPassword
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.ErrIncorrectPassword
	}
	if len(nonce) != aesGCM.NonceSize() {
		return nil, errs.ErrIncorrectPassword
	}
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.ErrIncorrectPassword
	}
	return plaintext, nil
}
