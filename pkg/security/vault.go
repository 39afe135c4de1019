package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/burrowctl/burrow/pkg/errdefs"
)

// Vault seals and unseals secret material with AES-256-GCM. The key is
// derived once from the master secret, so sealed blobs survive process
// restarts but not master-secret rotation: rotating the master secret
// invalidates every sealed blob and forces re-registration.
type Vault struct {
	key []byte // 32 bytes, SHA-256 of the master secret
}

// NewVault creates a vault keyed by a raw 32-byte key
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &Vault{key: key}, nil
}

// NewVaultFromMasterSecret derives the vault key from the master secret
// with SHA-256. The same secret always yields the same key.
func NewVaultFromMasterSecret(secret string) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("master secret cannot be empty")
	}
	key := DeriveKey(secret)
	return NewVault(key)
}

// DeriveKey returns the 32-byte digest of a master secret
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Seal encrypts plaintext and returns nonce||ciphertext||tag
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot seal empty data")
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Unseal decrypts data produced by Seal. Truncated input, a changed
// key, or a tampered byte all surface as token_invalid.
func (v *Vault) Unseal(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, errdefs.TokenInvalid("cannot unseal empty data")
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errdefs.TokenInvalid("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errdefs.TokenInvalid("authentication failed")
	}

	return plaintext, nil
}

// SealString seals a string secret
func (v *Vault) SealString(s string) ([]byte, error) {
	return v.Seal([]byte(s))
}

// UnsealString unseals a string secret
func (v *Vault) UnsealString(sealed []byte) (string, error) {
	b, err := v.Unseal(sealed)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the hex SHA-256 digest of a secret, used for inbound
// authentication comparisons so the plaintext never needs unsealing.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifyHash compares a candidate secret against a stored digest in
// constant time.
func VerifyHash(secret, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(secret)), []byte(digest)) == 1
}

// RandomToken returns a URL-safe string backed by n bytes of
// cryptographically strong randomness.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
