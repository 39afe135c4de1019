package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/burrowctl/burrow/pkg/errdefs"
)

const blobExt = ".enc"

// BlobStore keeps encrypted credential blobs on disk, one file per blob
// id with the on-disk format nonce||ciphertext||tag and mode 0600.
type BlobStore struct {
	dir   string
	vault *Vault
}

// NewBlobStore creates the blob directory (0700) if needed
func NewBlobStore(dir string, vault *Vault) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{dir: dir, vault: vault}, nil
}

// Put seals and writes a blob
func (s *BlobStore) Put(id string, plaintext []byte) error {
	if err := validateBlobID(id); err != nil {
		return err
	}
	sealed, err := s.vault.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal blob %s: %w", id, err)
	}
	return os.WriteFile(s.path(id), sealed, 0600)
}

// Get reads and unseals a blob. If only a legacy plaintext file (no
// .enc extension) exists it is sealed in place and the plaintext copy
// removed; migration happens at most once per blob.
func (s *BlobStore) Get(id string) ([]byte, error) {
	if err := validateBlobID(id); err != nil {
		return nil, err
	}

	sealed, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return s.migrateLegacy(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}

	return s.vault.Unseal(sealed)
}

// Delete removes a blob; missing blobs are not an error
func (s *BlobStore) Delete(id string) error {
	if err := validateBlobID(id); err != nil {
		return err
	}
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the ids of all stored blobs
func (s *BlobStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blobExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), blobExt))
	}
	return ids, nil
}

func (s *BlobStore) path(id string) string {
	return filepath.Join(s.dir, id+blobExt)
}

// migrateLegacy picks up a pre-encryption plaintext file, seals it, and
// deletes the original.
func (s *BlobStore) migrateLegacy(id string) ([]byte, error) {
	legacy := filepath.Join(s.dir, id)
	plaintext, err := os.ReadFile(legacy)
	if os.IsNotExist(err) {
		return nil, errdefs.NotFound("blob %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy blob %s: %w", id, err)
	}

	if err := s.Put(id, plaintext); err != nil {
		return nil, fmt.Errorf("failed to migrate legacy blob %s: %w", id, err)
	}
	if err := os.Remove(legacy); err != nil {
		return nil, fmt.Errorf("failed to remove legacy blob %s: %w", id, err)
	}

	return plaintext, nil
}

func validateBlobID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return errdefs.Invalid("invalid blob id %q", id)
	}
	return nil
}
