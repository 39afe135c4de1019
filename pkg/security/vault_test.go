package security

import (
	"bytes"
	"errors"
	"testing"

	"github.com/burrowctl/burrow/pkg/errdefs"
)

func TestNewVault(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVault(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewVault() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && v == nil {
				t.Error("NewVault() returned nil without error")
			}
		})
	}
}

func TestNewVaultFromMasterSecret(t *testing.T) {
	if _, err := NewVaultFromMasterSecret(""); err == nil {
		t.Error("expected error for empty master secret")
	}

	v1, err := NewVaultFromMasterSecret("cluster-master-secret")
	if err != nil {
		t.Fatalf("NewVaultFromMasterSecret() error = %v", err)
	}
	v2, err := NewVaultFromMasterSecret("cluster-master-secret")
	if err != nil {
		t.Fatalf("NewVaultFromMasterSecret() error = %v", err)
	}

	// Same master secret derives the same key: v2 must unseal v1's output.
	sealed, err := v1.SealString("hunter2")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	got, err := v2.UnsealString(sealed)
	if err != nil {
		t.Fatalf("Unseal() error = %v", err)
	}
	if got != "hunter2" {
		t.Errorf("round-trip = %q, want hunter2", got)
	}
}

func TestSealUnsealRoundtrip(t *testing.T) {
	v, err := NewVaultFromMasterSecret("test-master")
	if err != nil {
		t.Fatalf("NewVaultFromMasterSecret() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{
			name:      "simple string",
			plaintext: []byte("hunter2"),
		},
		{
			name:      "json data",
			plaintext: []byte(`{"kubeconfig":"apiVersion: v1"}`),
		},
		{
			name:      "binary data",
			plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD},
		},
		{
			name:      "large data",
			plaintext: bytes.Repeat([]byte("blob"), 4096),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := v.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if bytes.Contains(sealed, tt.plaintext) && len(tt.plaintext) > 4 {
				t.Error("sealed output contains plaintext")
			}
			got, err := v.Unseal(sealed)
			if err != nil {
				t.Fatalf("Unseal() error = %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("round-trip mismatch: got %v, want %v", got, tt.plaintext)
			}
		})
	}
}

func TestUnsealTamperDetection(t *testing.T) {
	v, err := NewVaultFromMasterSecret("test-master")
	if err != nil {
		t.Fatalf("NewVaultFromMasterSecret() error = %v", err)
	}

	sealed, err := v.SealString("hunter2")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	// Flipping any single byte must fail authentication.
	for i := range sealed {
		tampered := make([]byte, len(sealed))
		copy(tampered, sealed)
		tampered[i] ^= 0x01

		if _, err := v.Unseal(tampered); !errors.Is(err, errdefs.ErrTokenInvalid) {
			t.Fatalf("Unseal(tampered byte %d) error = %v, want token_invalid", i, err)
		}
	}

	// The untouched ciphertext still unseals.
	got, err := v.UnsealString(sealed)
	if err != nil {
		t.Fatalf("Unseal(untouched) error = %v", err)
	}
	if got != "hunter2" {
		t.Errorf("Unseal(untouched) = %q, want hunter2", got)
	}
}

func TestUnsealTruncatedAndEmpty(t *testing.T) {
	v, _ := NewVaultFromMasterSecret("test-master")

	if _, err := v.Unseal(nil); !errors.Is(err, errdefs.ErrTokenInvalid) {
		t.Errorf("Unseal(nil) error = %v, want token_invalid", err)
	}
	if _, err := v.Unseal([]byte{0x01, 0x02}); !errors.Is(err, errdefs.ErrTokenInvalid) {
		t.Errorf("Unseal(truncated) error = %v, want token_invalid", err)
	}
}

func TestUnsealWithRotatedKey(t *testing.T) {
	v1, _ := NewVaultFromMasterSecret("old-master")
	v2, _ := NewVaultFromMasterSecret("new-master")

	sealed, err := v1.SealString("hunter2")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := v2.Unseal(sealed); !errors.Is(err, errdefs.ErrTokenInvalid) {
		t.Errorf("Unseal with rotated key error = %v, want token_invalid", err)
	}
}

func TestHashAndVerify(t *testing.T) {
	digest := Hash("worker-secret")
	if len(digest) != 64 {
		t.Errorf("Hash() length = %d, want 64 hex chars", len(digest))
	}
	if !VerifyHash("worker-secret", digest) {
		t.Error("VerifyHash() rejected the correct secret")
	}
	if VerifyHash("wrong-secret", digest) {
		t.Error("VerifyHash() accepted the wrong secret")
	}
}

func TestRandomToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := RandomToken(32)
		if err != nil {
			t.Fatalf("RandomToken() error = %v", err)
		}
		if len(tok) < 32 {
			t.Errorf("RandomToken(32) length = %d, want >= 32", len(tok))
		}
		if seen[tok] {
			t.Fatal("RandomToken() produced a duplicate")
		}
		seen[tok] = true
	}
}
