package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

func writeKeyPEM(t *testing.T, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// =============================================================================
// LoadSigner Tests
// =============================================================================

func TestU_LoadSigner_PKCS8_EC(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	path := writeKeyPEM(t, "PRIVATE KEY", der)

	signer, err := LoadSigner(path, nil)
	if err != nil {
		t.Fatalf("LoadSigner() error = %v", err)
	}
	if _, ok := signer.Public().(*ecdsa.PublicKey); !ok {
		t.Errorf("public key type = %T, want *ecdsa.PublicKey", signer.Public())
	}
}

func TestU_LoadSigner_SEC1(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}
	path := writeKeyPEM(t, "EC PRIVATE KEY", der)

	if _, err := LoadSigner(path, nil); err != nil {
		t.Errorf("LoadSigner() error = %v", err)
	}
}

func TestU_LoadSigner_Ed25519(t *testing.T) {
	_, key, _ := ed25519.GenerateKey(rand.Reader)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	path := writeKeyPEM(t, "PRIVATE KEY", der)

	signer, err := LoadSigner(path, nil)
	if err != nil {
		t.Fatalf("LoadSigner() error = %v", err)
	}
	if _, ok := signer.Public().(ed25519.PublicKey); !ok {
		t.Errorf("public key type = %T, want ed25519.PublicKey", signer.Public())
	}
}

func TestU_LoadSigner_MLDSA(t *testing.T) {
	_, key, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	raw, err := key.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	path := writeKeyPEM(t, "ML-DSA-65 PRIVATE KEY", raw)

	signer, err := LoadSigner(path, nil)
	if err != nil {
		t.Fatalf("LoadSigner() error = %v", err)
	}
	if _, ok := signer.Public().(*mldsa65.PublicKey); !ok {
		t.Errorf("public key type = %T, want *mldsa65.PublicKey", signer.Public())
	}
}

func TestU_LoadSigner_MLDSA_WrongLength(t *testing.T) {
	path := writeKeyPEM(t, "ML-DSA-65 PRIVATE KEY", []byte{1, 2, 3})
	if _, err := LoadSigner(path, nil); err == nil {
		t.Error("LoadSigner() accepted a truncated ML-DSA key")
	}
}

func TestU_LoadSigner_UnsupportedType(t *testing.T) {
	path := writeKeyPEM(t, "OPENSSH PRIVATE KEY", []byte{1, 2, 3})
	if _, err := LoadSigner(path, nil); err == nil {
		t.Error("LoadSigner() accepted an unsupported PEM type")
	}
}

func TestU_LoadSigner_NotPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(path, []byte("not pem at all"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadSigner(path, nil); err == nil {
		t.Error("LoadSigner() accepted non-PEM input")
	}
}

func TestU_LoadSigner_Encrypted(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	der, _ := x509.MarshalECPrivateKey(key)
	block, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", der, []byte("secret"), x509.PEMCipherAES256) //nolint:staticcheck
	if err != nil {
		t.Fatalf("EncryptPEMBlock() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "enc.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := LoadSigner(path, nil); err == nil {
		t.Error("LoadSigner() read an encrypted key without a passphrase")
	}
	if _, err := LoadSigner(path, []byte("wrong")); err == nil {
		t.Error("LoadSigner() accepted a wrong passphrase")
	}
	if _, err := LoadSigner(path, []byte("secret")); err != nil {
		t.Errorf("LoadSigner() with correct passphrase error = %v", err)
	}
}

// =============================================================================
// Passphrase Tests
// =============================================================================

func TestU_ResolvePassphrase(t *testing.T) {
	t.Setenv("TSP_TEST_PASSPHRASE", "from-env")

	if got := ResolvePassphrase(""); got != nil {
		t.Errorf("ResolvePassphrase(\"\") = %q, want nil", got)
	}
	if got := ResolvePassphrase("literal"); string(got) != "literal" {
		t.Errorf("ResolvePassphrase(literal) = %q", got)
	}
	if got := ResolvePassphrase("env:TSP_TEST_PASSPHRASE"); string(got) != "from-env" {
		t.Errorf("ResolvePassphrase(env:...) = %q", got)
	}
}
