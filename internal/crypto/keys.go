// Package crypto loads the signing material used by the TSA responder:
// software keys from PEM files and hardware keys behind PKCS#11.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// ResolvePassphrase resolves a passphrase reference. The "env:NAME" form
// reads the value from the environment; anything else is taken literally.
func ResolvePassphrase(passphrase string) []byte {
	if passphrase == "" {
		return nil
	}
	if len(passphrase) > 4 && passphrase[:4] == "env:" {
		return []byte(os.Getenv(passphrase[4:]))
	}
	return []byte(passphrase)
}

// LoadSigner loads a private key from a PEM file. Supported blocks are
// PKCS#8 (PRIVATE KEY), SEC1 (EC PRIVATE KEY), PKCS#1 (RSA PRIVATE KEY)
// and the ML-DSA seed forms. Legacy encrypted PEM blocks are decrypted
// with the passphrase.
func LoadSigner(path string, passphrase []byte) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("%s: key is encrypted, passphrase required", path)
		}
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%s: failed to decrypt key: %w", path, err)
		}
	}

	switch block.Type {
	case "PRIVATE KEY":
		priv, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to parse PKCS#8 key: %w", path, err)
		}
		return asSigner(priv)
	case "EC PRIVATE KEY":
		priv, err := x509.ParseECPrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to parse EC key: %w", path, err)
		}
		return priv, nil
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to parse RSA key: %w", path, err)
		}
		return priv, nil
	case "ML-DSA-44 PRIVATE KEY", "ML-DSA-65 PRIVATE KEY", "ML-DSA-87 PRIVATE KEY":
		return parseMLDSAKey(block.Type, keyBytes)
	default:
		return nil, fmt.Errorf("%s: unsupported PEM block type %q", path, block.Type)
	}
}

func asSigner(priv interface{}) (crypto.Signer, error) {
	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		return k, nil
	case *rsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	case crypto.Signer:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", priv)
	}
}

// parseMLDSAKey unpacks a raw ML-DSA private key from its PEM payload.
func parseMLDSAKey(pemType string, keyBytes []byte) (crypto.Signer, error) {
	switch pemType {
	case "ML-DSA-44 PRIVATE KEY":
		if len(keyBytes) != mldsa44.PrivateKeySize {
			return nil, fmt.Errorf("ML-DSA-44 key has %d bytes, want %d", len(keyBytes), mldsa44.PrivateKeySize)
		}
		var key mldsa44.PrivateKey
		if err := key.UnmarshalBinary(keyBytes); err != nil {
			return nil, fmt.Errorf("failed to parse ML-DSA-44 key: %w", err)
		}
		return &key, nil
	case "ML-DSA-65 PRIVATE KEY":
		if len(keyBytes) != mldsa65.PrivateKeySize {
			return nil, fmt.Errorf("ML-DSA-65 key has %d bytes, want %d", len(keyBytes), mldsa65.PrivateKeySize)
		}
		var key mldsa65.PrivateKey
		if err := key.UnmarshalBinary(keyBytes); err != nil {
			return nil, fmt.Errorf("failed to parse ML-DSA-65 key: %w", err)
		}
		return &key, nil
	case "ML-DSA-87 PRIVATE KEY":
		if len(keyBytes) != mldsa87.PrivateKeySize {
			return nil, fmt.Errorf("ML-DSA-87 key has %d bytes, want %d", len(keyBytes), mldsa87.PrivateKeySize)
		}
		var key mldsa87.PrivateKey
		if err := key.UnmarshalBinary(keyBytes); err != nil {
			return nil, fmt.Errorf("failed to parse ML-DSA-87 key: %w", err)
		}
		return &key, nil
	}
	return nil, fmt.Errorf("unsupported ML-DSA PEM type %q", pemType)
}
