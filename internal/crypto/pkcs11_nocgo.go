//go:build !cgo

package crypto

import (
	"crypto"
	"fmt"
	"io"
)

// PKCS11Config holds PKCS#11 configuration for the TSA signing key.
type PKCS11Config struct {
	ModulePath  string
	TokenLabel  string
	TokenSerial string
	PIN         string
	KeyLabel    string
	KeyID       string
	SlotID      *uint
}

// PKCS11Signer is a stub used when CGO is not available. HSM support
// requires CGO.
type PKCS11Signer struct{}

var errNoCGO = fmt.Errorf("HSM support requires CGO (build with CGO_ENABLED=1)")

// NewPKCS11Signer returns an error when CGO is not available.
func NewPKCS11Signer(_ PKCS11Config) (*PKCS11Signer, error) {
	return nil, errNoCGO
}

// Public returns the public key.
func (s *PKCS11Signer) Public() crypto.PublicKey { return nil }

// Sign signs the digest using the HSM.
func (s *PKCS11Signer) Sign(_ io.Reader, _ []byte, _ crypto.SignerOpts) ([]byte, error) {
	return nil, errNoCGO
}

// Close releases the session.
func (s *PKCS11Signer) Close() error { return nil }
