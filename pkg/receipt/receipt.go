// Package receipt issues COSE_Sign1 receipts for verified timestamps.
//
// A receipt is a compact, CBOR-encoded attestation that a timestamp token
// was verified at a given time against a given trust configuration. It
// lets downstream systems rely on the verification outcome without
// re-parsing the DER token.
package receipt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	gocose "github.com/veraison/go-cose"

	"github.com/remiblancher/tsp/pkg/tsp"
)

// ContentType identifies the receipt payload in the COSE protected header.
const ContentType = "application/timestamp-receipt+cbor"

// Claims is the CBOR payload of a receipt. Integer keys follow the CWT
// convention (RFC 8392); timestamp-specific claims use private-use keys.
type Claims struct {
	Issuer      string `cbor:"1,keyasint,omitempty"`
	IssuedAt    int64  `cbor:"6,keyasint"`
	TokenSerial []byte `cbor:"-70001,keyasint"`
	GenTime     int64  `cbor:"-70002,keyasint"`
	Algorithm   string `cbor:"-70003,keyasint"`
	Imprint     []byte `cbor:"-70004,keyasint"`
	Policy      string `cbor:"-70005,keyasint,omitempty"`
	SignerCert  []byte `cbor:"-70006,keyasint,omitempty"` // SHA-256 fingerprint
}

// Config controls receipt issuance.
type Config struct {
	// Issuer names the party issuing the receipt.
	Issuer string

	// Signer signs the receipt. Required.
	Signer crypto.Signer

	// Certificate, when set, contributes its fingerprint as the COSE kid.
	Certificate *x509.Certificate

	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

// Issue signs a receipt for an accepted verification result.
func Issue(token *tsp.Token, result *tsp.VerifyResult, cfg *Config) ([]byte, error) {
	if cfg == nil || cfg.Signer == nil {
		return nil, fmt.Errorf("receipt: signer is required")
	}
	if result == nil || !result.Accepted {
		return nil, fmt.Errorf("receipt: only accepted verification results can be attested")
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	alg, err := token.HashAlgorithm()
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}

	claims := Claims{
		Issuer:      cfg.Issuer,
		IssuedAt:    now().UTC().Unix(),
		TokenSerial: result.SerialNumber.Bytes(),
		GenTime:     result.GenTime.Unix(),
		Algorithm:   alg.String(),
		Imprint:     token.Info.MessageImprint.HashedMessage,
	}
	if len(token.Info.Policy) > 0 {
		claims.Policy = token.Info.Policy.String()
	}
	if result.SignerCert != nil {
		fp := sha256.Sum256(result.SignerCert.Raw)
		claims.SignerCert = fp[:]
	}

	payload, err := cbor.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("receipt: failed to marshal claims: %w", err)
	}

	coseAlg, err := algorithmForKey(cfg.Signer.Public())
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}
	coseSigner, err := gocose.NewSigner(coseAlg, cfg.Signer)
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}

	msg := gocose.NewSign1Message()
	msg.Headers.Protected[gocose.HeaderLabelAlgorithm] = coseAlg
	msg.Headers.Protected[gocose.HeaderLabelContentType] = ContentType
	if cfg.Certificate != nil {
		fp := sha256.Sum256(cfg.Certificate.Raw)
		msg.Headers.Protected[gocose.HeaderLabelKeyID] = fp[:]
	}
	msg.Payload = payload

	if err := msg.Sign(nil, nil, coseSigner); err != nil {
		return nil, fmt.Errorf("receipt: failed to sign: %w", err)
	}
	return msg.MarshalCBOR()
}

// Verify checks a receipt's COSE signature against the issuer's public
// key and returns the decoded claims.
func Verify(data []byte, pub crypto.PublicKey) (*Claims, error) {
	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("receipt: invalid COSE message: %w", err)
	}

	coseAlg, err := algorithmForKey(pub)
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}
	verifier, err := gocose.NewVerifier(coseAlg, pub)
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("receipt: signature verification failed: %w", err)
	}

	var claims Claims
	if err := cbor.Unmarshal(msg.Payload, &claims); err != nil {
		return nil, fmt.Errorf("receipt: invalid claims: %w", err)
	}
	return &claims, nil
}

// algorithmForKey maps a public key to its COSE algorithm.
func algorithmForKey(pub crypto.PublicKey) (gocose.Algorithm, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return gocose.AlgorithmES256, nil
		case elliptic.P384():
			return gocose.AlgorithmES384, nil
		case elliptic.P521():
			return gocose.AlgorithmES512, nil
		}
		return 0, fmt.Errorf("unsupported ECDSA curve %s", k.Curve.Params().Name)
	case ed25519.PublicKey:
		return gocose.AlgorithmEdDSA, nil
	case *rsa.PublicKey:
		return gocose.AlgorithmPS256, nil
	default:
		return 0, fmt.Errorf("unsupported key type %T for receipts", pub)
	}
}
