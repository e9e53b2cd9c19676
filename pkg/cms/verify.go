package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"hash"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"golang.org/x/crypto/sha3"
)

// DigestOID maps a crypto.Hash to its algorithm OID.
func DigestOID(alg crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch alg {
	case crypto.SHA1:
		return OIDSHA1, nil
	case crypto.SHA256:
		return OIDSHA256, nil
	case crypto.SHA384:
		return OIDSHA384, nil
	case crypto.SHA512:
		return OIDSHA512, nil
	case crypto.SHA3_256:
		return OIDSHA3_256, nil
	case crypto.SHA3_384:
		return OIDSHA3_384, nil
	case crypto.SHA3_512:
		return OIDSHA3_512, nil
	default:
		return nil, fmt.Errorf("cms: unsupported digest algorithm %v", alg)
	}
}

// DigestByOID maps an algorithm OID to crypto.Hash.
func DigestByOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA1):
		return crypto.SHA1, nil
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	case oid.Equal(OIDSHA3_256):
		return crypto.SHA3_256, nil
	case oid.Equal(OIDSHA3_384):
		return crypto.SHA3_384, nil
	case oid.Equal(OIDSHA3_512):
		return crypto.SHA3_512, nil
	default:
		return 0, fmt.Errorf("cms: unsupported digest algorithm %v", oid)
	}
}

// NewDigest returns a hash.Hash for the given algorithm. SHA-3 goes through
// x/crypto/sha3 so the hashes need not be registered via crypto.RegisterHash.
func NewDigest(alg crypto.Hash) (hash.Hash, error) {
	switch alg {
	case crypto.SHA1:
		return sha1.New(), nil
	case crypto.SHA256:
		return sha256.New(), nil
	case crypto.SHA384:
		return sha512.New384(), nil
	case crypto.SHA512:
		return sha512.New(), nil
	case crypto.SHA3_256:
		return sha3.New256(), nil
	case crypto.SHA3_384:
		return sha3.New384(), nil
	case crypto.SHA3_512:
		return sha3.New512(), nil
	default:
		return nil, fmt.Errorf("cms: unsupported digest algorithm %v", alg)
	}
}

func computeDigest(data []byte, alg crypto.Hash) ([]byte, error) {
	h, err := NewDigest(alg)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// VerifySignerInfo verifies a SignerInfo's signature over the encapsulated
// content using the given certificate. When signed attributes are present,
// the message-digest attribute is checked against the content and the
// signature covers the DER SET OF attributes; otherwise the signature covers
// the content directly.
func VerifySignerInfo(si *SignerInfo, content []byte, cert *x509.Certificate) error {
	hashAlg, err := DigestByOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}

	signed := content
	if len(si.SignedAttrs) > 0 {
		contentDigest, err := computeDigest(content, hashAlg)
		if err != nil {
			return err
		}

		mdAttr := FindAttribute(si.SignedAttrs, OIDMessageDigest)
		if mdAttr == nil {
			return fmt.Errorf("cms: no message-digest attribute in signed attributes")
		}
		var md []byte
		if _, err := asn1.Unmarshal(mdAttr.FullBytes, &md); err != nil {
			return fmt.Errorf("cms: failed to parse message-digest attribute: %w", err)
		}
		if !bytes.Equal(md, contentDigest) {
			return fmt.Errorf("cms: message digest does not match content")
		}

		signed, err = MarshalSignedAttrs(si.SignedAttrs)
		if err != nil {
			return fmt.Errorf("cms: failed to marshal signed attributes: %w", err)
		}
	}

	return verifySignature(signed, si.Signature, cert, hashAlg, si.SignatureAlgorithm)
}

func verifySignature(message, signature []byte, cert *x509.Certificate, hashAlg crypto.Hash, sigAlg pkix.AlgorithmIdentifier) error {
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		digest, err := computeDigest(message, hashAlg)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(pub, digest, signature) {
			return fmt.Errorf("cms: ECDSA signature verification failed")
		}
		return nil

	case ed25519.PublicKey:
		if !ed25519.Verify(pub, message, signature) {
			return fmt.Errorf("cms: Ed25519 signature verification failed")
		}
		return nil

	case *rsa.PublicKey:
		digest, err := computeDigest(message, hashAlg)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(pub, hashAlg, digest, signature); err != nil {
			return fmt.Errorf("cms: RSA signature verification failed: %w", err)
		}
		return nil

	default:
		return verifyMLDSA(cert, message, signature, sigAlg.Algorithm)
	}
}

// verifyMLDSA verifies an ML-DSA signature. The standard library does not
// parse ML-DSA SubjectPublicKeyInfo, so the raw SPKI is decoded here and the
// key reconstructed through circl.
func verifyMLDSA(cert *x509.Certificate, message, signature []byte, sigAlgOID asn1.ObjectIdentifier) error {
	scheme := mldsaScheme(sigAlgOID)
	if scheme == nil {
		return fmt.Errorf("cms: unsupported signature algorithm %v for key type %T", sigAlgOID, cert.PublicKey)
	}

	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki); err != nil {
		return fmt.Errorf("cms: failed to parse SubjectPublicKeyInfo: %w", err)
	}
	if !spki.Algorithm.Algorithm.Equal(sigAlgOID) {
		return fmt.Errorf("cms: signature algorithm %v does not match key algorithm %v",
			sigAlgOID, spki.Algorithm.Algorithm)
	}

	pub, err := scheme.UnmarshalBinaryPublicKey(spki.PublicKey.RightAlign())
	if err != nil {
		return fmt.Errorf("cms: failed to parse ML-DSA public key: %w", err)
	}
	if !scheme.Verify(pub, message, signature, nil) {
		return fmt.Errorf("cms: ML-DSA signature verification failed")
	}
	return nil
}

func mldsaScheme(oid asn1.ObjectIdentifier) sign.Scheme {
	switch {
	case oid.Equal(OIDMLDSA44):
		return mldsa44.Scheme()
	case oid.Equal(OIDMLDSA65):
		return mldsa65.Scheme()
	case oid.Equal(OIDMLDSA87):
		return mldsa87.Scheme()
	default:
		return nil
	}
}
