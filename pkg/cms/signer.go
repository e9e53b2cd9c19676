package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// SignerConfig contains options for creating a SignedData.
type SignerConfig struct {
	Certificate  *x509.Certificate
	Signer       crypto.Signer
	DigestAlg    crypto.Hash
	IncludeCerts bool
	SigningTime  time.Time
	ContentType  asn1.ObjectIdentifier
	// ExtraCerts are additional chain certificates to embed alongside the
	// signing certificate when IncludeCerts is set.
	ExtraCerts []*x509.Certificate
}

// Sign wraps content in a CMS SignedData with signed attributes
// (content-type, message-digest, signing-time) and returns the DER-encoded
// ContentInfo.
func Sign(content []byte, config *SignerConfig) ([]byte, error) {
	if config.Certificate == nil {
		return nil, fmt.Errorf("cms: certificate is required")
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("cms: signer is required")
	}
	if config.DigestAlg == 0 {
		config.DigestAlg = crypto.SHA256
	}
	if config.SigningTime.IsZero() {
		config.SigningTime = time.Now().UTC()
	}
	if len(config.ContentType) == 0 {
		config.ContentType = OIDData
	}

	digest, err := computeDigest(content, config.DigestAlg)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to compute digest: %w", err)
	}

	signedAttrs, err := buildSignedAttrs(config.ContentType, digest, config.SigningTime)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to build signed attributes: %w", err)
	}

	signedAttrsDER, err := MarshalSignedAttrs(signedAttrs)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to marshal signed attributes: %w", err)
	}

	signature, err := signData(signedAttrsDER, config.Signer, config.DigestAlg)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to sign: %w", err)
	}

	digestAlgID, err := digestAlgorithmIdentifier(config.DigestAlg)
	if err != nil {
		return nil, err
	}
	sigAlgID, err := signatureAlgorithmIdentifier(config.Signer.Public(), config.DigestAlg)
	if err != nil {
		return nil, err
	}

	signerInfo := SignerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: config.Certificate.RawIssuer},
			SerialNumber: config.Certificate.SerialNumber,
		},
		DigestAlgorithm:    digestAlgID,
		SignedAttrs:        signedAttrs,
		SignatureAlgorithm: sigAlgID,
		Signature:          signature,
	}

	signedData := SignedData{
		Version:          1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{digestAlgID},
		EncapContentInfo: EncapsulatedContentInfo{
			EContentType: config.ContentType,
			EContent: asn1.RawValue{
				Class: asn1.ClassUniversal,
				Tag:   asn1.TagOctetString,
				Bytes: content,
			},
		},
		SignerInfos: []SignerInfo{signerInfo},
	}

	if config.IncludeCerts {
		raw := append([]byte(nil), config.Certificate.Raw...)
		for _, c := range config.ExtraCerts {
			raw = append(raw, c.Raw...)
		}
		signedData.Certificates = asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      raw,
		}
	}

	signedDataDER, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to marshal SignedData: %w", err)
	}

	contentInfo := ContentInfo{
		ContentType: OIDSignedData,
		Content: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      signedDataDER,
		},
	}
	return asn1.Marshal(contentInfo)
}

func buildSignedAttrs(contentType asn1.ObjectIdentifier, digest []byte, signingTime time.Time) ([]Attribute, error) {
	ctAttr, err := NewContentTypeAttr(contentType)
	if err != nil {
		return nil, err
	}
	mdAttr, err := NewMessageDigestAttr(digest)
	if err != nil {
		return nil, err
	}
	stAttr, err := NewSigningTimeAttr(signingTime)
	if err != nil {
		return nil, err
	}
	return []Attribute{ctAttr, mdAttr, stAttr}, nil
}

// signData signs a message with the appropriate pre-hashing convention for
// the key type. ECDSA and RSA sign a digest; Ed25519 and ML-DSA take the
// full message.
func signData(message []byte, signer crypto.Signer, hashAlg crypto.Hash) ([]byte, error) {
	switch signer.Public().(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
		digest, err := computeDigest(message, hashAlg)
		if err != nil {
			return nil, err
		}
		return signer.Sign(rand.Reader, digest, hashAlg)
	case ed25519.PublicKey:
		return signer.Sign(rand.Reader, message, crypto.Hash(0))
	case *mldsa44.PublicKey, *mldsa65.PublicKey, *mldsa87.PublicKey:
		// ML-DSA hashes internally (FIPS 204 pure mode).
		return signer.Sign(rand.Reader, message, crypto.Hash(0))
	default:
		return nil, fmt.Errorf("cms: unsupported signer key type %T", signer.Public())
	}
}

func digestAlgorithmIdentifier(alg crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	oid, err := DigestOID(alg)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, err
	}
	return pkix.AlgorithmIdentifier{Algorithm: oid}, nil
}

var ecdsaSignatureOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:     OIDECDSAWithSHA1,
	crypto.SHA256:   OIDECDSAWithSHA256,
	crypto.SHA384:   OIDECDSAWithSHA384,
	crypto.SHA512:   OIDECDSAWithSHA512,
	crypto.SHA3_256: OIDECDSAWithSHA3_256,
	crypto.SHA3_384: OIDECDSAWithSHA3_384,
	crypto.SHA3_512: OIDECDSAWithSHA3_512,
}

var rsaSignatureOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:     OIDSHA1WithRSA,
	crypto.SHA256:   OIDSHA256WithRSA,
	crypto.SHA384:   OIDSHA384WithRSA,
	crypto.SHA512:   OIDSHA512WithRSA,
	crypto.SHA3_256: OIDSHA3_256WithRSA,
	crypto.SHA3_384: OIDSHA3_384WithRSA,
	crypto.SHA3_512: OIDSHA3_512WithRSA,
}

// signatureAlgorithmIdentifier returns the signature algorithm advertised in
// SignerInfo for the given key type and digest. Unmapped combinations are
// rejected rather than mislabeled.
func signatureAlgorithmIdentifier(pub crypto.PublicKey, hashAlg crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		oid, ok := ecdsaSignatureOIDs[hashAlg]
		if !ok {
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("cms: no ECDSA signature algorithm for digest %v", hashAlg)
		}
		return pkix.AlgorithmIdentifier{Algorithm: oid}, nil
	case ed25519.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDEd25519}, nil
	case *rsa.PublicKey:
		oid, ok := rsaSignatureOIDs[hashAlg]
		if !ok {
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("cms: no RSA signature algorithm for digest %v", hashAlg)
		}
		return pkix.AlgorithmIdentifier{Algorithm: oid}, nil
	case *mldsa44.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMLDSA44}, nil
	case *mldsa65.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMLDSA65}, nil
	case *mldsa87.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMLDSA87}, nil
	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("cms: unsupported public key type %T", pub)
	}
}
