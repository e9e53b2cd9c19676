package cms

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// ContentInfo is the top-level CMS structure (RFC 5652 Section 3).
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// SignedData represents CMS SignedData (RFC 5652 Section 5).
type SignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     asn1.RawValue   `asn1:"optional,tag:0"`
	CRLs             []asn1.RawValue `asn1:"optional,set,tag:1"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// EncapsulatedContentInfo holds the content being signed (RFC 5652 Section 5.2).
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// SignerInfo contains one signature over the content (RFC 5652 Section 5.3).
// The SID is always issuerAndSerialNumber; subjectKeyIdentifier signers are
// out of scope for timestamp tokens.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,tag:1"`
}

// IssuerAndSerialNumber identifies a certificate by issuer DN and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute is a CMS attribute (RFC 5652 Section 5.3).
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// NewAttribute creates an attribute with a single DER-encoded value.
func NewAttribute(oid asn1.ObjectIdentifier, value interface{}) (Attribute, error) {
	encoded, err := asn1.Marshal(value)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{
		Type:   oid,
		Values: []asn1.RawValue{{FullBytes: encoded}},
	}, nil
}

// NewContentTypeAttr creates a content-type attribute.
func NewContentTypeAttr(contentType asn1.ObjectIdentifier) (Attribute, error) {
	return NewAttribute(OIDContentType, contentType)
}

// NewMessageDigestAttr creates a message-digest attribute.
func NewMessageDigestAttr(digest []byte) (Attribute, error) {
	return NewAttribute(OIDMessageDigest, digest)
}

// NewSigningTimeAttr creates a signing-time attribute.
func NewSigningTimeAttr(t time.Time) (Attribute, error) {
	return NewAttribute(OIDSigningTime, t.UTC())
}

// FindAttribute returns the first value of the attribute with the given type,
// or nil if absent.
func FindAttribute(attrs []Attribute, oid asn1.ObjectIdentifier) *asn1.RawValue {
	for i := range attrs {
		if attrs[i].Type.Equal(oid) && len(attrs[i].Values) > 0 {
			return &attrs[i].Values[0]
		}
	}
	return nil
}

// MarshalSignedAttrs DER-encodes signed attributes for signing or signature
// verification. Per RFC 5652 Section 5.4 the attributes are signed as an
// explicit SET OF, not with the IMPLICIT [0] tag they carry inside SignerInfo.
func MarshalSignedAttrs(attrs []Attribute) ([]byte, error) {
	encoded, err := asn1.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	// Replace the SEQUENCE tag (0x30) with the SET tag (0x31).
	if len(encoded) > 0 && encoded[0] == 0x30 {
		encoded[0] = 0x31
	}
	return encoded, nil
}

// Parse parses a DER-encoded ContentInfo wrapping SignedData.
func Parse(data []byte) (*SignedData, error) {
	var contentInfo ContentInfo
	rest, err := asn1.Unmarshal(data, &contentInfo)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to parse ContentInfo: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("cms: trailing data after ContentInfo")
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("cms: unexpected content type %v", contentInfo.ContentType)
	}

	var sd SignedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("cms: failed to parse SignedData: %w", err)
	}
	if len(sd.SignerInfos) == 0 {
		return nil, fmt.Errorf("cms: no signer info in SignedData")
	}
	return &sd, nil
}

// ContentBytes returns the encapsulated content. The eContent is an OCTET
// STRING; some producers nest an extra OCTET STRING inside, which is
// unwrapped here for compatibility.
func (sd *SignedData) ContentBytes() []byte {
	ec := sd.EncapContentInfo.EContent
	if ec.Tag == asn1.TagOctetString && ec.Class == asn1.ClassUniversal {
		return ec.Bytes
	}
	var inner []byte
	if _, err := asn1.Unmarshal(ec.Bytes, &inner); err == nil {
		return inner
	}
	return ec.Bytes
}

// ParseCertificates parses the certificates embedded in the SignedData.
// The certificates field is an IMPLICIT [0] SET whose contents are a
// concatenation of DER certificates.
func (sd *SignedData) ParseCertificates() ([]*x509.Certificate, error) {
	if len(sd.Certificates.Bytes) == 0 {
		return nil, nil
	}
	certs, err := x509.ParseCertificates(sd.Certificates.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to parse certificates: %w", err)
	}
	return certs, nil
}

// SignerCertificate returns the embedded certificate matching the signer's
// issuer and serial number, or nil when no embedded certificate matches.
func (sd *SignedData) SignerCertificate(si *SignerInfo, certs []*x509.Certificate) *x509.Certificate {
	for _, cert := range certs {
		if cert.SerialNumber.Cmp(si.SID.SerialNumber) == 0 &&
			bytes.Equal(cert.RawIssuer, si.SID.Issuer.FullBytes) {
			return cert
		}
	}
	// Fall back to serial-only matching; some TSAs re-encode the issuer DN.
	for _, cert := range certs {
		if cert.SerialNumber.Cmp(si.SID.SerialNumber) == 0 {
			return cert
		}
	}
	return nil
}
