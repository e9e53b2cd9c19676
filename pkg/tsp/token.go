package tsp

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/remiblancher/tsp/pkg/cms"
)

// tstInfo is the wire form of TSTInfo (RFC 3161 Section 2.4.2). GenTime is
// kept raw so the UTC-only GeneralizedTime rule can be enforced; the stdlib
// decoder accepts timezone offsets the protocol forbids.
type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        asn1.RawValue
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// Accuracy bounds the deviation of GenTime (RFC 3161 Section 2.4.2).
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// IsZero reports whether no accuracy was asserted.
func (a Accuracy) IsZero() bool {
	return a.Seconds == 0 && a.Millis == 0 && a.Micros == 0
}

// Duration returns the accuracy as a time.Duration.
func (a Accuracy) Duration() time.Duration {
	return time.Duration(a.Seconds)*time.Second +
		time.Duration(a.Millis)*time.Millisecond +
		time.Duration(a.Micros)*time.Microsecond
}

// TSTInfo is the decoded timestamp token info. Read-only after parsing.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time
	Accuracy       Accuracy
	Ordering       bool
	Nonce          *big.Int
	Extensions     []pkix.Extension
}

// Token is a parsed timestamp token: the TSTInfo plus the signature
// material needed to verify it without a second round trip.
type Token struct {
	Info *TSTInfo

	// Raw is the DER-encoded CMS ContentInfo carrying the token.
	Raw []byte

	// Certificates are the certificates the TSA embedded in the token.
	Certificates []*x509.Certificate

	signedData *cms.SignedData
}

// ParseToken parses a DER-encoded timestamp token (CMS SignedData wrapping
// a TSTInfo). Pure decode; signature checking happens in Verify.
func ParseToken(data []byte) (*Token, error) {
	if err := CheckDER(data); err != nil {
		return nil, err
	}

	sd, err := cms.Parse(data)
	if err != nil {
		return nil, opErrf("token", ErrMalformedEncoding, "%v", err)
	}
	if !sd.EncapContentInfo.EContentType.Equal(cms.OIDTSTInfo) {
		return nil, opErrf("token", ErrMalformedEncoding,
			"unexpected content type %v", sd.EncapContentInfo.EContentType)
	}

	content := sd.ContentBytes()
	if err := CheckDER(content); err != nil {
		return nil, err
	}

	var info tstInfo
	if _, err := asn1.Unmarshal(content, &info); err != nil {
		return nil, opErrf("token", ErrMalformedEncoding, "invalid TSTInfo: %v", err)
	}
	if len(info.GenTime.Bytes) == 0 {
		return nil, opErr("token", ErrTimestampNotFound)
	}
	genTime, err := parseGeneralizedTime(info.GenTime)
	if err != nil {
		return nil, err
	}
	if genTime.IsZero() {
		return nil, opErr("token", ErrTimestampNotFound)
	}

	certs, err := sd.ParseCertificates()
	if err != nil {
		return nil, opErrf("token", ErrMalformedEncoding, "%v", err)
	}

	return &Token{
		Info: &TSTInfo{
			Version: info.Version,
			Policy:  info.Policy,
			MessageImprint: MessageImprint{
				HashAlgorithm: info.MessageImprint.HashAlgorithm.Algorithm,
				HashedMessage: info.MessageImprint.HashedMessage,
			},
			SerialNumber: info.SerialNumber,
			GenTime:      genTime,
			Accuracy:     info.Accuracy,
			Ordering:     info.Ordering,
			Nonce:        info.Nonce,
			Extensions:   info.Extensions,
		},
		Raw:          data,
		Certificates: certs,
		signedData:   sd,
	}, nil
}

// GenTime returns the generation time asserted by the TSA.
func (t *Token) GenTime() time.Time {
	if t.Info == nil {
		return time.Time{}
	}
	return t.Info.GenTime
}

// SerialNumber returns the token serial number.
func (t *Token) SerialNumber() *big.Int {
	if t.Info == nil {
		return nil
	}
	return t.Info.SerialNumber
}

// HashAlgorithm returns the digest algorithm of the message imprint.
func (t *Token) HashAlgorithm() (DigestAlgorithm, error) {
	if t.Info == nil {
		return 0, opErr("token", ErrTimestampNotFound)
	}
	return DigestAlgorithmByOID(t.Info.MessageImprint.HashAlgorithm)
}

// HashedMessage returns the digest the TSA claims to have timestamped.
func (t *Token) HashedMessage() []byte {
	if t.Info == nil {
		return nil
	}
	return t.Info.MessageImprint.HashedMessage
}

// SerialGenerator produces unique token serial numbers.
type SerialGenerator interface {
	Next() (*big.Int, error)
}

// RandomSerialGenerator generates random 128-bit serial numbers.
type RandomSerialGenerator struct{}

// Next returns a random 128-bit serial number.
func (g *RandomSerialGenerator) Next() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, max)
}

// TokenConfig contains options for issuing a timestamp token.
type TokenConfig struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
	Policy      asn1.ObjectIdentifier
	Accuracy    Accuracy
	Ordering    bool

	// IncludeTSA embeds the TSA subject as the tsa GeneralName.
	IncludeTSA bool

	// ExtraCerts are chain certificates embedded alongside the signing
	// certificate when the request sets certReq.
	ExtraCerts []*x509.Certificate

	// Clock overrides the time source, for tests. Defaults to time.Now.
	Clock func() time.Time
}

// CreateToken issues a signed timestamp token answering req. The token
// echoes the request's message imprint and nonce; genTime is encoded as a
// UTC GeneralizedTime.
func CreateToken(req *Request, config *TokenConfig, serials SerialGenerator) (*Token, error) {
	if config.Certificate == nil {
		return nil, opErrf("token", ErrCertificateRequired, "no TSA certificate")
	}
	if config.Signer == nil {
		return nil, opErrf("token", ErrCertificateRequired, "no TSA signing key")
	}
	if len(config.Policy) == 0 {
		return nil, opErr("token", fmt.Errorf("policy OID is required"))
	}

	serial, err := serials.Next()
	if err != nil {
		return nil, opErr("token", err)
	}

	now := time.Now
	if config.Clock != nil {
		now = config.Clock
	}
	genTime := now().UTC().Truncate(time.Millisecond)

	info := tstInfo{
		Version: 1,
		Policy:  config.Policy,
		MessageImprint: messageImprint{
			HashAlgorithm: req.HashAlgorithm.algorithmIdentifier(),
			HashedMessage: req.HashedMessage,
		},
		SerialNumber: serial,
		GenTime:      marshalGeneralizedTime(genTime),
		Ordering:     config.Ordering,
		Nonce:        req.Nonce,
	}
	if !config.Accuracy.IsZero() {
		info.Accuracy = config.Accuracy
	}
	if config.IncludeTSA {
		// GeneralName CHOICE directoryName [4].
		info.TSA = asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        4,
			IsCompound: true,
			Bytes:      config.Certificate.RawSubject,
		}
	}

	infoDER, err := asn1.Marshal(info)
	if err != nil {
		return nil, opErr("token", err)
	}

	signedData, err := cms.Sign(infoDER, &cms.SignerConfig{
		Certificate:  config.Certificate,
		Signer:       config.Signer,
		DigestAlg:    req.HashAlgorithm.CryptoHash(),
		IncludeCerts: req.CertReq,
		ExtraCerts:   config.ExtraCerts,
		ContentType:  cms.OIDTSTInfo,
	})
	if err != nil {
		return nil, opErr("token", err)
	}

	return ParseToken(signedData)
}
