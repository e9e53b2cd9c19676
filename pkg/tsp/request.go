package tsp

import (
	"crypto/rand"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
)

// timeStampReq is the wire form of TimeStampReq (RFC 3161 Section 2.4.1).
type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []pkix.Extension      `asn1:"optional,tag:0"`
}

// messageImprint is the wire form of MessageImprint.
type messageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// MessageImprint is the (algorithm, digest) pair identifying what was
// timestamped.
type MessageImprint struct {
	HashAlgorithm asn1.ObjectIdentifier
	HashedMessage []byte
}

// Request represents a timestamp request. Construct with NewRequest; the
// struct is not mutated after construction and Marshal emits the exact DER
// bytes to transmit.
type Request struct {
	HashAlgorithm DigestAlgorithm
	HashedMessage []byte

	// Policy is the TSA policy OID under which the token should be issued,
	// or nil for the TSA's default.
	Policy asn1.ObjectIdentifier

	// Nonce binds the response to this request. Generated by NewRequest
	// when RequestOptions.Nonce is set; kept here for echo verification.
	Nonce *big.Int

	// CertReq asks the TSA to embed its signing certificate in the token.
	CertReq bool
}

// RequestOptions controls optional TimeStampReq fields.
type RequestOptions struct {
	// Policy requests a specific TSA policy OID.
	Policy asn1.ObjectIdentifier

	// Nonce requests generation of a random nonce (at least 64 bits,
	// crypto/rand) to bind the response to this request.
	Nonce bool

	// CertReq asks the TSA to return its signing certificate chain.
	CertReq bool
}

// NewRequest builds a TimeStampReq for an already-computed digest. The
// digest length must match the algorithm's expected length exactly; there
// is no hex or textual convention involved.
func NewRequest(digest []byte, alg DigestAlgorithm, opts RequestOptions) (*Request, error) {
	if !alg.Valid() {
		return nil, opErrf("request", ErrUnsupportedAlgorithm, "%d", int(alg))
	}
	if len(digest) != alg.Size() {
		return nil, opErrf("request", ErrInvalidDigestLength,
			"got %d bytes, %s expects %d", len(digest), alg, alg.Size())
	}

	req := &Request{
		HashAlgorithm: alg,
		HashedMessage: append([]byte(nil), digest...),
		Policy:        opts.Policy,
		CertReq:       opts.CertReq,
	}

	if opts.Nonce {
		nonce, err := GenerateNonce()
		if err != nil {
			return nil, opErr("request", err)
		}
		req.Nonce = nonce
	}
	return req, nil
}

// GenerateNonce returns a cryptographically random positive integer of at
// least 64 bits.
func GenerateNonce() (*big.Int, error) {
	// 16 bytes with a forced high bit: always a positive 128-bit value.
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	buf[0] |= 0x80
	return new(big.Int).SetBytes(buf), nil
}

// Marshal encodes the request as DER.
func (r *Request) Marshal() ([]byte, error) {
	der, err := asn1.Marshal(timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: r.HashAlgorithm.algorithmIdentifier(),
			HashedMessage: r.HashedMessage,
		},
		ReqPolicy: r.Policy,
		Nonce:     r.Nonce,
		CertReq:   r.CertReq,
	})
	if err != nil {
		return nil, opErr("request", err)
	}
	return der, nil
}

// ParseRequest parses a DER-encoded TimeStampReq, validating the version,
// the digest algorithm, and the digest length against the algorithm.
func ParseRequest(data []byte) (*Request, error) {
	if err := CheckDER(data); err != nil {
		return nil, err
	}

	var req timeStampReq
	rest, err := asn1.Unmarshal(data, &req)
	if err != nil {
		return nil, opErrf("request", ErrMalformedEncoding, "%v", err)
	}
	if len(rest) > 0 {
		return nil, opErrf("request", ErrMalformedEncoding, "trailing data after TimeStampReq")
	}
	if req.Version != 1 {
		return nil, opErrf("request", ErrMalformedEncoding, "unsupported version %d", req.Version)
	}

	alg, err := DigestAlgorithmByOID(req.MessageImprint.HashAlgorithm.Algorithm)
	if err != nil {
		return nil, err
	}
	if len(req.MessageImprint.HashedMessage) != alg.Size() {
		return nil, opErrf("request", ErrInvalidDigestLength,
			"got %d bytes, %s expects %d",
			len(req.MessageImprint.HashedMessage), alg, alg.Size())
	}

	return &Request{
		HashAlgorithm: alg,
		HashedMessage: req.MessageImprint.HashedMessage,
		Policy:        req.ReqPolicy,
		Nonce:         req.Nonce,
		CertReq:       req.CertReq,
	}, nil
}
