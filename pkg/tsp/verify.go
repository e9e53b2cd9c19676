package tsp

import (
	"bytes"
	"crypto/x509"
	"math/big"
	"time"

	"github.com/remiblancher/tsp/pkg/cms"
)

// RejectionReason classifies why a token failed verification. These are
// verification outcomes, not protocol errors; a malformed token surfaces
// as an error instead.
type RejectionReason int

const (
	ReasonNone RejectionReason = iota
	ReasonDigestMismatch
	ReasonNonceMismatch
	ReasonSignatureInvalid
	ReasonChainUntrusted
)

// String returns a human-readable rejection reason.
func (r RejectionReason) String() string {
	switch r {
	case ReasonNone:
		return "accepted"
	case ReasonDigestMismatch:
		return "message imprint does not match"
	case ReasonNonceMismatch:
		return "nonce does not match"
	case ReasonSignatureInvalid:
		return "token signature is invalid"
	case ReasonChainUntrusted:
		return "signer chain is not trusted"
	default:
		return "unknown"
	}
}

// VerifyOptions control token verification.
type VerifyOptions struct {
	// Digest is the expected hashed message. Required.
	Digest []byte

	// Algorithm is the digest algorithm used to compute Digest. Required.
	Algorithm DigestAlgorithm

	// Nonce, when set, must be echoed by the token.
	Nonce *big.Int

	// Roots anchors the signer chain. Required.
	Roots *x509.CertPool

	// Intermediates supplement the certificates embedded in the token.
	Intermediates *x509.CertPool

	// CurrentTime overrides the chain validation time. Zero means the
	// token's own generation time is used.
	CurrentTime time.Time
}

// VerifyResult is the outcome of verifying a token. When Accepted is false,
// Reason names the first check that failed.
type VerifyResult struct {
	Accepted     bool
	Reason       RejectionReason
	GenTime      time.Time
	SerialNumber *big.Int
	SignerCert   *x509.Certificate
}

// Verify checks a token against the expected imprint, nonce, signature and
// trust anchors. Checks run in a fixed order and short-circuit: imprint,
// nonce, signature, chain. A structural defect (missing signer certificate,
// no trust roots) is an error; a failed check is a rejection.
func Verify(token *Token, opts VerifyOptions) (*VerifyResult, error) {
	if opts.Roots == nil {
		return nil, opErrf("verify", ErrCertificateRequired, "no trust roots")
	}
	if !opts.Algorithm.Valid() {
		return nil, opErr("verify", ErrUnsupportedAlgorithm)
	}

	result := &VerifyResult{
		GenTime:      token.Info.GenTime,
		SerialNumber: token.Info.SerialNumber,
	}

	alg, err := token.HashAlgorithm()
	if err != nil || alg != opts.Algorithm || !bytes.Equal(token.Info.MessageImprint.HashedMessage, opts.Digest) {
		result.Reason = ReasonDigestMismatch
		return result, nil
	}

	if opts.Nonce != nil {
		if token.Info.Nonce == nil || token.Info.Nonce.Cmp(opts.Nonce) != 0 {
			result.Reason = ReasonNonceMismatch
			return result, nil
		}
	}

	signerCert, err := token.signerCertificate()
	if err != nil {
		return nil, err
	}
	result.SignerCert = signerCert

	si := &token.signedData.SignerInfos[0]
	if err := cms.VerifySignerInfo(si, token.signedData.ContentBytes(), signerCert); err != nil {
		result.Reason = ReasonSignatureInvalid
		return result, nil
	}

	currentTime := opts.CurrentTime
	if currentTime.IsZero() {
		currentTime = token.Info.GenTime
	}
	intermediates := opts.Intermediates
	if intermediates == nil {
		intermediates = x509.NewCertPool()
	}
	for _, cert := range token.Certificates {
		if !cert.Equal(signerCert) {
			intermediates.AddCert(cert)
		}
	}
	_, err = signerCert.Verify(x509.VerifyOptions{
		Roots:         opts.Roots,
		Intermediates: intermediates,
		CurrentTime:   currentTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	})
	if err != nil {
		result.Reason = ReasonChainUntrusted
		return result, nil
	}

	result.Accepted = true
	return result, nil
}

// signerCertificate locates the certificate that produced the token's
// first SignerInfo among the embedded certificates.
func (t *Token) signerCertificate() (*x509.Certificate, error) {
	if len(t.signedData.SignerInfos) == 0 {
		return nil, opErrf("verify", ErrMalformedEncoding, "no signer info")
	}
	si := &t.signedData.SignerInfos[0]
	cert := t.signedData.SignerCertificate(si, t.Certificates)
	if cert == nil {
		return nil, opErrf("verify", ErrCertificateRequired, "signer certificate not embedded in token")
	}
	return cert, nil
}
