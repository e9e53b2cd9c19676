// Package tsp implements the RFC 3161 Time-Stamp Protocol: request
// construction, response parsing, and token verification against the binary
// DER wire format.
package tsp

import (
	"errors"
	"fmt"
)

// TSPError wraps an error with the operation that produced it.
// It supports errors.Is() and errors.As() through the error chain.
type TSPError struct {
	Op  string // Operation: "request", "response", "token", "verify", "transport"
	Err error
}

// Error implements the error interface.
func (e *TSPError) Error() string {
	return fmt.Sprintf("tsp %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TSPError) Unwrap() error { return e.Err }

func opErr(op string, err error) error {
	return &TSPError{Op: op, Err: err}
}

func opErrf(op string, sentinel error, format string, args ...interface{}) error {
	return &TSPError{Op: op, Err: fmt.Errorf("%w: "+format, append([]interface{}{sentinel}, args...)...)}
}

// Sentinel errors. Use errors.Is() to classify failures.
//
// Malformed-input errors (ErrInvalidDigestLength, ErrMalformedEncoding,
// ErrUnsupportedTimeFormat) indicate a programming or data error and must
// not be retried. Transport errors (ErrTransportFailure,
// ErrTransportTimeout) are retryable at the caller's discretion; the engine
// itself never retries.
var (
	// ErrInvalidDigestLength indicates the digest length does not match the
	// declared algorithm.
	ErrInvalidDigestLength = errors.New("digest length does not match algorithm")

	// ErrUnsupportedAlgorithm indicates an unknown or unsupported digest
	// algorithm identifier.
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

	// ErrMalformedEncoding indicates a DER structure that is truncated,
	// over-long, or otherwise not valid DER.
	ErrMalformedEncoding = errors.New("malformed DER encoding")

	// ErrUnsupportedTimeFormat indicates a GeneralizedTime that is not in
	// UTC (Z-suffixed) form.
	ErrUnsupportedTimeFormat = errors.New("unsupported time format")

	// ErrTSARejected indicates the TSA refused to issue a token. The
	// response payload must not be treated as a token.
	ErrTSARejected = errors.New("timestamp request rejected by TSA")

	// ErrTimestampNotFound indicates a granted response with no extractable
	// genTime.
	ErrTimestampNotFound = errors.New("no timestamp in response")

	// ErrTransportFailure indicates an HTTP-level failure talking to the
	// TSA (non-2xx status, empty body, wrong content type).
	ErrTransportFailure = errors.New("transport failure")

	// ErrTransportTimeout indicates the TSA exchange exceeded its deadline.
	ErrTransportTimeout = errors.New("transport timeout")

	// ErrNonceMismatch indicates a response whose nonce echo does not match
	// the request nonce.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrCertificateRequired indicates verification was attempted without
	// the certificate material it needs.
	ErrCertificateRequired = errors.New("certificate required for verification")
)
