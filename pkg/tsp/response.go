package tsp

import (
	"encoding/asn1"
	"fmt"
)

// PKIStatus values (RFC 3161 Section 2.4.2).
const (
	StatusGranted                = 0
	StatusGrantedWithMods        = 1
	StatusRejection              = 2
	StatusWaiting                = 3
	StatusRevocationWarning      = 4
	StatusRevocationNotification = 5
)

// PKIFailureInfo bit positions (RFC 3161 Section 2.4.2).
const (
	FailBadAlg              = 0  // unrecognized or unsupported algorithm
	FailBadRequest          = 2  // transaction not permitted or supported
	FailBadDataFormat       = 5  // the data submitted has the wrong format
	FailTimeNotAvailable    = 14 // TSA's time source is not available
	FailUnacceptedPolicy    = 15 // the requested policy is not supported
	FailUnacceptedExtension = 16 // the requested extension is not supported
	FailAddInfoNotAvailable = 17 // requested additional info unavailable
	FailSystemFailure       = 25 // system failure
)

// timeStampResp is the wire form of TimeStampResp (RFC 3161 Section 2.4.2).
type timeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo carries the status of the request (RFC 3161 Section 2.4.2).
type PKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// Response represents a parsed timestamp response.
type Response struct {
	Status PKIStatusInfo
	Token  *Token
}

// IsGranted reports whether the response carries a token.
func (r *Response) IsGranted() bool {
	return r.Status.Status == StatusGranted || r.Status.Status == StatusGrantedWithMods
}

// StatusString returns a human-readable status.
func (r *Response) StatusString() string {
	switch r.Status.Status {
	case StatusGranted:
		return "granted"
	case StatusGrantedWithMods:
		return "granted with modifications"
	case StatusRejection:
		return "rejection"
	case StatusWaiting:
		return "waiting"
	case StatusRevocationWarning:
		return "revocation warning"
	case StatusRevocationNotification:
		return "revocation notification"
	default:
		return fmt.Sprintf("unknown status %d", r.Status.Status)
	}
}

// FailureString returns a human-readable failure reason, or "" when the
// response carries none.
func (r *Response) FailureString() string {
	if r.Status.FailInfo.BitLength == 0 {
		if len(r.Status.StatusString) > 0 {
			return r.Status.StatusString[0]
		}
		return ""
	}
	for i := 0; i < r.Status.FailInfo.BitLength; i++ {
		if r.Status.FailInfo.At(i) != 0 {
			return failureInfoString(i)
		}
	}
	return "unknown failure"
}

func failureInfoString(bit int) string {
	switch bit {
	case FailBadAlg:
		return "unrecognized or unsupported algorithm"
	case FailBadRequest:
		return "transaction not permitted or supported"
	case FailBadDataFormat:
		return "data submitted has wrong format"
	case FailTimeNotAvailable:
		return "time source not available"
	case FailUnacceptedPolicy:
		return "requested policy not supported"
	case FailUnacceptedExtension:
		return "requested extension not supported"
	case FailAddInfoNotAvailable:
		return "additional information not available"
	case FailSystemFailure:
		return "system failure"
	default:
		return fmt.Sprintf("failure bit %d", bit)
	}
}

// ParseResponse parses a DER-encoded TimeStampResp. A rejected status
// yields ErrTSARejected and the payload is never interpreted as a token; a
// granted status without a usable token yields ErrTimestampNotFound.
func ParseResponse(data []byte) (*Response, error) {
	if err := CheckDER(data); err != nil {
		return nil, err
	}

	var resp timeStampResp
	rest, err := asn1.Unmarshal(data, &resp)
	if err != nil {
		return nil, opErrf("response", ErrMalformedEncoding, "%v", err)
	}
	if len(rest) > 0 {
		return nil, opErrf("response", ErrMalformedEncoding, "trailing data after TimeStampResp")
	}

	response := &Response{Status: resp.Status}
	if !response.IsGranted() {
		detail := response.FailureString()
		if detail == "" {
			detail = response.StatusString()
		}
		return response, opErrf("response", ErrTSARejected, "%s", detail)
	}

	if len(resp.TimeStampToken.FullBytes) == 0 {
		return response, opErrf("response", ErrTimestampNotFound, "granted response carries no token")
	}
	token, err := ParseToken(resp.TimeStampToken.FullBytes)
	if err != nil {
		return response, err
	}
	response.Token = token
	return response, nil
}

// NewGrantedResponse wraps a token in a granted TimeStampResp.
func NewGrantedResponse(token *Token) *Response {
	return &Response{
		Status: PKIStatusInfo{Status: StatusGranted},
		Token:  token,
	}
}

// NewRejectionResponse builds a rejection TimeStampResp with the given
// failure bit and optional status text.
func NewRejectionResponse(failInfo int, message string) *Response {
	status := PKIStatusInfo{Status: StatusRejection}
	if message != "" {
		status.StatusString = []string{message}
	}
	status.FailInfo = failInfoBitString(failInfo)
	return &Response{Status: status}
}

// failInfoBitString builds a BIT STRING with a single failure bit set.
func failInfoBitString(bit int) asn1.BitString {
	length := bit/8 + 1
	bytes := make([]byte, length)
	bytes[bit/8] = 1 << uint(7-bit%8)
	padding := (8 - (bit%8 + 1)) % 8
	return asn1.BitString{
		Bytes:     bytes,
		BitLength: length*8 - padding,
	}
}

// Marshal encodes the response as DER.
func (r *Response) Marshal() ([]byte, error) {
	resp := timeStampResp{Status: r.Status}
	if r.Token != nil && r.IsGranted() {
		resp.TimeStampToken = asn1.RawValue{FullBytes: r.Token.Raw}
	}
	der, err := asn1.Marshal(resp)
	if err != nil {
		return nil, opErr("response", err)
	}
	return der, nil
}
