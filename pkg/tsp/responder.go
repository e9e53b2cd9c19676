package tsp

import (
	"encoding/asn1"
	"errors"
)

// Responder turns DER-encoded requests into DER-encoded responses. Parse
// and policy failures produce rejection responses rather than errors; an
// error return means no valid TimeStampResp could be produced at all.
type Responder struct {
	// Config supplies the signing material and token parameters.
	Config *TokenConfig

	// Serials allocates token serial numbers. Defaults to
	// RandomSerialGenerator.
	Serials SerialGenerator

	// AcceptedPolicies restricts the policy OIDs honored in requests.
	// Empty means any requested policy is accepted.
	AcceptedPolicies []asn1.ObjectIdentifier
}

// Respond processes a single timestamp request and returns the DER-encoded
// response.
func (r *Responder) Respond(reqDER []byte) ([]byte, error) {
	resp := r.respond(reqDER)
	return resp.Marshal()
}

func (r *Responder) respond(reqDER []byte) *Response {
	req, err := ParseRequest(reqDER)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedAlgorithm):
			return NewRejectionResponse(FailBadAlg, "unsupported digest algorithm")
		case errors.Is(err, ErrInvalidDigestLength):
			return NewRejectionResponse(FailBadDataFormat, "digest length does not match algorithm")
		default:
			return NewRejectionResponse(FailBadDataFormat, "malformed timestamp request")
		}
	}

	if len(r.AcceptedPolicies) > 0 && len(req.Policy) > 0 && !r.policyAccepted(req.Policy) {
		return NewRejectionResponse(FailUnacceptedPolicy, "requested policy not supported")
	}

	cfg := *r.Config
	if len(req.Policy) > 0 {
		cfg.Policy = req.Policy
	}

	serials := r.Serials
	if serials == nil {
		serials = &RandomSerialGenerator{}
	}

	token, err := CreateToken(req, &cfg, serials)
	if err != nil {
		return NewRejectionResponse(FailSystemFailure, "token generation failed")
	}
	return NewGrantedResponse(token)
}

func (r *Responder) policyAccepted(policy asn1.ObjectIdentifier) bool {
	for _, p := range r.AcceptedPolicies {
		if p.Equal(policy) {
			return true
		}
	}
	return false
}
