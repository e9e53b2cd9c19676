package tsp

import (
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// Response Tests
// =============================================================================

func TestU_Response_GrantedRoundTrip(t *testing.T) {
	tsa := newTestTSA(t)
	digest := sha256.Sum256([]byte("granted"))
	req, _ := NewRequest(digest[:], SHA256, RequestOptions{Nonce: true, CertReq: true})
	token := tsa.issue(t, req)

	der, err := NewGrantedResponse(token).Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	resp, err := ParseResponse(der)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if !resp.IsGranted() {
		t.Fatalf("Status = %d, want granted", resp.Status.Status)
	}
	if resp.Token == nil {
		t.Fatal("Expected a token in a granted response")
	}
	if resp.Token.Info.Nonce.Cmp(req.Nonce) != 0 {
		t.Error("Nonce lost in response round trip")
	}
}

func TestU_Response_Rejection(t *testing.T) {
	der, err := NewRejectionResponse(FailUnacceptedPolicy, "policy not supported").Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	resp, err := ParseResponse(der)
	if !errors.Is(err, ErrTSARejected) {
		t.Fatalf("Expected ErrTSARejected, got %v", err)
	}
	if resp == nil {
		t.Fatal("Expected the parsed response alongside the rejection error")
	}
	if resp.IsGranted() {
		t.Error("Rejection reported as granted")
	}
	if resp.StatusString() != "rejection" {
		t.Errorf("StatusString = %q, want %q", resp.StatusString(), "rejection")
	}
	if !strings.Contains(resp.FailureString(), "unacceptedPolicy") {
		t.Errorf("FailureString = %q, want unacceptedPolicy", resp.FailureString())
	}
}

func TestU_Response_FailInfoBits(t *testing.T) {
	bits := []int{FailBadAlg, FailBadRequest, FailBadDataFormat,
		FailTimeNotAvailable, FailUnacceptedPolicy, FailSystemFailure}
	for _, bit := range bits {
		bs := failInfoBitString(bit)
		if bs.BitLength != bit+1 {
			t.Errorf("bit %d: BitLength = %d, want %d", bit, bs.BitLength, bit+1)
		}
		if bs.At(bit) != 1 {
			t.Errorf("bit %d not set", bit)
		}
		for i := 0; i < bit; i++ {
			if bs.At(i) != 0 {
				t.Errorf("bit %d: stray bit %d set", bit, i)
			}
		}
	}
}

func TestU_Response_GrantedWithoutToken(t *testing.T) {
	der, _ := asn1.Marshal(timeStampResp{
		Status: PKIStatusInfo{Status: StatusGranted},
	})
	_, err := ParseResponse(der)
	if !errors.Is(err, ErrTimestampNotFound) {
		t.Errorf("Expected ErrTimestampNotFound, got %v", err)
	}
}

func TestU_Response_GrantedWithMods(t *testing.T) {
	tsa := newTestTSA(t)
	digest := sha256.Sum256([]byte("mods"))
	req, _ := NewRequest(digest[:], SHA256, RequestOptions{CertReq: true})
	token := tsa.issue(t, req)

	resp := NewGrantedResponse(token)
	resp.Status.Status = StatusGrantedWithMods
	der, _ := resp.Marshal()

	parsed, err := ParseResponse(der)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if !parsed.IsGranted() {
		t.Error("grantedWithModifiers should count as granted")
	}
}

func TestU_Response_Parse_Truncated(t *testing.T) {
	der, _ := NewRejectionResponse(FailBadRequest, "x").Marshal()
	_, err := ParseResponse(der[:len(der)-1])
	if !errors.Is(err, ErrMalformedEncoding) {
		t.Errorf("Expected ErrMalformedEncoding, got %v", err)
	}
}

// =============================================================================
// Responder Tests
// =============================================================================

func TestU_Responder_Granted(t *testing.T) {
	tsa := newTestTSA(t)
	responder := &Responder{Config: tsa.config}

	digest := sha256.Sum256([]byte("respond"))
	req, _ := NewRequest(digest[:], SHA256, RequestOptions{Nonce: true, CertReq: true})
	reqDER, _ := req.Marshal()

	respDER, err := responder.Respond(reqDER)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	resp, err := ParseResponse(respDER)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if !resp.IsGranted() {
		t.Fatalf("Status = %d, want granted", resp.Status.Status)
	}

	result, err := Verify(resp.Token, VerifyOptions{
		Digest:    digest[:],
		Algorithm: SHA256,
		Nonce:     req.Nonce,
		Roots:     tsa.roots,
	})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Accepted {
		t.Errorf("Issued token rejected: %v", result.Reason)
	}
}

func TestU_Responder_MalformedRequest(t *testing.T) {
	tsa := newTestTSA(t)
	responder := &Responder{Config: tsa.config}

	respDER, err := responder.Respond([]byte{0x30, 0x80})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	resp, err := ParseResponse(respDER)
	if !errors.Is(err, ErrTSARejected) {
		t.Fatalf("Expected ErrTSARejected, got %v", err)
	}
	if !strings.Contains(resp.FailureString(), "badDataFormat") {
		t.Errorf("FailureString = %q, want badDataFormat", resp.FailureString())
	}
}

func TestU_Responder_UnsupportedAlgorithm(t *testing.T) {
	tsa := newTestTSA(t)
	responder := &Responder{Config: tsa.config}

	wire := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: SHA256.algorithmIdentifier(),
			HashedMessage: []byte{1, 2, 3},
		},
	}
	wire.MessageImprint.HashAlgorithm.Algorithm = asn1.ObjectIdentifier{1, 2, 3}
	reqDER, _ := asn1.Marshal(wire)

	respDER, err := responder.Respond(reqDER)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	resp, _ := ParseResponse(respDER)
	if !strings.Contains(resp.FailureString(), "badAlg") {
		t.Errorf("FailureString = %q, want badAlg", resp.FailureString())
	}
}

func TestU_Responder_UnacceptedPolicy(t *testing.T) {
	tsa := newTestTSA(t)
	responder := &Responder{
		Config:           tsa.config,
		AcceptedPolicies: []asn1.ObjectIdentifier{tsa.config.Policy},
	}

	digest := sha256.Sum256([]byte("policy"))
	req, _ := NewRequest(digest[:], SHA256, RequestOptions{
		Policy: asn1.ObjectIdentifier{1, 9, 9, 9},
	})
	reqDER, _ := req.Marshal()

	respDER, err := responder.Respond(reqDER)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	resp, _ := ParseResponse(respDER)
	if !strings.Contains(resp.FailureString(), "unacceptedPolicy") {
		t.Errorf("FailureString = %q, want unacceptedPolicy", resp.FailureString())
	}
}

func TestU_Responder_EchoesRequestedPolicy(t *testing.T) {
	tsa := newTestTSA(t)
	responder := &Responder{Config: tsa.config}

	wantPolicy := asn1.ObjectIdentifier{1, 2, 3, 4, 5}
	digest := sha256.Sum256([]byte("policy echo"))
	req, _ := NewRequest(digest[:], SHA256, RequestOptions{Policy: wantPolicy, CertReq: true})
	reqDER, _ := req.Marshal()

	respDER, err := responder.Respond(reqDER)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	resp, err := ParseResponse(respDER)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if !resp.Token.Info.Policy.Equal(wantPolicy) {
		t.Errorf("Policy = %v, want %v", resp.Token.Info.Policy, wantPolicy)
	}
}
