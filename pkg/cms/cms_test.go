package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"
)

func newTestCert(t *testing.T, signer crypto.Signer, serial int64) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: "CMS Test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func signRoundTrip(t *testing.T, signer crypto.Signer) {
	t.Helper()
	cert := newTestCert(t, signer, 7)
	content := []byte("signed payload")

	der, err := Sign(content, &SignerConfig{
		Certificate:  cert,
		Signer:       signer,
		IncludeCerts: true,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	sd, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !bytes.Equal(sd.ContentBytes(), content) {
		t.Error("Content changed in round trip")
	}
	if len(sd.SignerInfos) != 1 {
		t.Fatalf("Got %d SignerInfos, want 1", len(sd.SignerInfos))
	}

	certs, err := sd.ParseCertificates()
	if err != nil {
		t.Fatalf("ParseCertificates failed: %v", err)
	}
	if len(certs) != 1 {
		t.Fatalf("Got %d certificates, want 1", len(certs))
	}

	si := &sd.SignerInfos[0]
	found := sd.SignerCertificate(si, certs)
	if found == nil {
		t.Fatal("SignerCertificate found no match")
	}
	if err := VerifySignerInfo(si, content, found); err != nil {
		t.Errorf("VerifySignerInfo failed: %v", err)
	}
}

// =============================================================================
// Sign / Verify Tests
// =============================================================================

func TestU_CMS_SignVerify_ECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	signRoundTrip(t, key)
}

func TestU_CMS_SignVerify_Ed25519(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	signRoundTrip(t, key)
}

func TestU_CMS_SignVerify_RSA(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping RSA keygen in short mode")
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	signRoundTrip(t, key)
}

func TestU_CMS_SignatureAlgorithmOIDs(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	tests := []struct {
		name string
		hash crypto.Hash
		want asn1.ObjectIdentifier
	}{
		{"[Unit] ECDSA advertises SHA-1 OID", crypto.SHA1, OIDECDSAWithSHA1},
		{"[Unit] ECDSA advertises SHA-256 OID", crypto.SHA256, OIDECDSAWithSHA256},
		{"[Unit] ECDSA advertises SHA3-256 OID", crypto.SHA3_256, OIDECDSAWithSHA3_256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			algID, err := signatureAlgorithmIdentifier(ecKey.Public(), tt.hash)
			if err != nil {
				t.Fatalf("signatureAlgorithmIdentifier failed: %v", err)
			}
			if !algID.Algorithm.Equal(tt.want) {
				t.Errorf("Got OID %v, want %v", algID.Algorithm, tt.want)
			}
		})
	}

	if _, err := signatureAlgorithmIdentifier(ecKey.Public(), crypto.MD5); err == nil {
		t.Error("Expected error for unmapped digest, got nil")
	}

	// End to end: a SHA-1 SignedData must carry ecdsa-with-SHA1 in its
	// SignerInfo and still verify.
	cert := newTestCert(t, ecKey, 11)
	content := []byte("sha1 payload")
	der, err := Sign(content, &SignerConfig{
		Certificate:  cert,
		Signer:       ecKey,
		DigestAlg:    crypto.SHA1,
		IncludeCerts: true,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	si := &sd.SignerInfos[0]
	if !si.SignatureAlgorithm.Algorithm.Equal(OIDECDSAWithSHA1) {
		t.Errorf("SignerInfo advertises %v, want %v", si.SignatureAlgorithm.Algorithm, OIDECDSAWithSHA1)
	}
	if err := VerifySignerInfo(si, content, cert); err != nil {
		t.Errorf("VerifySignerInfo failed: %v", err)
	}
}

func TestU_CMS_Verify_TamperedContent(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	cert := newTestCert(t, key, 8)

	der, err := Sign([]byte("original"), &SignerConfig{
		Certificate: cert,
		Signer:      key,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := VerifySignerInfo(&sd.SignerInfos[0], []byte("tampered"), cert); err == nil {
		t.Error("Verification passed over tampered content")
	}
}

func TestU_CMS_Verify_WrongCert(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	other, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	cert := newTestCert(t, key, 9)
	otherCert := newTestCert(t, other, 10)

	content := []byte("content")
	der, err := Sign(content, &SignerConfig{Certificate: cert, Signer: key})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, _ := Parse(der)
	if err := VerifySignerInfo(&sd.SignerInfos[0], content, otherCert); err == nil {
		t.Error("Verification passed with the wrong certificate")
	}
}

func TestU_CMS_Sign_CustomContentType(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	cert := newTestCert(t, key, 11)
	contentType := asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	der, err := Sign([]byte("typed"), &SignerConfig{
		Certificate: cert,
		Signer:      key,
		ContentType: contentType,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !sd.EncapContentInfo.EContentType.Equal(contentType) {
		t.Errorf("EContentType = %v, want %v", sd.EncapContentInfo.EContentType, contentType)
	}
}

func TestU_CMS_Sign_ExtraCerts(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	extraKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	cert := newTestCert(t, key, 12)
	extra := newTestCert(t, extraKey, 13)

	der, err := Sign([]byte("chain"), &SignerConfig{
		Certificate:  cert,
		Signer:       key,
		IncludeCerts: true,
		ExtraCerts:   []*x509.Certificate{extra},
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sd, _ := Parse(der)
	certs, err := sd.ParseCertificates()
	if err != nil {
		t.Fatalf("ParseCertificates failed: %v", err)
	}
	if len(certs) != 2 {
		t.Fatalf("Got %d certificates, want 2", len(certs))
	}
	found := sd.SignerCertificate(&sd.SignerInfos[0], certs)
	if found == nil || found.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		t.Error("SignerCertificate did not select the signing certificate")
	}
}

func TestU_CMS_Parse_Garbage(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0x30, 0x00},
		{0x30, 0x80},
		{0xde, 0xad, 0xbe, 0xef},
	}
	for _, in := range inputs {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse accepted %x", in)
		}
	}
}

// =============================================================================
// Attribute Tests
// =============================================================================

func TestU_CMS_Attributes(t *testing.T) {
	digest := sha256.Sum256([]byte("attr"))
	attrs, err := buildSignedAttrs(OIDData, digest[:], time.Now().UTC())
	if err != nil {
		t.Fatalf("buildSignedAttrs failed: %v", err)
	}
	if len(attrs) != 3 {
		t.Fatalf("Got %d attributes, want 3", len(attrs))
	}

	md := FindAttribute(attrs, OIDMessageDigest)
	if md == nil {
		t.Fatal("message-digest attribute missing")
	}
	var got []byte
	if _, err := asn1.Unmarshal(md.FullBytes, &got); err != nil {
		t.Fatalf("Failed to decode message-digest: %v", err)
	}
	if !bytes.Equal(got, digest[:]) {
		t.Error("message-digest attribute does not carry the digest")
	}

	if FindAttribute(attrs, OIDContentType) == nil {
		t.Error("content-type attribute missing")
	}
	if FindAttribute(attrs, OIDSigningTime) == nil {
		t.Error("signing-time attribute missing")
	}
	if FindAttribute(attrs, asn1.ObjectIdentifier{1, 2, 3}) != nil {
		t.Error("FindAttribute matched an absent OID")
	}
}

func TestU_CMS_MarshalSignedAttrs_SetTag(t *testing.T) {
	attrs, err := buildSignedAttrs(OIDData, bytes.Repeat([]byte{1}, 32), time.Now().UTC())
	if err != nil {
		t.Fatalf("buildSignedAttrs failed: %v", err)
	}
	der, err := MarshalSignedAttrs(attrs)
	if err != nil {
		t.Fatalf("MarshalSignedAttrs failed: %v", err)
	}
	// Signature input uses the SET OF tag, not the implicit [0].
	if der[0] != 0x31 {
		t.Errorf("leading tag = %#x, want 0x31 (SET OF)", der[0])
	}
}

// =============================================================================
// Digest OID Tests
// =============================================================================

func TestU_CMS_DigestOID_RoundTrip(t *testing.T) {
	for _, alg := range []crypto.Hash{crypto.SHA1, crypto.SHA256, crypto.SHA384, crypto.SHA512} {
		oid, err := DigestOID(alg)
		if err != nil {
			t.Fatalf("DigestOID(%v) failed: %v", alg, err)
		}
		back, err := DigestByOID(oid)
		if err != nil {
			t.Fatalf("DigestByOID(%v) failed: %v", oid, err)
		}
		if back != alg {
			t.Errorf("round trip: %v != %v", back, alg)
		}
	}
	if _, err := DigestByOID(asn1.ObjectIdentifier{1, 2, 3}); err == nil {
		t.Error("DigestByOID accepted an unknown OID")
	}
}
