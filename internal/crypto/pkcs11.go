//go:build cgo

package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/miekg/pkcs11"
)

// PKCS11Config holds PKCS#11 configuration for the TSA signing key.
type PKCS11Config struct {
	ModulePath  string
	TokenLabel  string
	TokenSerial string
	PIN         string
	KeyLabel    string
	KeyID       string
	SlotID      *uint
}

// PKCS11Signer signs timestamp tokens with a key held in an HSM. One
// login session is kept open for the signer's lifetime; Sign serializes
// access to it.
type PKCS11Signer struct {
	mu      sync.Mutex
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	key     pkcs11.ObjectHandle
	pub     crypto.PublicKey
	closed  bool
}

var _ crypto.Signer = (*PKCS11Signer)(nil)

// NewPKCS11Signer loads the module, opens a session on the configured
// token, logs in and locates the signing key.
func NewPKCS11Signer(cfg PKCS11Config) (*PKCS11Signer, error) {
	if cfg.ModulePath == "" {
		return nil, fmt.Errorf("PKCS#11 module path is required")
	}
	if cfg.KeyLabel == "" && cfg.KeyID == "" {
		return nil, fmt.Errorf("at least one of key_label or key_id is required")
	}

	ctx := pkcs11.New(cfg.ModulePath)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", cfg.ModulePath)
	}
	if err := ctx.Initialize(); err != nil {
		if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			ctx.Destroy()
			return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
		}
	}

	slot, err := findSlot(ctx, cfg)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if err := ctx.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
		if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
			_ = ctx.CloseSession(session)
			ctx.Destroy()
			return nil, fmt.Errorf("failed to login: %w", err)
		}
	}

	key, err := findPrivateKey(ctx, session, cfg)
	if err != nil {
		_ = ctx.CloseSession(session)
		ctx.Destroy()
		return nil, err
	}
	pub, err := extractPublicKey(ctx, session, key)
	if err != nil {
		_ = ctx.CloseSession(session)
		ctx.Destroy()
		return nil, err
	}

	return &PKCS11Signer{
		ctx:     ctx,
		session: session,
		key:     key,
		pub:     pub,
	}, nil
}

// Public returns the public key.
func (s *PKCS11Signer) Public() crypto.PublicKey {
	return s.pub
}

// Sign signs a digest with the HSM key. ECDSA signatures come back as
// raw r||s and are re-encoded as ASN.1 DER; RSA uses PKCS#1 v1.5 with
// the DigestInfo prefix added here since CKM_RSA_PKCS does not.
func (s *PKCS11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("signer is closed")
	}

	var mech *pkcs11.Mechanism
	dataToSign := digest

	switch s.pub.(type) {
	case *ecdsa.PublicKey:
		mech = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	case *rsa.PublicKey:
		mech = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
		prefixed, err := addDigestInfoPrefix(digest, opts.HashFunc())
		if err != nil {
			return nil, err
		}
		dataToSign = prefixed
	default:
		return nil, fmt.Errorf("unsupported key type %T for HSM signing", s.pub)
	}

	if err := s.ctx.SignInit(s.session, []*pkcs11.Mechanism{mech}, s.key); err != nil {
		return nil, fmt.Errorf("failed to init sign: %w", err)
	}
	sig, err := s.ctx.Sign(s.session, dataToSign)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	if _, ok := s.pub.(*ecdsa.PublicKey); ok {
		return convertECDSASignature(sig)
	}
	return sig, nil
}

// Close logs out and releases the session.
func (s *PKCS11Signer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.ctx.Logout(s.session)
	_ = s.ctx.CloseSession(s.session)
	s.ctx.Destroy()
	return nil
}

func findSlot(ctx *pkcs11.Ctx, cfg PKCS11Config) (uint, error) {
	if cfg.SlotID != nil {
		return *cfg.SlotID, nil
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot list: %w", err)
	}
	if len(slots) == 0 {
		return 0, fmt.Errorf("no slots with tokens found")
	}

	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if cfg.TokenLabel != "" && info.Label == cfg.TokenLabel {
			return slot, nil
		}
		if cfg.TokenSerial != "" && info.SerialNumber == cfg.TokenSerial {
			return slot, nil
		}
	}

	if cfg.TokenLabel != "" {
		return 0, fmt.Errorf("token with label %q not found", cfg.TokenLabel)
	}
	if cfg.TokenSerial != "" {
		return 0, fmt.Errorf("token with serial %q not found", cfg.TokenSerial)
	}
	return slots[0], nil
}

func findPrivateKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, cfg PKCS11Config) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
	}
	if cfg.KeyLabel != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, cfg.KeyLabel))
	}
	if cfg.KeyID != "" {
		id, err := hex.DecodeString(cfg.KeyID)
		if err != nil {
			return 0, fmt.Errorf("invalid key_id hex: %w", err)
		}
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}

	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, fmt.Errorf("failed to init find objects: %w", err)
	}
	defer func() { _ = ctx.FindObjectsFinal(session) }()

	objs, _, err := ctx.FindObjects(session, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to find objects: %w", err)
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("private key not found")
	}
	if len(objs) > 1 {
		return 0, fmt.Errorf("multiple keys found, please specify both key_label and key_id")
	}
	return objs[0], nil
}

func extractPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, key pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, key, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key type: %w", err)
	}

	switch bytesToUint(attrs[0].Value) {
	case pkcs11.CKK_EC:
		return extractECPublicKey(ctx, session, key)
	case pkcs11.CKK_RSA:
		return extractRSAPublicKey(ctx, session, key)
	default:
		return nil, fmt.Errorf("unsupported HSM key type 0x%X", bytesToUint(attrs[0].Value))
	}
}

func extractECPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, key pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, key, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get EC params: %w", err)
	}
	curve, err := parseECParams(attrs[0].Value)
	if err != nil {
		return nil, err
	}

	pubHandle, err := findPublicKeyForPrivate(ctx, session, key)
	if err != nil {
		return nil, err
	}
	pointAttrs, err := ctx.GetAttributeValue(session, pubHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get EC point: %w", err)
	}

	point := pointAttrs[0].Value
	// CKA_EC_POINT is a DER OCTET STRING wrapping the uncompressed point
	var unwrapped []byte
	if _, err := asn1.Unmarshal(point, &unwrapped); err == nil {
		point = unwrapped
	}
	x, y := elliptic.Unmarshal(curve, point) //nolint:staticcheck
	if x == nil {
		return nil, fmt.Errorf("invalid EC point from HSM")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func extractRSAPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, key pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, key, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get RSA attributes: %w", err)
	}
	n := new(big.Int).SetBytes(attrs[0].Value)
	e := new(big.Int).SetBytes(attrs[1].Value)
	if n.Sign() == 0 || e.Sign() == 0 {
		return nil, fmt.Errorf("empty RSA modulus or exponent from HSM")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func findPublicKeyForPrivate(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, priv pkcs11.ObjectHandle) (pkcs11.ObjectHandle, error) {
	idAttrs, err := ctx.GetAttributeValue(session, priv, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
	})
	if err != nil || len(idAttrs[0].Value) == 0 {
		return 0, fmt.Errorf("private key has no CKA_ID to locate its public key")
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_ID, idAttrs[0].Value),
	}
	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, fmt.Errorf("failed to init find objects: %w", err)
	}
	defer func() { _ = ctx.FindObjectsFinal(session) }()

	objs, _, err := ctx.FindObjects(session, 1)
	if err != nil || len(objs) == 0 {
		return 0, fmt.Errorf("public key not found for private key")
	}
	return objs[0], nil
}

// parseECParams maps a DER-encoded named curve OID to its curve.
func parseECParams(params []byte) (elliptic.Curve, error) {
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(params, &oid); err != nil {
		return nil, fmt.Errorf("failed to parse EC params: %w", err)
	}
	switch {
	case oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}):
		return elliptic.P256(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 34}):
		return elliptic.P384(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 35}):
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported curve OID %v", oid)
	}
}

// convertECDSASignature re-encodes a raw r||s signature as ASN.1 DER.
func convertECDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("invalid raw ECDSA signature length %d", len(raw))
	}
	half := len(raw) / 2
	sig := struct {
		R, S *big.Int
	}{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	}
	return asn1.Marshal(sig)
}

// addDigestInfoPrefix wraps a digest in the PKCS#1 v1.5 DigestInfo
// structure expected by CKM_RSA_PKCS.
func addDigestInfoPrefix(digest []byte, hash crypto.Hash) ([]byte, error) {
	var prefix []byte
	switch hash {
	case crypto.SHA1:
		prefix = []byte{0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14}
	case crypto.SHA256:
		prefix = []byte{0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20}
	case crypto.SHA384:
		prefix = []byte{0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30}
	case crypto.SHA512:
		prefix = []byte{0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40}
	default:
		return nil, fmt.Errorf("unsupported hash %v for RSA PKCS#1 v1.5", hash)
	}
	return append(prefix, digest...), nil
}

// bytesToUint decodes a little-endian CK_ULONG attribute value.
func bytesToUint(b []byte) uint {
	var v uint
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint(b[i])
	}
	return v
}
