package tsp

import (
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"hash"
	"strings"

	"github.com/remiblancher/tsp/pkg/cms"
)

// DigestAlgorithm identifies a hash algorithm usable in a message imprint.
// Each algorithm carries its object identifier and expected digest length;
// digests are always validated against that length rather than a textual
// convention.
type DigestAlgorithm int

const (
	SHA1 DigestAlgorithm = iota + 1
	SHA256
	SHA384
	SHA512
	SHA3_256
	SHA3_384
	SHA3_512
)

// digestInfo holds per-algorithm metadata.
type digestInfo struct {
	name string
	oid  asn1.ObjectIdentifier
	size int
	hash crypto.Hash
}

var digestAlgorithms = map[DigestAlgorithm]digestInfo{
	SHA1:     {"sha1", cms.OIDSHA1, 20, crypto.SHA1},
	SHA256:   {"sha256", cms.OIDSHA256, 32, crypto.SHA256},
	SHA384:   {"sha384", cms.OIDSHA384, 48, crypto.SHA384},
	SHA512:   {"sha512", cms.OIDSHA512, 64, crypto.SHA512},
	SHA3_256: {"sha3-256", cms.OIDSHA3_256, 32, crypto.SHA3_256},
	SHA3_384: {"sha3-384", cms.OIDSHA3_384, 48, crypto.SHA3_384},
	SHA3_512: {"sha3-512", cms.OIDSHA3_512, 64, crypto.SHA3_512},
}

// String returns the lowercase algorithm name ("sha256").
func (a DigestAlgorithm) String() string {
	if info, ok := digestAlgorithms[a]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown(%d)", int(a))
}

// OID returns the algorithm's object identifier.
func (a DigestAlgorithm) OID() asn1.ObjectIdentifier {
	return digestAlgorithms[a].oid
}

// Size returns the expected digest length in bytes.
func (a DigestAlgorithm) Size() int {
	return digestAlgorithms[a].size
}

// CryptoHash returns the corresponding crypto.Hash.
func (a DigestAlgorithm) CryptoHash() crypto.Hash {
	return digestAlgorithms[a].hash
}

// New returns a new hash.Hash for the algorithm.
func (a DigestAlgorithm) New() (hash.Hash, error) {
	return newDigest(a)
}

// Valid reports whether the algorithm is known.
func (a DigestAlgorithm) Valid() bool {
	_, ok := digestAlgorithms[a]
	return ok
}

// algorithmIdentifier returns the pkix.AlgorithmIdentifier for the message
// imprint, with an explicit NULL parameter as most TSAs emit.
func (a DigestAlgorithm) algorithmIdentifier() pkix.AlgorithmIdentifier {
	return pkix.AlgorithmIdentifier{
		Algorithm:  a.OID(),
		Parameters: asn1.NullRawValue,
	}
}

// ParseDigestAlgorithm resolves a digest algorithm by name ("sha256",
// "SHA-512", "sha3-256").
func ParseDigestAlgorithm(name string) (DigestAlgorithm, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.Replace(normalized, "sha-", "sha", 1)
	for alg, info := range digestAlgorithms {
		if info.name == normalized || strings.ReplaceAll(info.name, "-", "") == normalized {
			return alg, nil
		}
	}
	return 0, opErrf("request", ErrUnsupportedAlgorithm, "%q", name)
}

// DigestAlgorithmByOID resolves a digest algorithm by its object identifier.
func DigestAlgorithmByOID(oid asn1.ObjectIdentifier) (DigestAlgorithm, error) {
	for alg, info := range digestAlgorithms {
		if info.oid.Equal(oid) {
			return alg, nil
		}
	}
	return 0, opErrf("request", ErrUnsupportedAlgorithm, "%v", oid)
}

func newDigest(a DigestAlgorithm) (hash.Hash, error) {
	info, ok := digestAlgorithms[a]
	if !ok {
		return nil, opErrf("request", ErrUnsupportedAlgorithm, "%d", int(a))
	}
	return cms.NewDigest(info.hash)
}
