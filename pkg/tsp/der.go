package tsp

import (
	"encoding/asn1"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// maxDERDepth bounds TLV nesting so crafted input cannot exhaust the stack.
const maxDERDepth = 48

// CheckDER validates that data is a single well-formed DER element with no
// trailing bytes. Every length field is checked against the remaining
// buffer, lengths must be minimally encoded, and indefinite lengths are
// rejected. INTEGER contents (serial numbers, nonces) must also be
// minimally encoded. Any violation yields ErrMalformedEncoding; the scan
// never panics, whatever the input.
func CheckDER(data []byte) error {
	s := cryptobyte.String(data)
	if err := scanElement(&s, 0); err != nil {
		return err
	}
	if !s.Empty() {
		return opErrf("decode", ErrMalformedEncoding, "trailing data after DER element")
	}
	return nil
}

func scanElement(s *cryptobyte.String, depth int) error {
	if depth > maxDERDepth {
		return opErrf("decode", ErrMalformedEncoding, "nesting deeper than %d", maxDERDepth)
	}
	var body cryptobyte.String
	var tag cbasn1.Tag
	if !s.ReadAnyASN1(&body, &tag) {
		return opErrf("decode", ErrMalformedEncoding, "truncated or invalid element")
	}
	if tag&0x20 != 0 { // constructed: recurse into nested elements
		for !body.Empty() {
			if err := scanElement(&body, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if tag == cbasn1.INTEGER {
		return CheckMinimalInteger(body)
	}
	return nil
}

// CheckMinimalInteger validates that b is the minimal two's-complement DER
// content of an INTEGER: non-empty, with no superfluous leading 0x00 or
// 0xFF byte beyond the single byte needed to fix the sign.
func CheckMinimalInteger(b []byte) error {
	if len(b) == 0 {
		return opErrf("decode", ErrMalformedEncoding, "empty integer")
	}
	if len(b) > 1 {
		if b[0] == 0x00 && b[1]&0x80 == 0 {
			return opErrf("decode", ErrMalformedEncoding, "integer not minimally encoded")
		}
		if b[0] == 0xFF && b[1]&0x80 != 0 {
			return opErrf("decode", ErrMalformedEncoding, "integer not minimally encoded")
		}
	}
	return nil
}

// tagGeneralizedTime is the universal tag for GeneralizedTime.
const tagGeneralizedTime = 24

// parseGeneralizedTime decodes a DER GeneralizedTime restricted to the form
// RFC 3161 mandates: YYYYMMDDHHMMSS[.fff]Z, UTC only. Offsets, missing
// seconds, and local time are rejected with ErrUnsupportedTimeFormat.
func parseGeneralizedTime(raw asn1.RawValue) (time.Time, error) {
	if raw.Class != asn1.ClassUniversal || raw.Tag != tagGeneralizedTime {
		return time.Time{}, opErrf("decode", ErrTimestampNotFound,
			"expected GeneralizedTime, got tag %d", raw.Tag)
	}
	s := string(raw.Bytes)
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, opErrf("decode", ErrUnsupportedTimeFormat, "%q lacks UTC suffix", s)
	}
	s = strings.TrimSuffix(s, "Z")

	base := s
	var frac string
	if i := strings.IndexByte(s, '.'); i >= 0 {
		base, frac = s[:i], s[i+1:]
		if len(frac) == 0 || len(frac) > 3 || strings.HasSuffix(frac, "0") {
			return time.Time{}, opErrf("decode", ErrUnsupportedTimeFormat,
				"invalid fractional seconds %q", frac)
		}
		for j := 0; j < len(frac); j++ {
			if frac[j] < '0' || frac[j] > '9' {
				return time.Time{}, opErrf("decode", ErrUnsupportedTimeFormat,
					"invalid fractional seconds %q", frac)
			}
		}
	}
	if len(base) != 14 {
		return time.Time{}, opErrf("decode", ErrUnsupportedTimeFormat, "%q", string(raw.Bytes))
	}

	t, err := time.Parse("20060102150405", base)
	if err != nil {
		return time.Time{}, opErrf("decode", ErrUnsupportedTimeFormat, "%q", string(raw.Bytes))
	}
	if frac != "" {
		n, err := strconv.Atoi(frac)
		if err != nil {
			return time.Time{}, opErrf("decode", ErrUnsupportedTimeFormat, "%q", frac)
		}
		for i := len(frac); i < 3; i++ {
			n *= 10
		}
		t = t.Add(time.Duration(n) * time.Millisecond)
	}
	return t.UTC(), nil
}

// marshalGeneralizedTime encodes t as a DER GeneralizedTime in UTC with
// millisecond precision, trailing zeros trimmed per DER.
func marshalGeneralizedTime(t time.Time) asn1.RawValue {
	t = t.UTC()
	s := t.Format("20060102150405")
	if ms := t.Nanosecond() / int(time.Millisecond); ms != 0 {
		s += strings.TrimRight(fmt.Sprintf(".%03d", ms), "0")
	}
	s += "Z"
	return asn1.RawValue{
		Class: asn1.ClassUniversal,
		Tag:   tagGeneralizedTime,
		Bytes: []byte(s),
	}
}
