package wire

import (
	"encoding/binary"
	"fmt"

	"shadowproxy/internal/buffer"
)

// This file is the binary schema runtime of spec §4.2: a small set of
// composable decode/encode primitives that every protocol parser in
// internal/protocol builds on, instead of each one hand-rolling its own
// integer and length-prefix plumbing. It is expressed as plain functions
// rather than a reflection-based DSL. It provides fixed-width big-endian
// unsigned integers (1/2/4 bytes), MustEqualByte, single length-prefixed
// byte fields, and a 1-byte SizedEnum. It has no Record, Switch, Convert,
// EndWith or length-prefixed-list combinators, no signed, little-endian,
// 3-/8-byte or float fields; parsers write those steps inline.

// PullUint8 / PullUint16BE / PullUint32BE read fixed-width unsigned
// integers directly off the pull-reader.
func PullUint8(r *buffer.Reader) (byte, error) {
	b, err := r.PullExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func PullUint16BE(r *buffer.Reader) (uint16, error) {
	b, err := r.PullExact(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func PullUint32BE(r *buffer.Reader) (uint32, error) {
	b, err := r.PullExact(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// MustEqualByte decodes one byte and asserts it equals want, the Go
// expression of the schema runtime's MustEqual(unit, value) combinator.
func MustEqualByte(r *buffer.Reader, want byte, field string) error {
	got, err := PullUint8(r)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s: expected 0x%02x, got 0x%02x", field, want, got)
	}
	return nil
}

// PullLengthPrefixed reads a length via lenBytes (1, 2, or 4), then pulls
// exactly that many bytes — the schema runtime's LengthPrefixed(lenUnit,
// Bytes) specialization, which every variable-length field in the
// supported protocols (SOCKS usernames/passwords, Shadowsocks/Trojan
// domain names) reduces to.
func PullLengthPrefixed(r *buffer.Reader, lenBytes int) ([]byte, error) {
	var n int
	switch lenBytes {
	case 1:
		b, err := PullUint8(r)
		if err != nil {
			return nil, err
		}
		n = int(b)
	case 2:
		v, err := PullUint16BE(r)
		if err != nil {
			return nil, err
		}
		n = int(v)
	case 4:
		v, err := PullUint32BE(r)
		if err != nil {
			return nil, err
		}
		n = int(v)
	default:
		return nil, fmt.Errorf("unsupported length-prefix width %d", lenBytes)
	}
	return r.PullExact(n)
}

// AppendLengthPrefixed is the encode-side counterpart of
// PullLengthPrefixed: it appends len(payload) as a lenBytes-wide
// big-endian integer followed by payload itself.
func AppendLengthPrefixed(dst []byte, lenBytes int, payload []byte) ([]byte, error) {
	switch lenBytes {
	case 1:
		if len(payload) > 0xFF {
			return nil, fmt.Errorf("payload of %d bytes does not fit an 8-bit length prefix", len(payload))
		}
		dst = append(dst, byte(len(payload)))
	case 2:
		if len(payload) > 0xFFFF {
			return nil, fmt.Errorf("payload of %d bytes does not fit a 16-bit length prefix", len(payload))
		}
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(len(payload)))
		dst = append(dst, b[:]...)
	case 4:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(payload)))
		dst = append(dst, b[:]...)
	default:
		return nil, fmt.Errorf("unsupported length-prefix width %d", lenBytes)
	}
	return append(dst, payload...), nil
}

// SizedEnum decodes a single byte and maps it through valid, the schema
// runtime's SizedIntEnum(lenUnit, enumType) combinator specialized to the
// 1-byte case every supported protocol's command/method fields use.
func SizedEnum[T ~byte](r *buffer.Reader, valid map[T]string) (T, error) {
	b, err := PullUint8(r)
	if err != nil {
		return 0, err
	}
	v := T(b)
	if _, ok := valid[v]; !ok {
		return 0, fmt.Errorf("unknown enum value 0x%02x", b)
	}
	return v, nil
}
