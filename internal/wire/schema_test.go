package wire

import (
	"bytes"
	"testing"

	"shadowproxy/internal/buffer"
)

func TestPullUint8AndUint16BEAndUint32BE(t *testing.T) {
	r := buffer.New(bytes.NewReader([]byte{0x05, 0x01, 0x02, 0x00, 0x00, 0x01, 0x00}))

	b, err := PullUint8(r)
	if err != nil || b != 0x05 {
		t.Fatalf("PullUint8 = %v, %v; want 0x05, nil", b, err)
	}
	u16, err := PullUint16BE(r)
	if err != nil || u16 != 0x0102 {
		t.Fatalf("PullUint16BE = %v, %v; want 0x0102, nil", u16, err)
	}
	u32, err := PullUint32BE(r)
	if err != nil || u32 != 0x00000100 {
		t.Fatalf("PullUint32BE = %v, %v; want 0x100, nil", u32, err)
	}
}

func TestMustEqualByte(t *testing.T) {
	r := buffer.New(bytes.NewReader([]byte{0x05}))
	if err := MustEqualByte(r, 0x05, "ver"); err != nil {
		t.Fatalf("MustEqualByte: %v", err)
	}

	r2 := buffer.New(bytes.NewReader([]byte{0x04}))
	if err := MustEqualByte(r2, 0x05, "ver"); err == nil {
		t.Fatal("expected MustEqualByte to reject a mismatching byte")
	}
}

func TestPullAppendLengthPrefixedRoundTrip(t *testing.T) {
	for _, width := range []int{1, 2, 4} {
		payload := []byte("user-supplied-field")
		encoded, err := AppendLengthPrefixed(nil, width, payload)
		if err != nil {
			t.Fatalf("width %d: AppendLengthPrefixed: %v", width, err)
		}
		r := buffer.New(bytes.NewReader(encoded))
		decoded, err := PullLengthPrefixed(r, width)
		if err != nil {
			t.Fatalf("width %d: PullLengthPrefixed: %v", width, err)
		}
		if !bytes.Equal(decoded, payload) {
			t.Fatalf("width %d: got %q, want %q", width, decoded, payload)
		}
	}
}

func TestAppendLengthPrefixedRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, 0x100)
	if _, err := AppendLengthPrefixed(nil, 1, payload); err == nil {
		t.Fatal("expected an 8-bit length prefix to reject a 256-byte payload")
	}
}

type sizedEnumType byte

const (
	enumA sizedEnumType = 0x01
	enumB sizedEnumType = 0x02
)

func TestSizedEnum(t *testing.T) {
	valid := map[sizedEnumType]string{enumA: "a", enumB: "b"}

	r := buffer.New(bytes.NewReader([]byte{0x02}))
	v, err := SizedEnum(r, valid)
	if err != nil || v != enumB {
		t.Fatalf("SizedEnum = %v, %v; want enumB, nil", v, err)
	}

	r2 := buffer.New(bytes.NewReader([]byte{0xFF}))
	if _, err := SizedEnum(r2, valid); err == nil {
		t.Fatal("expected SizedEnum to reject an unlisted value")
	}
}
