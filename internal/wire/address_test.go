package wire

import (
	"bytes"
	"testing"

	"shadowproxy/internal/buffer"
)

func TestNewAddressVariants(t *testing.T) {
	cases := []struct {
		host     string
		wantType AddrType
	}{
		{"93.184.216.34", AddrIPv4},
		{"2001:db8::1", AddrIPv6},
		{"::1", AddrIPv6},
		{"example.com", AddrDomain},
	}
	for _, c := range cases {
		addr := NewAddress(c.host, 443)
		if addr.Type != c.wantType {
			t.Errorf("NewAddress(%q).Type = %v, want %v", c.host, addr.Type, c.wantType)
		}
	}
}

func TestAddressEncodeDecodeRoundTripIPv4(t *testing.T) {
	roundTripEncodeDecode(t, NewAddress("10.0.0.1", 8080))
}

func TestAddressEncodeDecodeRoundTripIPv6(t *testing.T) {
	roundTripEncodeDecode(t, NewAddress("2001:db8::dead:beef", 9000))
}

func TestAddressEncodeDecodeRoundTripDomain(t *testing.T) {
	roundTripEncodeDecode(t, NewAddress("relay.example.com", 1080))
}

func roundTripEncodeDecode(t *testing.T, addr Address) {
	t.Helper()

	encoded, err := addr.EncodeSOCKS(nil)
	if err != nil {
		t.Fatalf("EncodeSOCKS: %v", err)
	}
	if len(encoded) != addr.SizeHint() {
		t.Fatalf("len(encode(v))=%d, SizeHint(v)=%d", len(encoded), addr.SizeHint())
	}

	r := buffer.New(bytes.NewReader(encoded))
	decoded, err := DecodeSOCKS(r)
	if err != nil {
		t.Fatalf("DecodeSOCKS: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("decode(encode(v)) = %v, want %v", decoded, addr)
	}
}

func TestAddressHostPort(t *testing.T) {
	v4 := NewAddress("192.0.2.1", 80)
	if got, want := v4.HostPort(), "192.0.2.1:80"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	v6 := NewAddress("2001:db8::1", 80)
	if got, want := v6.HostPort(), "[2001:db8::1]:80"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	dom := NewAddress("example.com", 443)
	if got, want := dom.HostPort(), "example.com:443"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecodeSOCKSUnknownType(t *testing.T) {
	r := buffer.New(bytes.NewReader([]byte{0xFF, 0, 0}))
	if _, err := DecodeSOCKS(r); err == nil {
		t.Fatal("expected an error for an unknown address type tag")
	}
}

func TestAddressEqualDistinguishesTypes(t *testing.T) {
	domain := NewAddress("10.0.0.1.example.com", 80)
	v4 := NewAddress("10.0.0.1", 80)
	if domain.Equal(v4) {
		t.Fatal("a domain address must not equal an IPv4 address even with overlapping text")
	}
}

func TestNewAddressFoldsIPv4MappedIPv6ToIPv4(t *testing.T) {
	addr := NewAddress("::ffff:10.0.0.1", 80)
	if addr.Type != AddrIPv4 {
		t.Fatalf("Type = %v, want AddrIPv4 for an IPv4-mapped IPv6 literal", addr.Type)
	}
	if addr.Host() != "10.0.0.1" {
		t.Fatalf("Host() = %q, want %q", addr.Host(), "10.0.0.1")
	}
}
