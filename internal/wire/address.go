// Package wire implements the address tagged-union and the small binary
// schema runtime the protocol parsers in internal/protocol are written
// against (spec §3 "Address", §4.2 "Binary schema runtime"). It is the Go
// analogue of shadowproxy2's iofree framework and models.py.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"shadowproxy/internal/buffer"
)

// AddrType is the wire tag for an Address variant.
type AddrType byte

const (
	AddrIPv4   AddrType = 0x01
	AddrDomain AddrType = 0x03
	AddrIPv6   AddrType = 0x04
)

// Address is the tagged-variant target address used by every protocol
// (spec §3). Exactly one of IP (with Is4()==true), IP (Is6()), or Name is
// populated, matching which AddrType it decoded from.
type Address struct {
	Type AddrType
	IP   netip.Addr // set for AddrIPv4 / AddrIPv6
	Name string     // set for AddrDomain
	Port uint16
}

// NewAddress builds an Address from a host+port pair, choosing the variant
// by attempting an IPv4 parse, then IPv6, then falling back to a DNS name —
// the invariant spec §3 requires.
func NewAddress(host string, port uint16) Address {
	if ip, err := netip.ParseAddr(host); err == nil {
		if ip.Is4() || ip.Is4In6() {
			return Address{Type: AddrIPv4, IP: ip.Unmap(), Port: port}
		}
		return Address{Type: AddrIPv6, IP: ip, Port: port}
	}
	return Address{Type: AddrDomain, Name: host, Port: port}
}

// HostPort renders host:port, suitable for net.Dial.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.Port)))
}

// Host renders just the host portion.
func (a Address) Host() string {
	switch a.Type {
	case AddrIPv4, AddrIPv6:
		return a.IP.String()
	case AddrDomain:
		return a.Name
	default:
		return ""
	}
}

func (a Address) String() string {
	return a.HostPort()
}

// Equal reports value equality, used by the decode(encode(v))==v property
// tests (spec §8).
func (a Address) Equal(b Address) bool {
	if a.Type != b.Type || a.Port != b.Port {
		return false
	}
	switch a.Type {
	case AddrIPv4, AddrIPv6:
		return a.IP == b.IP
	case AddrDomain:
		return a.Name == b.Name
	}
	return false
}

// EncodeSOCKS appends the SOCKS4/5-style wire encoding of a to dst: a tag
// byte (for SOCKS5; callers needing SOCKS4's distinct layout use
// protocol/socks4 directly), the address bytes, and a big-endian port.
func (a Address) EncodeSOCKS(dst []byte) ([]byte, error) {
	switch a.Type {
	case AddrIPv4:
		ip4 := a.IP.As4()
		dst = append(dst, byte(AddrIPv4))
		dst = append(dst, ip4[:]...)
	case AddrIPv6:
		ip16 := a.IP.As16()
		dst = append(dst, byte(AddrIPv6))
		dst = append(dst, ip16[:]...)
	case AddrDomain:
		if len(a.Name) > 255 {
			return nil, fmt.Errorf("domain name %q exceeds 255 bytes", a.Name)
		}
		dst = append(dst, byte(AddrDomain))
		dst = append(dst, byte(len(a.Name)))
		dst = append(dst, a.Name...)
	default:
		return nil, fmt.Errorf("address has no type set")
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.Port)
	dst = append(dst, portBuf[:]...)
	return dst, nil
}

// DecodeSOCKS pulls a tag-dispatched address (SOCKS5/Shadowsocks wire
// format: 1-byte ATYP, variable address, 2-byte big-endian port) from r.
func DecodeSOCKS(r *buffer.Reader) (Address, error) {
	tagb, err := r.PullExact(1)
	if err != nil {
		return Address{}, err
	}
	tag := AddrType(tagb[0])

	var addr Address
	addr.Type = tag
	switch tag {
	case AddrIPv4:
		b, err := r.PullExact(4)
		if err != nil {
			return Address{}, err
		}
		ip, _ := netip.AddrFromSlice(b)
		addr.IP = ip
	case AddrIPv6:
		b, err := r.PullExact(16)
		if err != nil {
			return Address{}, err
		}
		ip, _ := netip.AddrFromSlice(b)
		addr.IP = ip
	case AddrDomain:
		lb, err := r.PullExact(1)
		if err != nil {
			return Address{}, err
		}
		nb, err := r.PullExact(int(lb[0]))
		if err != nil {
			return Address{}, err
		}
		addr.Name = string(nb)
	default:
		return Address{}, fmt.Errorf("unknown address type 0x%02x", byte(tag))
	}
	pb, err := r.PullExact(2)
	if err != nil {
		return Address{}, err
	}
	addr.Port = binary.BigEndian.Uint16(pb)
	return addr, nil
}

// SizeHint returns the exact number of bytes EncodeSOCKS would append,
// matching the len(encode(v))==size_hint(v) invariant in spec §8.
func (a Address) SizeHint() int {
	switch a.Type {
	case AddrIPv4:
		return 1 + 4 + 2
	case AddrIPv6:
		return 1 + 16 + 2
	case AddrDomain:
		return 1 + 1 + len(a.Name) + 2
	default:
		return 0
	}
}
