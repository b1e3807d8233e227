// Package socks4 implements the SOCKS4/SOCKS4a server and client handshake
// halves (spec §4.3 "SOCKS4 server half"), grounded on shadowproxy2's
// parsers/socks4.py.
package socks4

import (
	"context"
	"net/netip"

	"shadowproxy/internal/buffer"
	"shadowproxy/internal/protocol"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
	"shadowproxy/internal/xerrors"
)

const (
	ver4 = 0x04

	cmdConnect = 0x01

	repGranted      = 0x5A
	repRejected     = 0x5B
	repIdentdFailed = 0x5C
)

// isSOCKS4aMarker tests for the SOCKS4a convention: a CONNECT request whose
// IPv4 field is 0.0.0.x (x != 0) carries the destination as a
// NUL-terminated domain name following the user-id field instead.
func isSOCKS4aMarker(ip [4]byte) bool {
	return ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0
}

func init() {
	protocol.RegisterServer(protocol.SOCKS4, func(creds protocol.Credentials) protocol.ServerHandshaker {
		return &server{creds: creds}
	})
	protocol.RegisterClient(protocol.SOCKS4, func(creds protocol.Credentials) protocol.ClientHandshaker {
		return &client{creds: creds}
	})
}

type server struct {
	creds protocol.Credentials
}

func (s *server) Handshake(ctx context.Context, conn transport.Conn) (protocol.ServerResult, error) {
	r := buffer.New(conn)

	if err := wire.MustEqualByte(r, ver4, "socks4 ver"); err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request", err)
	}
	cmd, err := wire.PullUint8(r)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request", err)
	}
	if cmd != cmdConnect {
		writeReply(conn, repRejected)
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request", xerrors.ErrNotSupported)
	}
	portB, err := r.PullExact(2)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request port", err)
	}
	port := uint16(portB[0])<<8 | uint16(portB[1])

	ipB, err := r.PullExact(4)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request ip", err)
	}
	var ip4 [4]byte
	copy(ip4[:], ipB)

	userID, err := r.PullUntil([]byte{0x00}, false)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request userid", err)
	}
	if s.creds.HasAuth() && string(userID) != s.creds.Username {
		writeReply(conn, repIdentdFailed)
		return protocol.ServerResult{}, xerrors.New(xerrors.KindAuth, "userid", xerrors.ErrAuthFailed)
	}

	var target wire.Address
	if isSOCKS4aMarker(ip4) {
		nameB, err := r.PullUntil([]byte{0x00}, false)
		if err != nil {
			return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request hostname", err)
		}
		target = wire.NewAddress(string(nameB), port)
	} else {
		ip := netip.AddrFrom4(ip4)
		target = wire.Address{Type: wire.AddrIPv4, IP: ip, Port: port}
	}

	return protocol.ServerResult{Target: target, Conn: conn}, nil
}

func (s *server) Accept(result protocol.ServerResult) error {
	return writeReply(result.Conn, repGranted)
}

func (s *server) Reject(result protocol.ServerResult, cause error) error {
	return writeReply(result.Conn, repRejected)
}

// writeReply writes the fixed 8-byte SOCKS4 reply (spec §4.3: version
// field is 0x00, then the rep code, then an ignored port/address).
func writeReply(conn transport.Conn, rep byte) error {
	reply := []byte{0x00, rep, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(reply)
	if err != nil {
		return xerrors.New(xerrors.KindTransport, "write reply", err)
	}
	return nil
}

type client struct {
	creds protocol.Credentials
}

func (c *client) Handshake(ctx context.Context, conn transport.Conn, target wire.Address) (transport.Conn, error) {
	req := []byte{ver4, cmdConnect, byte(target.Port >> 8), byte(target.Port)}

	var name string
	switch target.Type {
	case wire.AddrIPv4:
		ip4 := target.IP.As4()
		req = append(req, ip4[:]...)
	case wire.AddrDomain:
		// SOCKS4a: 0.0.0.1 sentinel, real name follows the user-id field.
		req = append(req, 0, 0, 0, 1)
		name = target.Name
	default:
		return nil, xerrors.New(xerrors.KindProtocol, "encode request", xerrors.ErrNotSupported)
	}

	req = append(req, c.creds.Username...)
	req = append(req, 0x00)
	if name != "" {
		req = append(req, name...)
		req = append(req, 0x00)
	}

	if _, err := conn.Write(req); err != nil {
		return nil, xerrors.New(xerrors.KindTransport, "write request", err)
	}

	r := buffer.New(conn)
	reply, err := r.PullExact(8)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "read reply", err)
	}
	if reply[1] != repGranted {
		return nil, xerrors.New(xerrors.KindAuth, "read reply", xerrors.ErrAuthFailed)
	}
	return conn, nil
}
