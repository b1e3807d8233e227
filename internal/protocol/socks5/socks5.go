// Package socks5 implements the SOCKS5 server and client handshake halves
// (spec §4.3 "SOCKS5 server half" / "SOCKS5 client half"), grounded on
// shadowproxy2's parsers/socks5.py and cross-checked byte-for-byte against
// the outline-sdk SOCKS5 stream dialer in the pack.
package socks5

import (
	"context"

	"shadowproxy/internal/buffer"
	"shadowproxy/internal/protocol"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
	"shadowproxy/internal/xerrors"
)

const (
	ver5 = 0x05

	methodNoAuth   = 0x00
	methodUserPass = 0x02
	methodNoAccept = 0xFF

	authVer = 0x01

	cmdConnect = 0x01

	repSucceeded           = 0x00
	repGeneralFailure      = 0x01
	repNotAllowed          = 0x02
	repHostUnreachable     = 0x04
	repCommandNotSupported = 0x07
)

func init() {
	protocol.RegisterServer(protocol.SOCKS5, func(creds protocol.Credentials) protocol.ServerHandshaker {
		return &server{creds: creds}
	})
	protocol.RegisterClient(protocol.SOCKS5, func(creds protocol.Credentials) protocol.ClientHandshaker {
		return &client{creds: creds}
	})
}

type server struct {
	creds protocol.Credentials
}

// Handshake implements spec §4.3 steps 1-3.
func (s *server) Handshake(ctx context.Context, conn transport.Conn) (protocol.ServerResult, error) {
	r := buffer.New(conn)

	if err := wire.MustEqualByte(r, ver5, "socks5 ver"); err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "greeting", err)
	}
	nmethods, err := wire.PullUint8(r)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "greeting", err)
	}
	methods, err := r.PullExact(int(nmethods))
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "greeting", err)
	}

	if s.creds.HasAuth() {
		if !containsByte(methods, methodUserPass) {
			conn.Write([]byte{ver5, methodNoAccept})
			return protocol.ServerResult{}, xerrors.New(xerrors.KindAuth, "method selection", xerrors.ErrAuthFailed)
		}
		if _, err := conn.Write([]byte{ver5, methodUserPass}); err != nil {
			return protocol.ServerResult{}, xerrors.New(xerrors.KindTransport, "write method reply", err)
		}
		if err := s.authenticate(r, conn); err != nil {
			return protocol.ServerResult{}, err
		}
	} else {
		if _, err := conn.Write([]byte{ver5, methodNoAuth}); err != nil {
			return protocol.ServerResult{}, xerrors.New(xerrors.KindTransport, "write method reply", err)
		}
	}

	if err := wire.MustEqualByte(r, ver5, "request ver"); err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request", err)
	}
	cmd, err := wire.PullUint8(r)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request", err)
	}
	if _, err := r.PullExact(1); err != nil { // rsv
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request", err)
	}
	addr, err := wire.DecodeSOCKS(r)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request address", err)
	}
	if cmd != cmdConnect {
		writeReply(conn, repCommandNotSupported, wire.Address{})
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "request", xerrors.ErrNotSupported)
	}

	return protocol.ServerResult{Target: addr, Conn: conn}, nil
}

// authenticate implements spec §4.3 step 2's username/password exchange.
func (s *server) authenticate(r *buffer.Reader, conn transport.Conn) error {
	if err := wire.MustEqualByte(r, authVer, "auth ver"); err != nil {
		return xerrors.New(xerrors.KindProtocol, "auth", err)
	}
	user, err := wire.PullLengthPrefixed(r, 1)
	if err != nil {
		return xerrors.New(xerrors.KindProtocol, "auth user", err)
	}
	pass, err := wire.PullLengthPrefixed(r, 1)
	if err != nil {
		return xerrors.New(xerrors.KindProtocol, "auth pass", err)
	}
	if string(user) != s.creds.Username || string(pass) != s.creds.Password {
		// "reply 0x05 0x01 0x00 0x01 0.0.0.0:0 and fail with AuthFailed"
		conn.Write([]byte{ver5, 0x01, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return xerrors.New(xerrors.KindAuth, "auth", xerrors.ErrAuthFailed)
	}
	_, err = conn.Write([]byte{authVer, 0x00})
	if err != nil {
		return xerrors.New(xerrors.KindTransport, "write auth reply", err)
	}
	return nil
}

func (s *server) Accept(result protocol.ServerResult) error {
	return writeReply(result.Conn, repSucceeded, wire.Address{})
}

func (s *server) Reject(result protocol.ServerResult, cause error) error {
	if xerrors.Is(cause, xerrors.KindPolicy) {
		return writeReply(result.Conn, repNotAllowed, wire.Address{})
	}
	return writeReply(result.Conn, mapDialError(cause), wire.Address{})
}

// mapDialError maps a dial failure to a SOCKS5 Rep code (spec §4.3 step 5).
func mapDialError(err error) byte {
	switch {
	case xerrors.Is(err, xerrors.KindDial):
		return repHostUnreachable
	default:
		return repGeneralFailure
	}
}

// writeReply writes a fixed 0.0.0.0:0 bound-address reply with the given
// Rep code, exactly as spec §4.3 step 5 requires ("Reply 0x05 0x00 0x00
// 0x01 0.0.0.0:0 on success").
func writeReply(conn transport.Conn, rep byte, _ wire.Address) error {
	reply := []byte{ver5, rep, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(reply)
	if err != nil {
		return xerrors.New(xerrors.KindTransport, "write reply", err)
	}
	return nil
}

func containsByte(b []byte, v byte) bool {
	for _, x := range b {
		if x == v {
			return true
		}
	}
	return false
}

// client implements the SOCKS5 client half (spec §4.3 "SOCKS5 client
// half").
type client struct {
	creds protocol.Credentials
}

func (c *client) Handshake(ctx context.Context, conn transport.Conn, target wire.Address) (transport.Conn, error) {
	methods := []byte{methodNoAuth, methodUserPass}
	greeting := append([]byte{ver5, byte(len(methods))}, methods...)
	if _, err := conn.Write(greeting); err != nil {
		return nil, xerrors.New(xerrors.KindTransport, "write greeting", err)
	}

	r := buffer.New(conn)
	selBuf, err := r.PullExact(2)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "read method selection", err)
	}
	if selBuf[0] != ver5 {
		return nil, xerrors.New(xerrors.KindProtocol, "read method selection", xerrors.ErrBadMagic)
	}
	switch selBuf[1] {
	case methodUserPass:
		auth := []byte{authVer, byte(len(c.creds.Username))}
		auth = append(auth, c.creds.Username...)
		auth = append(auth, byte(len(c.creds.Password)))
		auth = append(auth, c.creds.Password...)
		if _, err := conn.Write(auth); err != nil {
			return nil, xerrors.New(xerrors.KindTransport, "write auth", err)
		}
		authReply, err := r.PullExact(2)
		if err != nil {
			return nil, xerrors.New(xerrors.KindProtocol, "read auth reply", err)
		}
		if authReply[1] != 0x00 {
			return nil, xerrors.New(xerrors.KindAuth, "auth reply", xerrors.ErrAuthFailed)
		}
	case methodNoAuth:
		// nothing more to do
	default:
		return nil, xerrors.New(xerrors.KindProtocol, "method selection", xerrors.ErrNotSupported)
	}

	req := []byte{ver5, cmdConnect, 0x00}
	req, err = target.EncodeSOCKS(req)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "encode request address", err)
	}
	if _, err := conn.Write(req); err != nil {
		return nil, xerrors.New(xerrors.KindTransport, "write request", err)
	}

	head, err := r.PullExact(4)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "read reply", err)
	}
	if head[0] != ver5 {
		return nil, xerrors.New(xerrors.KindProtocol, "read reply", xerrors.ErrBadMagic)
	}
	if head[1] != repSucceeded {
		return nil, xerrors.New(xerrors.KindProtocol, "read reply", xerrors.ErrAuthFailed)
	}
	if err := skipBoundAddress(r, head[3]); err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "read bound address", err)
	}
	return conn, nil
}

func skipBoundAddress(r *buffer.Reader, atyp byte) error {
	switch wire.AddrType(atyp) {
	case wire.AddrIPv4:
		_, err := r.PullExact(4 + 2)
		return err
	case wire.AddrIPv6:
		_, err := r.PullExact(16 + 2)
		return err
	case wire.AddrDomain:
		lb, err := wire.PullUint8(r)
		if err != nil {
			return err
		}
		_, err = r.PullExact(int(lb) + 2)
		return err
	default:
		return xerrors.ErrBadMagic
	}
}
