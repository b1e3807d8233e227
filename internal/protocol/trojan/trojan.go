// Package trojan implements the Trojan server and client handshake halves
// (spec §4.3), grounded on shadowproxy2's parsers/trojan.py: a 56-byte hex
// SHA-224 credential, CRLF, a SOCKS5-style CONNECT request, CRLF, then raw
// payload. Trojan relies on the outer TLS transport for confidentiality —
// this package does no additional framing of its own.
package trojan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"shadowproxy/internal/buffer"
	"shadowproxy/internal/protocol"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
	"shadowproxy/internal/xerrors"
)

const (
	hexDigestLen = 56 // hex(SHA-224) is 28 bytes -> 56 hex chars

	cmdConnect = 0x01
)

var crlf = []byte("\r\n")

func init() {
	protocol.RegisterServer(protocol.Trojan, func(creds protocol.Credentials) protocol.ServerHandshaker {
		return &server{expected: digest(creds)}
	})
	protocol.RegisterClient(protocol.Trojan, func(creds protocol.Credentials) protocol.ClientHandshaker {
		return &client{digestHex: digest(creds)}
	})
}

// digest renders hex(SHA-224("user:pass")), or hex(SHA-224("")) when no
// credentials are configured, matching the original's fallback to an
// empty rauth.
func digest(creds protocol.Credentials) string {
	var rauth string
	if creds.Username != "" || creds.Password != "" {
		rauth = creds.Username + ":" + creds.Password
	}
	sum := sha256.Sum224([]byte(rauth))
	return hex.EncodeToString(sum[:])
}

type server struct {
	expected string
}

func (s *server) Handshake(ctx context.Context, conn transport.Conn) (protocol.ServerResult, error) {
	r := buffer.New(conn)

	hexDigest, err := r.PullExact(hexDigestLen)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "read credential", err)
	}
	if err := wire.MustEqualByte(r, '\r', "crlf0[0]"); err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "read crlf", err)
	}
	if err := wire.MustEqualByte(r, '\n', "crlf0[1]"); err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "read crlf", err)
	}

	if string(hexDigest) != s.expected {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindAuth, "credential", xerrors.ErrAuthFailed)
	}

	cmd, err := wire.PullUint8(r)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "read cmd", err)
	}
	target, err := wire.DecodeSOCKS(r)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "decode address", err)
	}
	if err := wire.MustEqualByte(r, '\r', "crlf1[0]"); err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "read crlf", err)
	}
	if err := wire.MustEqualByte(r, '\n', "crlf1[1]"); err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "read crlf", err)
	}
	if cmd != cmdConnect {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "cmd", xerrors.ErrNotSupported)
	}

	return protocol.ServerResult{Target: target, Conn: conn}, nil
}

func (s *server) Accept(result protocol.ServerResult) error {
	// Trojan defines no success reply; the client starts sending payload
	// right after its request and trusts a held-open connection.
	return nil
}

func (s *server) Reject(result protocol.ServerResult, cause error) error {
	return result.Conn.Close()
}

type client struct {
	digestHex string
}

func (c *client) Handshake(ctx context.Context, conn transport.Conn, target wire.Address) (transport.Conn, error) {
	req := []byte(c.digestHex)
	req = append(req, crlf...)
	req = append(req, cmdConnect)
	var err error
	req, err = target.EncodeSOCKS(req)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "encode address", err)
	}
	req = append(req, crlf...)

	if _, err := conn.Write(req); err != nil {
		return nil, xerrors.New(xerrors.KindTransport, "write request", err)
	}
	return conn, nil
}
