// Package shadowsocks implements both the AEAD and plain Shadowsocks
// server/client handshake halves (spec §4.4 "Shadowsocks-AEAD server
// half" / "Shadowsocks plain half"), grounded on shadowproxy2's
// parsers/aead.py and ciphers.py.
package shadowsocks

import (
	"context"
	"fmt"

	"shadowproxy/internal/aead"
	"shadowproxy/internal/buffer"
	"shadowproxy/internal/protocol"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
	"shadowproxy/internal/xerrors"
)

// cipherChaCha20IETFPoly1305 is the only cipher name internal/aead
// implements, matching ciphers.py's single ChaCha20IETFPoly1305 class —
// the original defines no cipher-name dispatch table to extend. A route's
// designated cipher name (its URL's Username field, e.g.
// "ss://chacha20-ietf-poly1305:pw@host:1") is validated against this one
// name rather than silently honored.
const cipherChaCha20IETFPoly1305 = "chacha20-ietf-poly1305"

// validateCipher reports an error if name names a cipher other than the
// one this package implements. An empty name defaults to it.
func validateCipher(name string) error {
	if name != "" && name != cipherChaCha20IETFPoly1305 {
		return xerrors.New(xerrors.KindProtocol, "cipher",
			fmt.Errorf("unsupported cipher %q: only %q is implemented", name, cipherChaCha20IETFPoly1305))
	}
	return nil
}

func init() {
	protocol.RegisterServer(protocol.SS, func(creds protocol.Credentials) protocol.ServerHandshaker {
		s := &server{cipherErr: validateCipher(creds.Username)}
		if s.cipherErr == nil {
			s.masterKey = aead.DeriveMasterKey(creds.Password, aead.KeySize)
		}
		return s
	})
	protocol.RegisterClient(protocol.SS, func(creds protocol.Credentials) protocol.ClientHandshaker {
		c := &client{cipherErr: validateCipher(creds.Username)}
		if c.cipherErr == nil {
			c.masterKey = aead.DeriveMasterKey(creds.Password, aead.KeySize)
		}
		return c
	})
	protocol.RegisterServer(protocol.Plain, func(creds protocol.Credentials) protocol.ServerHandshaker {
		return &plainServer{}
	})
	protocol.RegisterClient(protocol.Plain, func(creds protocol.Credentials) protocol.ClientHandshaker {
		return &plainClient{}
	})
}

// server implements the AEAD dialect: read the peer's salt, decode the
// target address off the decrypted stream, then emit our own salt before
// the relay proceeds (spec §4.4).
type server struct {
	masterKey []byte
	cipherErr error
}

func (s *server) Handshake(ctx context.Context, conn transport.Conn) (protocol.ServerResult, error) {
	if s.cipherErr != nil {
		return protocol.ServerResult{}, s.cipherErr
	}
	raw := buffer.New(conn)
	salt, err := raw.PullExact(aead.SaltSize)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "read salt", err)
	}
	dec, err := aead.NewDecrypter(s.masterKey, salt)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindCrypto, "derive decrypter", err)
	}

	ac := newAEADConn(conn, nil, dec, s.masterKey)
	r := buffer.New(ac)
	target, err := wire.DecodeSOCKS(r)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "decode address", err)
	}
	ac.leftover = r.ReadAll()

	return protocol.ServerResult{Target: target, Conn: ac}, nil
}

func (s *server) Accept(result protocol.ServerResult) error {
	ac := result.Conn.(*aeadConn)
	return ac.ensureEncrypter()
}

func (s *server) Reject(result protocol.ServerResult, cause error) error {
	// AEAD carries no out-of-band failure reply; refusing means closing.
	return result.Conn.Close()
}

type client struct {
	masterKey []byte
	cipherErr error
}

func (c *client) Handshake(ctx context.Context, conn transport.Conn, target wire.Address) (transport.Conn, error) {
	if c.cipherErr != nil {
		return nil, c.cipherErr
	}
	enc, salt, err := aead.NewEncrypter(c.masterKey)
	if err != nil {
		return nil, xerrors.New(xerrors.KindCrypto, "derive encrypter", err)
	}
	if _, err := conn.Write(salt); err != nil {
		return nil, xerrors.New(xerrors.KindTransport, "write salt", err)
	}

	addrBuf, err := target.EncodeSOCKS(nil)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "encode address", err)
	}
	frame := enc.EncodeFrame(nil, addrBuf)
	if _, err := conn.Write(frame); err != nil {
		return nil, xerrors.New(xerrors.KindTransport, "write address frame", err)
	}

	ac := newAEADConn(conn, enc, nil, c.masterKey)
	return ac, nil
}

// plainServer implements the no-crypto dialect: address then raw bytes,
// no salt, no framing (spec §4.4 "Shadowsocks plain half").
type plainServer struct{}

func (p *plainServer) Handshake(ctx context.Context, conn transport.Conn) (protocol.ServerResult, error) {
	r := buffer.New(conn)
	target, err := wire.DecodeSOCKS(r)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "decode address", err)
	}
	return protocol.ServerResult{Target: target, Conn: conn}, nil
}

func (p *plainServer) Accept(result protocol.ServerResult) error { return nil }

func (p *plainServer) Reject(result protocol.ServerResult, cause error) error {
	return result.Conn.Close()
}

type plainClient struct{}

func (p *plainClient) Handshake(ctx context.Context, conn transport.Conn, target wire.Address) (transport.Conn, error) {
	addrBuf, err := target.EncodeSOCKS(nil)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "encode address", err)
	}
	if _, err := conn.Write(addrBuf); err != nil {
		return nil, xerrors.New(xerrors.KindTransport, "write address", err)
	}
	return conn, nil
}
