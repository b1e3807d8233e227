package shadowsocks

import (
	"net"
	"sync"

	"shadowproxy/internal/aead"
	"shadowproxy/internal/buffer"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/xerrors"
)

// aeadConn wraps a transport.Conn in the streaming AEAD codec (spec §4.4
// "Onward relay uses framed encode/decode of application bytes"). The
// encrypter is created lazily — on the server half, the outbound salt
// must be sent before the first data frame, which happens on whichever
// comes first: an explicit ensureEncrypter() call from Accept, or the
// first Write.
type aeadConn struct {
	transport.Conn

	masterKey []byte

	encMu sync.Mutex
	enc   *aead.Encrypter

	dec      *aead.Decrypter
	r        *buffer.Reader
	leftover []byte
}

func newAEADConn(conn transport.Conn, enc *aead.Encrypter, dec *aead.Decrypter, masterKey []byte) *aeadConn {
	return &aeadConn{Conn: conn, masterKey: masterKey, enc: enc, dec: dec, r: buffer.New(conn)}
}

// ensureEncrypter lazily derives the outbound direction and emits its
// salt, idempotently.
func (c *aeadConn) ensureEncrypter() error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	if c.enc != nil {
		return nil
	}
	enc, salt, err := aead.NewEncrypter(c.masterKey)
	if err != nil {
		return xerrors.New(xerrors.KindCrypto, "derive encrypter", err)
	}
	if _, err := c.Conn.Write(salt); err != nil {
		return xerrors.New(xerrors.KindTransport, "write salt", err)
	}
	c.enc = enc
	return nil
}

func (c *aeadConn) Write(p []byte) (int, error) {
	if err := c.ensureEncrypter(); err != nil {
		return 0, err
	}
	c.encMu.Lock()
	frame := c.enc.EncodeFrame(nil, p)
	c.encMu.Unlock()
	if _, err := c.Conn.Write(frame); err != nil {
		return 0, xerrors.New(xerrors.KindTransport, "write frame", err)
	}
	return len(p), nil
}

func (c *aeadConn) Read(p []byte) (int, error) {
	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}
	if c.dec == nil {
		salt, err := c.r.PullExact(aead.SaltSize)
		if err != nil {
			return 0, xerrors.New(xerrors.KindProtocol, "read salt", err)
		}
		dec, err := aead.NewDecrypter(c.masterKey, salt)
		if err != nil {
			return 0, xerrors.New(xerrors.KindCrypto, "derive decrypter", err)
		}
		c.dec = dec
	}
	plaintext, err := c.dec.DecodeFrame(c.r)
	if err != nil {
		return 0, err
	}
	n := copy(p, plaintext)
	if n < len(plaintext) {
		c.leftover = plaintext[n:]
	}
	return n, nil
}

func (c *aeadConn) CanWriteEOF() bool    { return false }
func (c *aeadConn) CloseWriteEOF() error { return transport.ErrHalfCloseUnsupported }
func (c *aeadConn) Close() error         { return c.Conn.Close() }
func (c *aeadConn) RemoteAddr() net.Addr { return c.Conn.RemoteAddr() }
