// Package transport implements the uniform reader/writer facade (spec
// §4.5) that lets the same protocol parsers run unchanged over TCP, TLS,
// QUIC streams, or a WebSocket connection. Parsers are written against
// internal/buffer.Reader wrapping a transport.Conn's Read method; they
// never see transport-specific framing.
package transport

import (
	"errors"
	"io"
	"net"
)

// ErrHalfCloseUnsupported is returned by CloseWriteEOF on transports where a
// half-close is not a meaningful operation (WebSocket: a close is a close,
// not a half-close — spec §4.5).
var ErrHalfCloseUnsupported = errors.New("transport: half-close not supported")

// Conn is the minimal interface every transport adapter satisfies. It is
// intentionally small: protocol parsers only ever Read/Write, and the
// relay loop (internal/session) only ever needs to know whether it can
// signal EOF to the peer without tearing down the whole connection.
type Conn interface {
	io.Reader
	io.Writer

	// CanWriteEOF reports whether CloseWriteEOF is meaningful on this
	// transport (§4.5 "Half-close semantics differ by transport" — this is
	// a capability query, not an assumption parsers get to make).
	CanWriteEOF() bool
	// CloseWriteEOF half-closes the send direction. Returns
	// ErrHalfCloseUnsupported if CanWriteEOF() is false.
	CloseWriteEOF() error
	// Close tears down both directions immediately.
	Close() error
	// RemoteAddr reports the originating address, used for per-source-IP
	// throttling and blacklisting.
	RemoteAddr() net.Addr
}

// netConn adapts a net.Conn (plain TCP or TLS, both of which support
// CloseWrite via *net.TCPConn / *tls.Conn) to Conn.
type netConn struct {
	net.Conn
	halfCloser interface{ CloseWrite() error }
}

func (c *netConn) CanWriteEOF() bool { return c.halfCloser != nil }

func (c *netConn) CloseWriteEOF() error {
	if c.halfCloser == nil {
		return ErrHalfCloseUnsupported
	}
	return c.halfCloser.CloseWrite()
}

// WrapNetConn adapts any net.Conn — TCP or TLS — into transport.Conn,
// detecting CloseWrite support via a type assertion rather than hardcoding
// *net.TCPConn, since *tls.Conn forwards CloseWrite to its underlying TCP
// connection when available.
func WrapNetConn(c net.Conn) Conn {
	hc, _ := c.(interface{ CloseWrite() error })
	return &netConn{Conn: c, halfCloser: hc}
}
