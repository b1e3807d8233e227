// Package httpconnect implements the HTTP CONNECT server and client
// handshake halves (spec §4.3 "HTTP CONNECT server half"), grounded on
// shadowproxy2's parsers/http.py. Only the CONNECT verb is supported;
// plain GET/POST forwarding was an Open Question in the spec resolved
// against (see DESIGN.md).
package httpconnect

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"shadowproxy/internal/buffer"
	"shadowproxy/internal/protocol"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
	"shadowproxy/internal/xerrors"
)

func init() {
	protocol.RegisterServer(protocol.HTTP, func(creds protocol.Credentials) protocol.ServerHandshaker {
		return &server{creds: creds}
	})
	protocol.RegisterClient(protocol.HTTP, func(creds protocol.Credentials) protocol.ClientHandshaker {
		return &client{creds: creds}
	})
}

type server struct {
	creds protocol.Credentials
}

// Handshake reads an HTTP/1.1 request line and headers terminated by
// "\r\n\r\n" (spec §4.3), requiring the CONNECT method and parsing
// host:port out of the request-target.
func (s *server) Handshake(ctx context.Context, conn transport.Conn) (protocol.ServerResult, error) {
	r := buffer.New(conn)

	head, err := r.PullUntil([]byte("\r\n\r\n"), true)
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "read headers", err)
	}

	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(string(head))))
	if err != nil {
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "parse request", err)
	}
	if req.Method != http.MethodConnect {
		writeStatus(conn, 405, "Method Not Allowed")
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "method", xerrors.ErrNotSupported)
	}

	if s.creds.HasAuth() {
		if !checkProxyAuth(req.Header.Get("Proxy-Authorization"), s.creds) {
			writeStatusWithHeaders(conn, 407, "Proxy Authentication Required", map[string]string{
				"Proxy-Authenticate": `Basic realm="shadowproxy"`,
			})
			return protocol.ServerResult{}, xerrors.New(xerrors.KindAuth, "proxy-authorization", xerrors.ErrAuthFailed)
		}
	}

	host, portStr, err := splitHostPort(req.Host)
	if err != nil {
		writeStatus(conn, 400, "Bad Request")
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "parse target", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		writeStatus(conn, 400, "Bad Request")
		return protocol.ServerResult{}, xerrors.New(xerrors.KindProtocol, "parse target port", err)
	}

	target := wire.NewAddress(host, uint16(port))
	return protocol.ServerResult{Target: target, Conn: conn}, nil
}

func (s *server) Accept(result protocol.ServerResult) error {
	return writeStatus(result.Conn, 200, "Connection: Established")
}

func (s *server) Reject(result protocol.ServerResult, cause error) error {
	if xerrors.Is(cause, xerrors.KindPolicy) {
		return writeStatus(result.Conn, 403, "Forbidden")
	}
	return writeStatus(result.Conn, 502, "Bad Gateway")
}

func writeStatus(conn transport.Conn, code int, reason string) error {
	return writeStatusWithHeaders(conn, code, reason, nil)
}

func writeStatusWithHeaders(conn transport.Conn, code int, reason string, headers map[string]string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", code, reason)
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return xerrors.New(xerrors.KindTransport, "write status", err)
	}
	return nil
}

func checkProxyAuth(header string, creds protocol.Credentials) bool {
	user, pass, ok := parseBasicAuth(header)
	if !ok {
		return false
	}
	return user == creds.Username && pass == creds.Password
}

// parseBasicAuth decodes "Basic base64(user:pass)" the way net/http's
// unexported parseBasicAuth does, reused here for the Proxy-Authorization
// header net/http itself never inspects.
func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	return decodeBasic(header[len(prefix):])
}

func splitHostPort(hostport string) (host, port string, err error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing port in host %q", hostport)
	}
	return hostport[:idx], hostport[idx+1:], nil
}

type client struct {
	creds protocol.Credentials
}

func (c *client) Handshake(ctx context.Context, conn transport.Conn, target wire.Address) (transport.Conn, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", target.HostPort())
	fmt.Fprintf(&b, "Host: %s\r\n", target.HostPort())
	b.WriteString("User-Agent: shadowproxy\r\n")
	b.WriteString("Proxy-Connection: Keep-Alive\r\n")
	if c.creds.HasAuth() {
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", encodeBasic(c.creds.Username, c.creds.Password))
	}
	b.WriteString("\r\n")

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return nil, xerrors.New(xerrors.KindTransport, "write request", err)
	}

	r := buffer.New(conn)
	head, err := r.PullUntil([]byte("\r\n\r\n"), true)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "read response", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(string(head))), nil)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "parse response", err)
	}
	if resp.StatusCode != 200 {
		return nil, xerrors.New(xerrors.KindAuth, "connect response", fmt.Errorf("status %d", resp.StatusCode))
	}
	return conn, nil
}
