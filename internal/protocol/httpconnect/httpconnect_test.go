package httpconnect

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"

	"shadowproxy/internal/protocol"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
)

func pipe() (transport.Conn, transport.Conn) {
	a, b := net.Pipe()
	return transport.WrapNetConn(a), transport.WrapNetConn(b)
}

func TestServerClientRoundTrip(t *testing.T) {
	clientSide, serverSide := pipe()

	target := wire.NewAddress("example.com", 443)
	done := make(chan protocol.ServerResult, 1)
	errCh := make(chan error, 1)
	go func() {
		srv, _ := protocol.NewServer(protocol.HTTP, protocol.Credentials{})
		res, err := srv.Handshake(context.Background(), serverSide)
		if err != nil {
			errCh <- err
			return
		}
		done <- res
		errCh <- srv.Accept(res)
	}()

	cli, _ := protocol.NewClient(protocol.HTTP, protocol.Credentials{})
	conn, err := cli.Handshake(context.Background(), clientSide, target)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if conn == nil {
		t.Fatal("expected non-nil conn")
	}
	res := <-done
	if err := <-errCh; err != nil {
		t.Fatalf("server side: %v", err)
	}
	if !res.Target.Equal(target) {
		t.Fatalf("target mismatch: got %v want %v", res.Target, target)
	}
}

func TestServerRequiresProxyAuth(t *testing.T) {
	clientSide, serverSide := pipe()

	errCh := make(chan error, 1)
	go func() {
		srv, _ := protocol.NewServer(protocol.HTTP, protocol.Credentials{Username: "u", Password: "p"})
		_, err := srv.Handshake(context.Background(), serverSide)
		errCh <- err
	}()

	cli, _ := protocol.NewClient(protocol.HTTP, protocol.Credentials{})
	_, err := cli.Handshake(context.Background(), clientSide, wire.NewAddress("example.com", 80))
	if err == nil {
		t.Fatal("expected client handshake to fail without credentials")
	}
	if serverErr := <-errCh; serverErr == nil {
		t.Fatal("expected server to report missing proxy auth")
	}
}

func TestAcceptWritesExactStatusLine(t *testing.T) {
	serverSide, clientSide := pipe()

	go func() {
		writeStatus(serverSide, 200, "Connection: Established")
		serverSide.Close()
	}()

	r := bufio.NewReader(clientSide)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if want := "HTTP/1.1 200 Connection: Established\r\n"; line != want {
		t.Fatalf("status line = %q, want %q", line, want)
	}
}

func TestProxyAuthRequiredIncludesChallengeHeader(t *testing.T) {
	clientSide, serverSide := pipe()

	go func() {
		srv, _ := protocol.NewServer(protocol.HTTP, protocol.Credentials{Username: "u", Password: "p"})
		srv.Handshake(context.Background(), serverSide)
		serverSide.Close()
	}()

	req := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	if _, err := clientSide.Write([]byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := clientSide.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("read response: %v", err)
	}
	resp := string(buf[:n])
	if !strings.HasPrefix(resp, "HTTP/1.1 407 ") {
		t.Fatalf("status line missing 407: %q", resp)
	}
	if !strings.Contains(resp, "Proxy-Authenticate: Basic") {
		t.Fatalf("response missing Proxy-Authenticate header: %q", resp)
	}
}
