package shadowsocks

import (
	"context"
	"io"
	"net"
	"testing"

	"shadowproxy/internal/protocol"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
)

func pipe() (transport.Conn, transport.Conn) {
	a, b := net.Pipe()
	return transport.WrapNetConn(a), transport.WrapNetConn(b)
}

func TestAEADServerClientRoundTripAndRelay(t *testing.T) {
	clientSide, serverSide := pipe()

	target := wire.NewAddress("relay.example", 1234)
	resCh := make(chan protocol.ServerResult, 1)
	errCh := make(chan error, 1)
	go func() {
		srv, _ := protocol.NewServer(protocol.SS, protocol.Credentials{Password: "hunter2"})
		res, err := srv.Handshake(context.Background(), serverSide)
		if err != nil {
			errCh <- err
			return
		}
		resCh <- res
		errCh <- srv.Accept(res)
	}()

	cli, _ := protocol.NewClient(protocol.SS, protocol.Credentials{Password: "hunter2"})
	clientConn, err := cli.Handshake(context.Background(), clientSide, target)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	res := <-resCh
	if err := <-errCh; err != nil {
		t.Fatalf("server accept: %v", err)
	}
	if !res.Target.Equal(target) {
		t.Fatalf("target mismatch: got %v want %v", res.Target, target)
	}

	payload := []byte("relayed payload bytes")
	writeErr := make(chan error, 1)
	go func() {
		_, err := clientConn.Write(payload)
		writeErr <- err
	}()

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(res.Conn, buf); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("client write: %v", err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", buf, payload)
	}
}

func TestServerRejectsUnsupportedCipher(t *testing.T) {
	_, serverSide := pipe()
	defer serverSide.Close()

	srv, _ := protocol.NewServer(protocol.SS, protocol.Credentials{Username: "aes-256-gcm", Password: "hunter2"})
	_, err := srv.Handshake(context.Background(), serverSide)
	if err == nil {
		t.Fatal("expected handshake to reject an unsupported cipher name")
	}
}

func TestClientRejectsUnsupportedCipher(t *testing.T) {
	clientSide, _ := pipe()
	defer clientSide.Close()

	cli, _ := protocol.NewClient(protocol.SS, protocol.Credentials{Username: "aes-256-gcm", Password: "hunter2"})
	_, err := cli.Handshake(context.Background(), clientSide, wire.NewAddress("example.com", 80))
	if err == nil {
		t.Fatal("expected client handshake to reject an unsupported cipher name")
	}
}

func TestPlainServerClientRoundTrip(t *testing.T) {
	clientSide, serverSide := pipe()

	target := wire.NewAddress("10.1.2.3", 53)
	resCh := make(chan protocol.ServerResult, 1)
	errCh := make(chan error, 1)
	go func() {
		srv, _ := protocol.NewServer(protocol.Plain, protocol.Credentials{})
		res, err := srv.Handshake(context.Background(), serverSide)
		errCh <- err
		resCh <- res
	}()

	cli, _ := protocol.NewClient(protocol.Plain, protocol.Credentials{})
	if _, err := cli.Handshake(context.Background(), clientSide, target); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	res := <-resCh
	if !res.Target.Equal(target) {
		t.Fatalf("target mismatch: got %v want %v", res.Target, target)
	}
}
