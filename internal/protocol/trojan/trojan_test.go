package trojan

import (
	"context"
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

func TestServerClientRoundTrip(t *testing.T) {
	clientSide, serverSide := pipe()

	target := wire.NewAddress("trojan.example", 443)
	resCh := make(chan protocol.ServerResult, 1)
	errCh := make(chan error, 1)
	go func() {
		srv, _ := protocol.NewServer(protocol.Trojan, protocol.Credentials{Username: "u", Password: "p"})
		res, err := srv.Handshake(context.Background(), serverSide)
		if err != nil {
			errCh <- err
			return
		}
		resCh <- res
		errCh <- srv.Accept(res)
	}()

	cli, _ := protocol.NewClient(protocol.Trojan, protocol.Credentials{Username: "u", Password: "p"})
	if _, err := cli.Handshake(context.Background(), clientSide, target); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	res := <-resCh
	if err := <-errCh; err != nil {
		t.Fatalf("server accept: %v", err)
	}
	if !res.Target.Equal(target) {
		t.Fatalf("target mismatch: got %v want %v", res.Target, target)
	}
}

func TestServerRejectsBadCredential(t *testing.T) {
	clientSide, serverSide := pipe()

	errCh := make(chan error, 1)
	go func() {
		srv, _ := protocol.NewServer(protocol.Trojan, protocol.Credentials{Username: "u", Password: "p"})
		_, err := srv.Handshake(context.Background(), serverSide)
		errCh <- err
	}()

	cli, _ := protocol.NewClient(protocol.Trojan, protocol.Credentials{Username: "wrong", Password: "wrong"})
	if _, err := cli.Handshake(context.Background(), clientSide, wire.NewAddress("1.2.3.4", 80)); err != nil {
		t.Fatalf("client handshake write should not itself fail: %v", err)
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected server to reject bad credential")
	}
}
