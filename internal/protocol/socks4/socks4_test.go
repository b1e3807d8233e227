package socks4

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

func TestServerClientRoundTripDomain(t *testing.T) {
	clientSide, serverSide := pipe()

	target := wire.NewAddress("example.org", 8080)
	done := make(chan protocol.ServerResult, 1)
	errCh := make(chan error, 1)
	go func() {
		srv, _ := protocol.NewServer(protocol.SOCKS4, protocol.Credentials{})
		res, err := srv.Handshake(context.Background(), serverSide)
		if err != nil {
			errCh <- err
			return
		}
		done <- res
		errCh <- srv.Accept(res)
	}()

	cli, _ := protocol.NewClient(protocol.SOCKS4, protocol.Credentials{})
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

func TestServerClientRoundTripIPv4(t *testing.T) {
	clientSide, serverSide := pipe()

	target := wire.NewAddress("93.184.216.34", 80)
	done := make(chan protocol.ServerResult, 1)
	errCh := make(chan error, 1)
	go func() {
		srv, _ := protocol.NewServer(protocol.SOCKS4, protocol.Credentials{})
		res, err := srv.Handshake(context.Background(), serverSide)
		if err != nil {
			errCh <- err
			return
		}
		done <- res
		errCh <- srv.Accept(res)
	}()

	cli, _ := protocol.NewClient(protocol.SOCKS4, protocol.Credentials{})
	if _, err := cli.Handshake(context.Background(), clientSide, target); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	res := <-done
	if err := <-errCh; err != nil {
		t.Fatalf("server side: %v", err)
	}
	if !res.Target.Equal(target) {
		t.Fatalf("target mismatch: got %v want %v", res.Target, target)
	}
}
