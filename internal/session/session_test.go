package session

import (
	"context"
	"io"
	"net"
	"testing"

	_ "shadowproxy/internal/protocol/socks5"

	"shadowproxy/internal/policy"
	"shadowproxy/internal/protocol"
	"shadowproxy/internal/route"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
)

// TestOrchestratorHandleDirectRelay exercises the full inbound-handshake
// -> policy -> direct-dial -> relay path (spec §4.6) against a real
// loopback TCP echo target.
func TestOrchestratorHandleDirectRelay(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen echo: %v", err)
	}
	defer echoLn.Close()
	go func() {
		c, err := echoLn.Accept()
		if err != nil {
			return
		}
		io.Copy(c, c)
		c.Close()
	}()

	target := wire.NewAddress(echoLn.Addr().(*net.TCPAddr).IP.String(), uint16(echoLn.Addr().(*net.TCPAddr).Port))

	inRoute := &route.Route{Proxy: protocol.SOCKS5, Transport: route.TCP, Host: "0.0.0.0", Port: 0}
	orch := NewOrchestrator(inRoute, policy.New(false), nil)

	clientSide, serverSide := net.Pipe()
	inConn := transport.WrapNetConn(clientSide)
	srvConn := transport.WrapNetConn(serverSide)

	done := make(chan struct{})
	go func() {
		orch.Handle(context.Background(), srvConn)
		close(done)
	}()

	cli, _ := protocol.NewClient(protocol.SOCKS5, protocol.Credentials{})
	conn, err := cli.Handshake(context.Background(), inConn, target)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	payload := []byte("ping")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("echo mismatch: got %q want %q", buf, payload)
	}

	conn.Close()
	<-done
}

func TestHostOfParsesHostFromAddr(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("192.168.1.5"), Port: 12345}
	if got := hostOf(addr); got != "192.168.1.5" {
		t.Fatalf("hostOf: got %q want %q", got, "192.168.1.5")
	}
}
