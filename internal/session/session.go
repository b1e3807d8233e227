// Package session implements the dial+routing orchestrator (spec §4.6)
// and the throttle+relay loop (spec §4.7): the glue between an accepted
// inbound connection, policy, the outbound dial (direct or chained via a
// named route), and the bidirectional byte relay.
//
// Grounded on shadowproxy2's context.py (ProxyContext.run_proxy /
// create_client dispatch) and the teacher's buffer-copy relay loop in
// proxy/proxy.go, generalized from HTTP bodies to raw duplex byte
// streams.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"

	"shadowproxy/internal/policy"
	"shadowproxy/internal/protocol"
	"shadowproxy/internal/route"
	"shadowproxy/internal/throttle"
	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
	"shadowproxy/internal/xerrors"
)

// relayBufferSize matches spec §4.7's "read ≤ 4096" loop bound.
const relayBufferSize = 4096

// Orchestrator holds everything one inbound Route needs to run sessions:
// the destination policy, the shared per-direction throttle registries,
// and the lazily-dialed shared QUIC outbound connections keyed by the
// outbound route's host:port (spec §5(a)/(b)).
type Orchestrator struct {
	Inbound *route.Route

	Policy   *policy.Policy
	Upload   *throttle.Registry // nil disables upload throttling
	Download *throttle.Registry // nil disables download throttling
	Logger   *log.Logger

	dialer *transport.Dialer

	quicMu   sync.Mutex
	quicOuts map[string]*transport.SharedQUICOutbound
}

// NewOrchestrator builds the per-route session driver.
func NewOrchestrator(inbound *route.Route, pol *policy.Policy, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		Inbound:  inbound,
		Policy:   pol,
		Logger:   logger,
		dialer:   &transport.Dialer{},
		quicOuts: make(map[string]*transport.SharedQUICOutbound),
	}
}

// Handle runs one accepted inbound connection end to end (spec §4.6 steps
// 1-5). Errors are logged and both sides are closed; nothing propagates
// to the listener (spec §7 "Propagation policy").
func (o *Orchestrator) Handle(ctx context.Context, conn transport.Conn) {
	defer conn.Close()

	sid := uuid.NewString()

	creds := o.Inbound.Credentials()
	server, ok := protocol.NewServer(o.Inbound.Proxy, creds)
	if !ok {
		o.logf("[%s] no server handshaker registered for proxy %q", sid, o.Inbound.Proxy)
		return
	}

	result, err := server.Handshake(ctx, conn)
	if err != nil {
		o.logf("[%s] inbound handshake failed: %v", sid, err)
		return
	}

	if err := o.Policy.Check(result.Target.Host()); err != nil {
		o.logf("[%s] policy rejected %s: %v", sid, result.Target, err)
		server.Reject(result, err)
		return
	}

	outboundConn, err := o.dialOutbound(ctx, result.Target)
	if err != nil {
		o.logf("[%s] outbound dial failed for %s: %v", sid, result.Target, err)
		server.Reject(result, err)
		return
	}
	defer outboundConn.Close()

	if err := server.Accept(result); err != nil {
		o.logf("[%s] accept reply failed: %v", sid, err)
		return
	}

	o.logf("[%s] %s -> %s via %s", sid, conn.RemoteAddr(), result.Target, o.Inbound.Proxy)

	sourceIP := hostOf(conn.RemoteAddr())
	o.relay(result.Conn, outboundConn, sourceIP)
}

// dialOutbound implements spec §4.6 step 4: direct plain TCP to target,
// or — when the inbound route chains into a named outbound route — dial
// that route's transport and speak its proxy protocol's client half.
func (o *Orchestrator) dialOutbound(ctx context.Context, target wire.Address) (transport.Conn, error) {
	out := o.Inbound.Outbound
	if out == nil {
		ctx, cancel := transport.WithDialTimeout(ctx)
		defer cancel()
		return o.dialer.DialTCP(ctx, target.HostPort())
	}

	raw, err := o.dialTransport(ctx, out)
	if err != nil {
		return nil, err
	}

	client, ok := protocol.NewClient(out.Proxy, out.Credentials())
	if !ok {
		raw.Close()
		return nil, xerrors.New(xerrors.KindDial, "outbound proxy", xerrors.ErrNotSupported)
	}
	conn, err := client.Handshake(ctx, raw, target)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// dialTransport opens the outer stream transport for an outbound route,
// dispatching on its Transport field (spec §4.5).
func (o *Orchestrator) dialTransport(ctx context.Context, out *route.Route) (transport.Conn, error) {
	ctx, cancel := transport.WithDialTimeout(ctx)
	defer cancel()

	switch out.Transport {
	case route.TCP:
		return o.dialer.DialTCP(ctx, out.HostPort())
	case route.TLS:
		return o.dialer.DialTLS(ctx, out.HostPort(), out.Host, out.VerifySSL)
	case route.QUIC:
		return o.sharedQUIC(out).OpenStream(ctx)
	case route.WS:
		return transport.DialWS(ctx, "ws://"+out.HostPort()+out.Path, out.VerifySSL)
	case route.WSS:
		return transport.DialWS(ctx, "wss://"+out.HostPort()+out.Path, out.VerifySSL)
	default:
		return nil, xerrors.New(xerrors.KindDial, "dial outbound", xerrors.ErrNotSupported)
	}
}

// sharedQUIC returns the one shared QUIC connection for out, creating it
// on first use (spec §5(a)).
func (o *Orchestrator) sharedQUIC(out *route.Route) *transport.SharedQUICOutbound {
	o.quicMu.Lock()
	defer o.quicMu.Unlock()
	so, ok := o.quicOuts[out.HostPort()]
	if !ok {
		so = transport.NewSharedQUICOutbound(out.HostPort(), out.Host, out.VerifySSL)
		o.quicOuts[out.HostPort()] = so
	}
	return so
}

// relay runs the two independent upload/download tasks of spec §4.7 and
// waits for both to finish.
func (o *Orchestrator) relay(inbound, outbound transport.Conn, sourceIP string) {
	var uploadBucket, downloadBucket *throttle.Bucket
	if o.Upload != nil {
		uploadBucket = o.Upload.Get(sourceIP)
	}
	if o.Download != nil {
		downloadBucket = o.Download.Get(sourceIP)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		copyThrottled(outbound, inbound, uploadBucket)
	}()
	go func() {
		defer wg.Done()
		copyThrottled(inbound, outbound, downloadBucket)
	}()
	wg.Wait()
}

// copyThrottled implements one direction of spec §4.7's relay loop: read
// up to relayBufferSize, forward EOF via half-close when supported, write
// with the throttle bucket gating how fast reads are allowed to proceed.
func copyThrottled(dst, src transport.Conn, bucket *throttle.Bucket) {
	buf := make([]byte, relayBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if bucket != nil {
				bucket.Consume(n)
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				closePeer(dst)
				return
			}
		}
		if err != nil {
			if dst.CanWriteEOF() {
				dst.CloseWriteEOF()
			} else {
				closePeer(dst)
			}
			return
		}
	}
}

func closePeer(c transport.Conn) {
	_ = c.Close()
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger == nil {
		return
	}
	o.Logger.Printf(format, args...)
}

// isClosedErr reports whether err indicates an already-closed transport,
// used by the listener loop to distinguish a graceful shutdown from a
// genuine accept error.
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
