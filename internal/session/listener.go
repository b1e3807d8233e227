package session

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"
	"net/http"

	"shadowproxy/internal/route"
	"shadowproxy/internal/transport"
)

var errUnsupportedTransport = errors.New("session: unsupported listener transport")

// Server drives one inbound Route: it owns the listener for the route's
// transport and hands every accepted connection to an Orchestrator.
// Grounded on the teacher's per-protocol goroutine-per-listener shape in
// main.go, generalized from fixed HTTP/HTTPS/HTTP3 servers to any of the
// five route transports.
type Server struct {
	Route        *route.Route
	Orchestrator *Orchestrator
	TLSConfig    *tls.Config // required when Route.Transport is tls/quic/wss
	Logger       *log.Logger

	netLn  net.Listener
	quicLn *transport.QUICListener
	wsSrv  *http.Server
}

// Serve blocks accepting connections until ctx is cancelled or a fatal
// listener error occurs. It dispatches to the right accept loop shape for
// the route's transport (spec §4.5).
func (s *Server) Serve(ctx context.Context) error {
	switch s.Route.Transport {
	case route.TCP:
		return s.serveTCP(ctx)
	case route.TLS:
		return s.serveTLS(ctx)
	case route.QUIC:
		return s.serveQUIC(ctx)
	case route.WS, route.WSS:
		return s.serveWS(ctx)
	default:
		return errUnsupportedTransport
	}
}

// Shutdown tears down whichever listener Serve started.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.netLn != nil {
		return s.netLn.Close()
	}
	if s.quicLn != nil {
		return s.quicLn.Close()
	}
	if s.wsSrv != nil {
		return s.wsSrv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) serveTCP(ctx context.Context) error {
	ln, err := transport.ListenTCP("tcp", s.Route.HostPort())
	if err != nil {
		return err
	}
	s.netLn = ln
	return s.acceptLoop(ctx, func() (transport.Conn, error) {
		c, err := ln.Accept()
		if err != nil {
			return nil, err
		}
		return transport.WrapNetConn(c), nil
	})
}

func (s *Server) serveTLS(ctx context.Context) error {
	ln, err := transport.ListenTLS(s.Route.HostPort(), s.TLSConfig)
	if err != nil {
		return err
	}
	s.netLn = ln
	return s.acceptLoop(ctx, func() (transport.Conn, error) {
		c, err := ln.Accept()
		if err != nil {
			return nil, err
		}
		return transport.WrapNetConn(c), nil
	})
}

func (s *Server) serveQUIC(ctx context.Context) error {
	ln, err := transport.ListenQUIC(s.Route.HostPort(), s.TLSConfig)
	if err != nil {
		return err
	}
	s.quicLn = ln
	return s.acceptLoop(ctx, func() (transport.Conn, error) {
		return ln.Accept(ctx)
	})
}

// serveWS runs an http.Server whose only handler path upgrades matching
// requests to a WebSocket transport.Conn and hands it straight to the
// orchestrator, exactly as the route's configured Path names (spec §6
// "path" pair).
func (s *Server) serveWS(ctx context.Context) error {
	mux := http.NewServeMux()
	path := s.Route.Path
	if path == "" {
		path = "/"
	}
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.UpgradeWS(w, r)
		if err != nil {
			s.logf("websocket upgrade failed: %v", err)
			return
		}
		go s.Orchestrator.Handle(ctx, conn)
	})

	srv := &http.Server{Addr: s.Route.HostPort(), Handler: mux}
	s.wsSrv = srv

	if s.Route.Transport == route.WSS {
		srv.TLSConfig = s.TLSConfig
		ln, err := transport.ListenTLS(s.Route.HostPort(), s.TLSConfig)
		if err != nil {
			return err
		}
		s.netLn = ln
		err = srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	ln, err := transport.ListenTCP("tcp", s.Route.HostPort())
	if err != nil {
		return err
	}
	s.netLn = ln
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// acceptLoop is the common shape behind serveTCP/serveTLS/serveQUIC: keep
// accepting until the listener is closed (expected on shutdown), handing
// each connection to the orchestrator on its own goroutine.
func (s *Server) acceptLoop(ctx context.Context, accept func() (transport.Conn, error)) error {
	for {
		conn, err := accept()
		if err != nil {
			if isClosedErr(err) || ctx.Err() != nil {
				return nil
			}
			s.logf("accept error: %v", err)
			continue
		}
		go s.Orchestrator.Handle(ctx, conn)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.Printf(format, args...)
}
