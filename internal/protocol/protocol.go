// Package protocol defines the common per-connection parser contract (spec
// §3 "Parser FSM result") that every supported proxy dialect implements,
// and the enum-keyed factory table routes dispatch through (spec §9
// "Dispatch by enum").
package protocol

import (
	"context"

	"shadowproxy/internal/transport"
	"shadowproxy/internal/wire"
)

// Name identifies a supported proxy dialect.
type Name string

const (
	SOCKS5  Name = "socks5"
	SOCKS4  Name = "socks4"
	HTTP    Name = "http"
	SS      Name = "ss"    // Shadowsocks-AEAD
	Plain   Name = "plain" // Shadowsocks without AEAD framing
	Trojan  Name = "trojan"
)

// Credentials carries the optional username/password a route descriptor
// configures (spec §3 "Route descriptor").
type Credentials struct {
	Username string
	Password string
}

// HasAuth reports whether credentials were configured at all.
func (c Credentials) HasAuth() bool { return c.Username != "" || c.Password != "" }

// ServerResult is what a server-half handshake hands back to the
// orchestrator: the resolved target and the connection to use from here
// on, which for AEAD dialects is wrapped in the streaming codec (spec §3
// "a lazily created outbound reader/writer pair").
type ServerResult struct {
	Target wire.Address
	Conn   transport.Conn
}

// ServerHandshaker is the inbound half of a parser (spec §3 "server(ctx) →
// remote_parser"): it reads the client's handshake and extracts a target,
// then — once the orchestrator has dialed out — writes whatever
// success/failure reply the dialect defines.
type ServerHandshaker interface {
	// Handshake performs the inbound handshake up to (but not including)
	// the final reply, which depends on whether the outbound dial
	// succeeds.
	Handshake(ctx context.Context, conn transport.Conn) (ServerResult, error)
	// Accept writes the dialect's success reply, if any. The relay then
	// uses result.Conn.
	Accept(result ServerResult) error
	// Reject writes the dialect's failure reply, if any, given the reason
	// the outbound dial or policy check failed.
	Reject(result ServerResult, cause error) error
}

// ClientHandshaker is the outbound half of a parser (spec §3
// "init_client(target_addr) → ()"): it speaks this dialect's client side
// against an already-connected transport, then hands back the connection
// to relay payload bytes through.
type ClientHandshaker interface {
	Handshake(ctx context.Context, conn transport.Conn, target wire.Address) (transport.Conn, error)
}

// ServerFactory builds a ServerHandshaker bound to one route's configured
// credentials.
type ServerFactory func(creds Credentials) ServerHandshaker

// ClientFactory builds a ClientHandshaker bound to one route's configured
// credentials.
type ClientFactory func(creds Credentials) ClientHandshaker

var (
	serverFactories = map[Name]ServerFactory{}
	clientFactories = map[Name]ClientFactory{}
)

// RegisterServer adds a dialect to the server-side dispatch table. Called
// from each protocol subpackage's init().
func RegisterServer(name Name, f ServerFactory) { serverFactories[name] = f }

// RegisterClient adds a dialect to the client-side dispatch table.
func RegisterClient(name Name, f ClientFactory) { clientFactories[name] = f }

// NewServer looks up and builds the server half for name, the table-of-
// factories realization of spec §9's "Dispatch by enum" note.
func NewServer(name Name, creds Credentials) (ServerHandshaker, bool) {
	f, ok := serverFactories[name]
	if !ok {
		return nil, false
	}
	return f(creds), true
}

// NewClient looks up and builds the client half for name.
func NewClient(name Name, creds Credentials) (ClientHandshaker, bool) {
	f, ok := clientFactories[name]
	if !ok {
		return nil, false
	}
	return f(creds), true
}
