// Package route implements the route URL grammar (spec §6 "Route URL")
// and the via-chaining resolution pass (spec §4.6 "Chained outbound").
// Grounded on shadowproxy2's urlparser.py/urlparser/models.py: the same
// fields, the same defaults (transport defaults to tcp, host defaults to
// 0.0.0.0), re-expressed as a single anchored regexp instead of a PEG
// grammar library, since nothing in the pack pulls in a grammar-parsing
// dependency for Go and the grammar itself is small enough that
// introducing one would not be grounded in anything the examples show.
package route

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"shadowproxy/internal/protocol"
	"shadowproxy/internal/xerrors"
)

// Transport identifies the outer stream transport a route listens on or
// dials through.
type Transport string

const (
	TCP  Transport = "tcp"
	TLS  Transport = "tls"
	QUIC Transport = "quic"
	WS   Transport = "ws"
	WSS  Transport = "wss"
)

// Route is the immutable per-route descriptor (spec §3 "Route
// descriptor"): a listener or outbound endpoint, its transport and proxy
// dialect, optional credentials, and optional via-chaining.
type Route struct {
	Raw string

	Transport Transport
	Proxy     protocol.Name

	Username string
	Password string

	Host string
	Port uint16

	Path      string
	VerifySSL bool

	UploadKBps   int
	DownloadKBps int

	Name string
	Via  string

	// Outbound, once via has been resolved (spec §4.6), points at the
	// named route this one chains into. Nil for a direct (plain-TCP or
	// terminal) route.
	Outbound *Route
}

// HostPort renders host:port, suitable for net.Listen/net.Dial.
func (r *Route) HostPort() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Credentials extracts the proxy-protocol credentials this route carries
// for the outbound half (the `user`/`pw` pair keys — spec §6), falling
// back to the inline `user:pass@` authority credentials used by the
// inbound half.
func (r *Route) Credentials() protocol.Credentials {
	return protocol.Credentials{Username: r.Username, Password: r.Password}
}

var urlPattern = regexp.MustCompile(
	`^(?:(?P<transport>tcp|tls|quic|wss|ws)\+)?` +
		`(?P<proxy>socks5|socks4|ss|http|trojan|plain)://` +
		`(?:(?P<user>[^:@/]*):(?P<pass>[^:@/]*)@)?` +
		`(?P<host>\{[0-9a-fA-F:]+\}|[^:/#]*)?` +
		`:(?P<port>\d+)` +
		`(?:#(?P<pairs>.*))?$`,
)

// Parse parses one route URL per spec §6's grammar.
func Parse(raw string) (*Route, error) {
	m := urlPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, xerrors.New(xerrors.KindProtocol, "parse route url", fmt.Errorf("malformed route url %q", raw))
	}
	names := urlPattern.SubexpNames()
	groups := make(map[string]string, len(names))
	for i, name := range names {
		if name != "" {
			groups[name] = m[i]
		}
	}

	r := &Route{
		Raw:       raw,
		Transport: TCP,
		Host:      "0.0.0.0",
		VerifySSL: true,
	}
	if t := groups["transport"]; t != "" {
		r.Transport = Transport(t)
	}
	r.Proxy = protocol.Name(groups["proxy"])
	r.Username = groups["user"]
	r.Password = groups["pass"]
	if h := strings.Trim(groups["host"], "{}"); h != "" {
		r.Host = h
	}

	port, err := strconv.ParseUint(groups["port"], 10, 16)
	if err != nil {
		return nil, xerrors.New(xerrors.KindProtocol, "parse route url", fmt.Errorf("bad port %q: %w", groups["port"], err))
	}
	r.Port = uint16(port)

	if pairs := groups["pairs"]; pairs != "" {
		if err := applyPairs(r, pairs); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// applyPairs parses the "#k=v,k=v" suffix (spec §6 "pair = key '=' value").
func applyPairs(r *Route, pairs string) error {
	for _, kv := range strings.Split(pairs, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return xerrors.New(xerrors.KindProtocol, "parse route url", fmt.Errorf("malformed pair %q", kv))
		}
		key, value := parts[0], parts[1]
		switch key {
		case "via":
			r.Via = value
		case "name":
			r.Name = value
		case "path":
			r.Path = value
		case "user":
			r.Username = value
		case "pw":
			r.Password = value
		case "verify_ssl":
			r.VerifySSL = value != "false" && value != "0"
		case "ul":
			n, err := strconv.Atoi(value)
			if err != nil {
				return xerrors.New(xerrors.KindProtocol, "parse route url", fmt.Errorf("bad ul value %q: %w", value, err))
			}
			r.UploadKBps = n
		case "dl":
			n, err := strconv.Atoi(value)
			if err != nil {
				return xerrors.New(xerrors.KindProtocol, "parse route url", fmt.Errorf("bad dl value %q: %w", value, err))
			}
			r.DownloadKBps = n
		default:
			return xerrors.New(xerrors.KindProtocol, "parse route url", fmt.Errorf("unknown route key %q", key))
		}
	}
	return nil
}

// ResolveVia links every route's Via name to the matching named route in
// the full set, failing startup if a reference cannot be resolved (spec
// §4.6 "unresolved names fail startup").
func ResolveVia(routes []*Route) error {
	byName := make(map[string]*Route, len(routes))
	for _, r := range routes {
		if r.Name != "" {
			byName[r.Name] = r
		}
	}
	for _, r := range routes {
		if r.Via == "" {
			continue
		}
		target, ok := byName[r.Via]
		if !ok {
			return xerrors.New(xerrors.KindProtocol, "resolve via", fmt.Errorf("%w: %q", xerrors.ErrUnresolvedVia, r.Via))
		}
		r.Outbound = target
	}
	return nil
}
