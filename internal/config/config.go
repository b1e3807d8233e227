// Package config defines the process-wide configuration surface (spec §6
// "External interfaces") and how it's assembled from the command line.
// Adapted from the teacher's config/config.go plain-struct shape, with
// the JSON website/cert payload replaced by the flag-parsed fields this
// spec actually needs: one or more route URLs, a blacklist path, and a
// verbosity level.
package config

import (
	"flag"
	"fmt"
)

// Config is the fully parsed process configuration.
type Config struct {
	// Routes are every "-route" flag value, in order, unparsed — the
	// caller runs route.Parse on each (kept as strings here so config
	// stays free of a dependency on the route package's error type).
	Routes []string

	BlacklistPath string
	BlockInternal bool

	CertFile string
	KeyFile  string

	Verbosity int
}

// routeList is a flag.Value accumulating repeated "-route" flags.
type routeList []string

func (r *routeList) String() string { return fmt.Sprint([]string(*r)) }

func (r *routeList) Set(value string) error {
	*r = append(*r, value)
	return nil
}

// Parse builds a Config from args (ordinarily os.Args[1:]).
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("shadowproxy", flag.ContinueOnError)

	var routes routeList
	fs.Var(&routes, "route", "route URL (spec §6 grammar); may be repeated")

	blacklist := fs.String("blacklist", "", "path to a newline-separated IP blacklist file")
	blockInternal := fs.Bool("block-internal-ips", false, "refuse destinations that are not globally routable")
	certFile := fs.String("cert", "", "TLS certificate chain (required for tls/quic/wss routes)")
	keyFile := fs.String("key", "", "TLS private key (required for tls/quic/wss routes)")
	verbosity := fs.Int("v", 0, "log verbosity; 0 is silent on session errors")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("at least one -route is required")
	}

	return &Config{
		Routes:        routes,
		BlacklistPath: *blacklist,
		BlockInternal: *blockInternal,
		CertFile:      *certFile,
		KeyFile:       *keyFile,
		Verbosity:     *verbosity,
	}, nil
}
