package main

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"shadowproxy/internal/config"
	"shadowproxy/internal/policy"
	_ "shadowproxy/internal/protocol/all"
	"shadowproxy/internal/route"
	"shadowproxy/internal/session"
	"shadowproxy/internal/throttle"
)

const throttleWindowSeconds = 0.5

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("starting shadowproxy")

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	raiseFileDescriptorLimit()

	routes := make([]*route.Route, 0, len(cfg.Routes))
	for _, raw := range cfg.Routes {
		r, err := route.Parse(raw)
		if err != nil {
			log.Fatalf("invalid route %q: %v", raw, err)
		}
		routes = append(routes, r)
	}
	if err := route.ResolveVia(routes); err != nil {
		log.Fatalf("route chaining error: %v", err)
	}

	pol := policy.New(cfg.BlockInternal)
	if cfg.BlacklistPath != "" {
		if err := pol.LoadBlacklistFile(cfg.BlacklistPath); err != nil {
			log.Fatalf("failed to load blacklist: %v", err)
		}
	}

	var tlsConfig *tls.Config
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			log.Fatalf("failed to load TLS certificate: %v", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	sessionLogger := newSessionLogger(cfg.Verbosity)

	var servers []*session.Server
	for _, r := range routes {
		if needsTLS(r) && tlsConfig == nil {
			log.Fatalf("route %q requires a transport of tls/quic/wss but -cert/-key were not given", r.Raw)
		}

		orch := session.NewOrchestrator(r, pol, sessionLogger)
		if r.UploadKBps > 0 {
			orch.Upload = newThrottleRegistry(r.UploadKBps)
		}
		if r.DownloadKBps > 0 {
			orch.Download = newThrottleRegistry(r.DownloadKBps)
		}

		srv := &session.Server{
			Route:        r,
			Orchestrator: orch,
			TLSConfig:    tlsConfig,
			Logger:       log.Default(),
		}
		servers = append(servers, srv)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *session.Server) {
			defer wg.Done()
			log.Printf("listening on %s (%s+%s)", srv.Route.HostPort(), srv.Route.Transport, srv.Route.Proxy)
			if err := srv.Serve(ctx); err != nil {
				log.Printf("listener %s stopped: %v", srv.Route.HostPort(), err)
			}
		}(srv)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("shadowproxy shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error on %s: %v", srv.Route.HostPort(), err)
		}
	}

	wg.Wait()
	log.Println("shadowproxy stopped")
}

func needsTLS(r *route.Route) bool {
	return r.Transport == route.TLS || r.Transport == route.QUIC || r.Transport == route.WSS
}

// newThrottleRegistry builds a registry for one route direction using the
// original's default 0.5s refill window (throttle.py's time_window).
func newThrottleRegistry(kbps int) *throttle.Registry {
	return throttle.NewRegistry(float64(kbps), throttleWindowSeconds)
}
