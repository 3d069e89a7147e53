package rproxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/rproxy/acme"
	"github.com/zalando/rproxy/certs"
	"github.com/zalando/rproxy/circuit"
	"github.com/zalando/rproxy/dataclients/sqlite"
	"github.com/zalando/rproxy/healthcheck"
	"github.com/zalando/rproxy/metrics"
	"github.com/zalando/rproxy/proxy"
	"github.com/zalando/rproxy/ratelimit"
)

const (
	DefaultConfigRoot = "/etc/rproxy"
	DefaultDataRoot   = "/var/lib/rproxy"

	DefaultAddress      = ":80"
	DefaultTLSAddress   = ":443"
	DefaultStatsAddress = "127.0.0.1:9090"

	defaultShutdownGrace = 20 * time.Second
)

// Options configure a proxy instance. The zero value runs with the
// production defaults.
type Options struct {
	// ConfigRoot holds the route database (config.db).
	ConfigRoot string

	// DataRoot holds the TLS material and the ACME challenge files.
	DataRoot string

	// Address of the public cleartext listener.
	Address string

	// TLSAddress of the public TLS listener, started only when the
	// key pair exists under DataRoot.
	TLSAddress string

	// StatsAddress of the internal statistics listener, loopback
	// only.
	StatsAddress string

	Ratelimit   ratelimit.Settings
	Breaker     circuit.BreakerSettings
	Healthcheck healthcheck.Settings

	// UpstreamTimeout is the absolute deadline of a proxied request.
	UpstreamTimeout time.Duration

	// Retries after a failed upstream attempt. Zero selects the
	// default, a negative value disables retries.
	Retries int

	// ShutdownGrace bounds how long in-flight requests may finish
	// during graceful shutdown.
	ShutdownGrace time.Duration

	// testSigs, when set, replaces the process signal channel.
	testSigs chan os.Signal
}

func (o Options) withDefaults() Options {
	if o.ConfigRoot == "" {
		o.ConfigRoot = DefaultConfigRoot
	}

	if o.DataRoot == "" {
		o.DataRoot = DefaultDataRoot
	}

	if o.Address == "" {
		o.Address = DefaultAddress
	}

	if o.TLSAddress == "" {
		o.TLSAddress = DefaultTLSAddress
	}

	if o.StatsAddress == "" {
		o.StatsAddress = DefaultStatsAddress
	}

	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = defaultShutdownGrace
	}

	return o
}

// routeTable adapts the sqlite store to the engine's lookup interface.
type routeTable struct {
	store *sqlite.Store
}

func (t routeTable) Lookup(host string) (string, bool) {
	backend, err := t.store.Lookup(host)
	if errors.Is(err, sqlite.ErrNotFound) {
		return "", false
	}

	if err != nil {
		log.Errorf("route lookup for %s: %v", host, err)
		return "", false
	}

	return backend, true
}

// Run assembles the proxy from the options and serves until a
// termination signal arrives. SIGHUP reloads routes and certificates
// without dropping connections.
func Run(o Options) error {
	o = o.withDefaults()

	for _, dir := range []string{o.ConfigRoot, acme.ChallengeRoot(o.DataRoot)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	store, err := sqlite.Open(filepath.Join(o.ConfigRoot, "config.db"))
	if err != nil {
		return err
	}

	defer store.Close()

	sink := metrics.New()
	breakers := circuit.NewRegistry(circuit.Options{Defaults: o.Breaker})
	checker := healthcheck.New(o.Healthcheck)
	limiter := ratelimit.New(o.Ratelimit)

	px := proxy.New(proxy.Params{
		Routes:   routeTable{store},
		Breakers: breakers,
		Health:   checker,
		Limiter:  limiter,
		Metrics:  sink,
		ACME:     acme.New(acme.ChallengeRoot(o.DataRoot)),
		Timeout:  o.UpstreamTimeout,
		Retries:  o.Retries,
	})

	if err := syncHealthchecks(store, checker); err != nil {
		return err
	}

	defer checker.StopAll()

	public := &http.Server{Addr: o.Address, Handler: px}
	servers := []*http.Server{public}

	certPaths := certs.DefaultPaths(o.DataRoot)
	var certRegistry *certs.Registry
	if certPaths.Exist() {
		certRegistry, err = certs.NewRegistry(certPaths)
		if err != nil {
			return err
		}

		servers = append(servers, &http.Server{
			Addr:      o.TLSAddress,
			Handler:   px,
			TLSConfig: &tls.Config{GetCertificate: certRegistry.GetCertificate},
		})
	} else {
		log.Infof("no TLS key pair under %s, serving HTTP only", filepath.Dir(certPaths.Chain))
	}

	servers = append(servers, &http.Server{
		Addr:    o.StatsAddress,
		Handler: statsMux(sink, checker, breakers),
	})

	group, ctx := errgroup.WithContext(context.Background())
	for _, srv := range servers {
		group.Go(func() error {
			log.Infof("listening on %s", srv.Addr)

			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}

			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}

			return fmt.Errorf("listener %s: %w", srv.Addr, err)
		})
	}

	sigs := o.testSigs
	if sigs == nil {
		sigs = make(chan os.Signal, 1)
	}

	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	group.Go(func() error {
		for {
			select {
			case sig := <-sigs:
				if sig == syscall.SIGHUP {
					log.Info("reload signal received")
					reload(store, checker, certRegistry)
					continue
				}

				log.Infof("%s received, shutting down", sig)
				shutdown(servers, o.ShutdownGrace)
				return nil
			case <-ctx.Done():
				// a listener failed, the other servers shut down with it
				shutdown(servers, o.ShutdownGrace)
				return nil
			}
		}
	})

	return group.Wait()
}

// reload re-reads the route table and adjusts the health check
// subscriptions to it. Listeners stay bound, in-flight requests
// complete normally.
func reload(store *sqlite.Store, checker *healthcheck.Checker, certRegistry *certs.Registry) {
	if err := syncHealthchecks(store, checker); err != nil {
		log.Errorf("reloading routes: %v", err)
	}

	if certRegistry != nil {
		if err := certRegistry.Reload(); err != nil {
			log.Errorf("reloading certificates: %v", err)
		}
	}
}

// syncHealthchecks diffs the distinct backends of the route table
// against the watched set, starting and stopping probers as needed.
func syncHealthchecks(store *sqlite.Store, checker *healthcheck.Checker) error {
	backends, err := store.Backends()
	if err != nil {
		return err
	}

	current := make(map[string]bool)
	for _, b := range backends {
		current[b] = true
		checker.Start(b)
	}

	for _, b := range checker.Backends() {
		if !current[b] {
			checker.Stop(b)
		}
	}

	return nil
}

func shutdown(servers []*http.Server, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("shutting down %s: %v", srv.Addr, err)
		}
	}
}

func statsMux(sink *metrics.Metrics, checker *healthcheck.Checker, breakers *circuit.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/internal/stats", sink.StatsHandler())
	mux.Handle("/internal/health", sink.HealthHandler())
	mux.Handle("/internal/backends", backendsHandler(checker, breakers))
	mux.Handle("/metrics", sink.PrometheusHandler())
	return mux
}
