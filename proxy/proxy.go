// Package proxy implements the request processing engine: it selects a
// backend by the Host header and forwards the request while enforcing
// admission control, timeouts, retries and circuit breaking.
package proxy

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/rproxy/acme"
	"github.com/zalando/rproxy/circuit"
	"github.com/zalando/rproxy/metrics"
	rnet "github.com/zalando/rproxy/net"
	"github.com/zalando/rproxy/ratelimit"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultRetries        = 2
	DefaultRetryBaseDelay = 100 * time.Millisecond
)

// Routes is the engine's view of the route table.
type Routes interface {
	// Lookup returns the backend of a host and whether a route
	// exists.
	Lookup(host string) (string, bool)
}

// Health is the narrow interface the engine reports request-path
// failures through. The checker never calls back into the engine.
type Health interface {
	Healthy(backend string) bool
	MarkUnhealthy(backend, reason string)
}

// Params assemble the collaborators of the engine. They are owned by
// the caller; the engine never constructs shared state on its own.
type Params struct {
	Routes   Routes
	Breakers *circuit.Registry
	Health   Health
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics

	// ACME, when set, takes priority over routing and rate limiting
	// for challenge requests.
	ACME http.Handler

	// Roundtripper used for upstream requests. Defaults to
	// http.DefaultTransport.
	Roundtripper http.RoundTripper

	// Timeout is the absolute per-request deadline covering connect,
	// headers and body streaming.
	Timeout time.Duration

	// Retries is the number of retries after a failed attempt. Zero
	// selects the default, a negative value disables retries.
	Retries int

	// RetryBaseDelay is the backoff before the first retry; it
	// doubles per retry.
	RetryBaseDelay time.Duration
}

// Proxy is the engine. It implements http.Handler and is safe for
// concurrent use.
type Proxy struct {
	routes   Routes
	breakers *circuit.Registry
	health   Health
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	acme     http.Handler
	rt       http.RoundTripper

	timeout        time.Duration
	retries        int
	retryBaseDelay time.Duration
}

func New(p Params) *Proxy {
	if p.Roundtripper == nil {
		p.Roundtripper = http.DefaultTransport
	}

	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}

	if p.Retries < 0 {
		p.Retries = 0
	} else if p.Retries == 0 {
		p.Retries = DefaultRetries
	}

	if p.RetryBaseDelay <= 0 {
		p.RetryBaseDelay = DefaultRetryBaseDelay
	}

	return &Proxy{
		routes:         p.Routes,
		breakers:       p.Breakers,
		health:         p.Health,
		limiter:        p.Limiter,
		metrics:        p.Metrics,
		acme:           p.ACME,
		rt:             p.Roundtripper,
		timeout:        p.Timeout,
		retries:        p.Retries,
		retryBaseDelay: p.RetryBaseDelay,
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// challenge requests bypass host validation and rate limiting so
	// certificate issuance succeeds even while limits would fire
	if p.acme != nil && acme.Match(r.URL.Path) {
		p.acme.ServeHTTP(w, r)
		return
	}

	host := rnet.ExtractHost(r)
	if !rnet.ValidHost(host) {
		log.Warnf("invalid host %q from %s", r.Host, r.RemoteAddr)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	client := rnet.ClientIP(r)
	if !p.limiter.Admit(client) {
		log.Warnf("rate limit exceeded for %s on %s", client, host)
		w.Header().Set("Retry-After", strconv.Itoa(p.limiter.RetryAfter()))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	p.metrics.Request(host)

	backend, ok := p.routes.Lookup(host)
	if !ok {
		log.Warnf("no route for host %s", host)
		p.metrics.Failure(host)
		http.Error(w, fmt.Sprintf("No backend configured for host: %s", host), http.StatusBadGateway)
		return
	}

	p.forward(w, r, host, backend, client)
}
