/*
Package rproxy implements a host based HTTP/HTTPS reverse proxy. It
terminates client connections on the well-known web ports, selects a
backend by the Host header from a SQLite backed route table, and
forwards the request while enforcing per-client rate limiting,
per-backend circuit breaking and active health checking. ACME HTTP-01
challenges are served from disk with priority over routing so that
certificate issuance works while the proxy is live.

The Run function assembles the proxy from an Options object and serves
until SIGINT or SIGTERM. SIGHUP reloads the route table and the TLS
certificates without dropping connections: listeners stay bound,
health check subscriptions are diffed against the new backend set, and
in-flight requests complete normally.

An internal listener on the loopback interface exposes the request
counters as JSON, process liveness, the backend health and breaker
states, and a Prometheus exposition of the counters.

Routes are managed with the rproxyctl command, see cmd/rproxyctl.
*/
package rproxy
