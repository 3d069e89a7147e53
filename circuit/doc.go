/*
Package circuit implements the per-backend circuit breakers of the proxy.

Every backend URL gets its own breaker, created lazily by the registry,
so that the outcome of requests to one backend never affects the breaker
behavior of another. A breaker trips when the configured number of
failures is observed within the monitoring window. While open, calls are
rejected without contacting the backend. After the open timeout the
breaker lets trial requests through; the configured number of
consecutive successes closes it again, any failure reopens it.

The proxy checks the breaker before making backend requests and reports
the outcome after, considering connection failures, timeouts and
responses with a status code >=500 as failures.
*/
package circuit
