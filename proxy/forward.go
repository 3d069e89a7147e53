package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

var errBreakerOpen = errors.New("circuit breaker open")

// forward runs the retry loop against the backend and streams the
// winning response back to the client.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, host, backend, clientIP string) {
	backendURL, err := url.Parse(backend)
	if err != nil {
		log.Errorf("invalid backend %q for host %s: %v", backend, host, err)
		p.metrics.Failure(host)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	header := forwardHeaders(r, clientIP)

	// a request body can only be sent once; retries are limited to
	// requests without one
	attempts := 1
	if r.ContentLength == 0 {
		attempts += p.retries
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryBaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, bo.NextBackOff()) {
				break
			}
		}

		rsp, err := p.attempt(ctx, r, backendURL, header, backend)
		if err == nil && rsp.StatusCode < http.StatusInternalServerError {
			p.serveResponse(w, rsp)
			p.metrics.Success(host)
			return
		}

		if err == nil {
			lastErr = fmt.Errorf("backend responded %d", rsp.StatusCode)
			p.health.MarkUnhealthy(backend, lastErr.Error())

			// the 5xx body is returned to the caller unless a retry
			// supersedes it
			if attempt == attempts-1 {
				log.Errorf("forwarding %s failed after %d attempts: %v", host, attempts, lastErr)
				p.serveResponse(w, rsp)
				p.metrics.Failure(host)
				return
			}

			rsp.Body.Close()
			continue
		}

		lastErr = err
		p.health.MarkUnhealthy(backend, err.Error())
	}

	log.Errorf("forwarding %s to %s failed: %v", host, backend, lastErr)
	p.metrics.Failure(host)
	http.Error(w, "Bad Gateway", http.StatusBadGateway)
}

// attempt makes one upstream call through the backend's circuit
// breaker. Status codes >=500 count as breaker failures but the
// response is still handed to the caller.
func (p *Proxy) attempt(ctx context.Context, r *http.Request, backendURL *url.URL, header http.Header, backend string) (*http.Response, error) {
	done, ok := p.breakers.Get(backend).Allow()
	if !ok {
		return nil, errBreakerOpen
	}

	req := outgoingRequest(ctx, r, backendURL, header)
	rsp, err := p.rt.RoundTrip(req)
	if err != nil {
		done(false)
		return nil, err
	}

	done(rsp.StatusCode < http.StatusInternalServerError)
	return rsp, nil
}

// outgoingRequest joins the backend authority with the incoming path
// and query. The body is passed through for streaming, not buffered.
func outgoingRequest(ctx context.Context, r *http.Request, backendURL *url.URL, header http.Header) *http.Request {
	u := *backendURL
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery

	body := r.Body
	if r.ContentLength == 0 {
		// bodyless requests stay retryable
		body = http.NoBody
	}

	req := &http.Request{
		Method:        r.Method,
		URL:           &u,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header.Clone(),
		Body:          body,
		ContentLength: r.ContentLength,
		Host:          u.Host,
	}

	return req.WithContext(ctx)
}

func (p *Proxy) serveResponse(w http.ResponseWriter, rsp *http.Response) {
	defer rsp.Body.Close()

	h := w.Header()
	for name, values := range rsp.Header {
		h[name] = values
	}

	removeHopHeaders(h)
	setSecurityHeaders(h)
	w.WriteHeader(rsp.StatusCode)
	flushingCopy(w, rsp.Body)
}

// flushingCopy streams the response body, flushing per chunk so
// long-lived responses reach the client incrementally.
func flushingCopy(w http.ResponseWriter, body io.Reader) {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}

			rc.Flush()
		}

		if err != nil {
			return
		}
	}
}

// sleep waits out the retry backoff, aborting early on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
