package healthcheck

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testSettings() Settings {
	return Settings{
		Interval:         10 * time.Millisecond,
		Timeout:          time.Second,
		FailureThreshold: 3,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(2 * time.Millisecond)
	}

	t.Fatal("condition not met in time")
}

func TestHealthyBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected probe path: %s", r.URL.Path)
		}

		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("unexpected user agent: %s", ua)
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	c := New(testSettings())
	defer c.StopAll()

	c.Start(backend.URL)
	waitFor(t, time.Second, func() bool {
		s, ok := c.Snapshot()[backend.URL]
		return ok && s.ConsecutiveSuccesses > 0
	})

	if !c.Healthy(backend.URL) {
		t.Error("backend not healthy")
	}
}

func TestNotFoundIsHealthy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer backend.Close()

	c := New(testSettings())
	defer c.StopAll()

	c.Start(backend.URL)
	waitFor(t, time.Second, func() bool {
		s, ok := c.Snapshot()[backend.URL]
		return ok && s.ConsecutiveSuccesses > 0
	})

	if !c.Healthy(backend.URL) {
		t.Error("backend with 404 health endpoint considered unhealthy")
	}
}

func TestFlipsAfterThreshold(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	c := New(testSettings())
	defer c.StopAll()

	c.Start(backend.URL)

	waitFor(t, time.Second, func() bool { return !c.Healthy(backend.URL) })

	s := c.Snapshot()[backend.URL]
	if s.ConsecutiveFailures < 3 {
		t.Errorf("flipped after %d failures, expected at least 3", s.ConsecutiveFailures)
	}

	if s.LastError == "" {
		t.Error("no error recorded")
	}
}

func TestHeadFallback(t *testing.T) {
	var heads int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			atomic.AddInt32(&heads, 1)
			w.WriteHeader(http.StatusOK)
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	c := New(testSettings())
	defer c.StopAll()

	c.Start(backend.URL)
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&heads) > 0 })

	// the HEAD leg succeeded, the probe counts as success
	waitFor(t, time.Second, func() bool {
		s := c.Snapshot()[backend.URL]
		return s.ConsecutiveSuccesses > 0
	})

	if !c.Healthy(backend.URL) {
		t.Error("backend with working HEAD leg considered unhealthy")
	}
}

func TestRecoversOnSuccess(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	c := New(testSettings())
	defer c.StopAll()

	c.Start(backend.URL)
	waitFor(t, time.Second, func() bool { return !c.Healthy(backend.URL) })

	failing.Store(false)
	waitFor(t, time.Second, func() bool { return c.Healthy(backend.URL) })

	s := c.Snapshot()[backend.URL]
	if s.ConsecutiveFailures != 0 {
		t.Errorf("failure counter not reset, got %d", s.ConsecutiveFailures)
	}
}

func TestStartIdempotent(t *testing.T) {
	var probes int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probes, 1)
	}))
	defer backend.Close()

	c := New(Settings{Interval: time.Hour, Timeout: time.Second})
	defer c.StopAll()

	c.Start(backend.URL)
	c.Start(backend.URL)
	c.Start(backend.URL)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&probes) > 0 })
	time.Sleep(20 * time.Millisecond)

	// one immediate probe from a single prober
	if n := atomic.LoadInt32(&probes); n != 1 {
		t.Errorf("expected 1 probe, got %d", n)
	}

	if len(c.Backends()) != 1 {
		t.Errorf("expected 1 watched backend, got %d", len(c.Backends()))
	}
}

func TestStopAbortsInflightProbe(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-unblock
	}))
	defer backend.Close()
	defer close(unblock)

	c := New(Settings{Interval: time.Hour, Timeout: time.Hour})

	c.Start(backend.URL)
	<-started

	stopped := make(chan struct{})
	go func() {
		c.Stop(backend.URL)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not abort the in-flight probe")
	}

	if len(c.Backends()) != 0 {
		t.Error("backend still watched after Stop")
	}
}

func TestStopIdempotent(t *testing.T) {
	c := New(testSettings())
	c.Stop("http://127.0.0.1:9001")

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	c.Start(backend.URL)
	c.Stop(backend.URL)
	c.Stop(backend.URL)
}

func TestStopAll(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	c := New(testSettings())
	for _, suffix := range []string{"/a", "/b", "/c"} {
		c.Start(backend.URL + suffix)
	}

	c.StopAll()
	if len(c.Backends()) != 0 {
		t.Errorf("expected no watched backends, got %d", len(c.Backends()))
	}
}

func TestMarkUnhealthy(t *testing.T) {
	c := New(testSettings())
	backend := "http://127.0.0.1:9001"

	if !c.Healthy(backend) {
		t.Fatal("unwatched backend not assumed healthy")
	}

	c.MarkUnhealthy(backend, "connection refused")
	if c.Healthy(backend) {
		t.Error("backend healthy after MarkUnhealthy")
	}

	if s := c.Snapshot()[backend]; s.LastError != "connection refused" {
		t.Errorf("reason not recorded, got %q", s.LastError)
	}
}

func TestConcurrentStartStop(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	c := New(testSettings())
	defer c.StopAll()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Start(backend.URL)
			c.Stop(backend.URL)
		}()
	}

	wg.Wait()
}
