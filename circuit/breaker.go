package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	DefaultFailures         = 5
	DefaultWindow           = 10 * time.Second
	DefaultTimeout          = time.Minute
	DefaultHalfOpenRequests = 2
)

// ErrOpen is returned by Execute when the breaker rejects the call
// without running the operation.
var ErrOpen = errors.New("circuit breaker open")

// BreakerSettings holds the failure thresholds of a single breaker.
// Failures within Window trip the breaker, it stays open for Timeout,
// and HalfOpenRequests consecutive successes close it again.
type BreakerSettings struct {
	Backend          string
	Failures         int
	Window           time.Duration
	Timeout          time.Duration
	HalfOpenRequests int
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.Failures <= 0 {
		s.Failures = DefaultFailures
	}

	if s.Window <= 0 {
		s.Window = DefaultWindow
	}

	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}

	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = DefaultHalfOpenRequests
	}

	return s
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Backend              string `json:"backend"`
	State                string `json:"state"`
	WindowFailures       int    `json:"windowFailures"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
}

// Breaker is a three-state circuit breaker for a single backend. The
// state machine itself is gobreaker's; the time based failure window
// that decides tripping lives here, consulted by ReadyToTrip the same
// way the sampler of a rate based breaker would be.
type Breaker struct {
	settings BreakerSettings

	mx       sync.Mutex
	failures []time.Time
	gb       *gobreaker.TwoStepCircuitBreaker
}

func newBreaker(s BreakerSettings) *Breaker {
	b := &Breaker{settings: s.withDefaults()}
	b.gb = b.newGoBreaker()
	return b
}

func (b *Breaker) newGoBreaker() *gobreaker.TwoStepCircuitBreaker {
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        b.settings.Backend,
		MaxRequests: uint32(b.settings.HalfOpenRequests),
		Timeout:     b.settings.Timeout,
		ReadyToTrip: func(gobreaker.Counts) bool { return b.readyToTrip() },
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateClosed {
				b.clearFailures()
			}
		},
	})
}

// readyToTrip is called by gobreaker after a recorded failure. The
// failure timestamp has already been appended by countFailure.
func (b *Breaker) readyToTrip() bool {
	b.mx.Lock()
	defer b.mx.Unlock()

	b.pruneFailures(time.Now())
	return len(b.failures) >= b.settings.Failures
}

func (b *Breaker) countFailure() {
	b.mx.Lock()
	defer b.mx.Unlock()

	now := time.Now()
	b.pruneFailures(now)
	b.failures = append(b.failures, now)
}

// pruneFailures drops the timestamps that fell out of the monitoring
// window. Callers must hold b.mx.
func (b *Breaker) pruneFailures(now time.Time) {
	cutoff := now.Add(-b.settings.Window)
	for len(b.failures) > 0 && b.failures[0].Before(cutoff) {
		b.failures = b.failures[1:]
	}
}

func (b *Breaker) clearFailures() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.failures = nil
}

// Allow checks admission. When the call may proceed, it returns a done
// callback to report the outcome with, and true. When the breaker is
// open, it returns nil and false.
func (b *Breaker) Allow() (func(bool), bool) {
	b.mx.Lock()
	gb := b.gb
	b.mx.Unlock()

	done, err := gb.Allow()

	// this error can only indicate that the breaker is not closed
	if err != nil {
		return nil, false
	}

	return func(success bool) {
		if !success {
			b.countFailure()
		}

		done(success)
	}, true
}

// Execute runs op under the breaker. When the breaker is open, it
// returns ErrOpen without invoking op. Any error returned by op,
// including a propagated cancellation, is recorded as a failure.
func (b *Breaker) Execute(op func() error) error {
	done, ok := b.Allow()
	if !ok {
		return ErrOpen
	}

	err := op()
	done(err == nil)
	return err
}

// Reset returns the breaker to its initial closed state and clears the
// failure history.
func (b *Breaker) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()

	b.failures = nil
	b.gb = b.newGoBreaker()
}

func (b *Breaker) Stats() Stats {
	b.mx.Lock()
	gb := b.gb
	b.pruneFailures(time.Now())
	windowFailures := len(b.failures)
	b.mx.Unlock()

	counts := gb.Counts()
	return Stats{
		Backend:              b.settings.Backend,
		State:                gb.State().String(),
		WindowFailures:       windowFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}
