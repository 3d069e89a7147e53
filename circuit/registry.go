package circuit

import "sync"

// Options configure the registry. Defaults apply to every breaker it
// creates; the Backend field of Defaults is ignored.
type Options struct {
	Defaults BreakerSettings
}

// Registry holds one breaker per backend URL, created lazily on first
// use. Breakers live until the registry is dropped.
type Registry struct {
	defaults BreakerSettings

	mx     sync.Mutex
	lookup map[string]*Breaker
}

func NewRegistry(o Options) *Registry {
	return &Registry{
		defaults: o.Defaults.withDefaults(),
		lookup:   make(map[string]*Breaker),
	}
}

// Get returns the breaker of a backend, creating it when it is
// requested for the first time.
func (r *Registry) Get(backend string) *Breaker {
	r.mx.Lock()
	defer r.mx.Unlock()

	b, ok := r.lookup[backend]
	if !ok {
		s := r.defaults
		s.Backend = backend
		b = newBreaker(s)
		r.lookup[backend] = b
	}

	return b
}

// Stats returns a snapshot of every breaker created so far.
func (r *Registry) Stats() []Stats {
	r.mx.Lock()
	breakers := make([]*Breaker, 0, len(r.lookup))
	for _, b := range r.lookup {
		breakers = append(breakers, b)
	}
	r.mx.Unlock()

	stats := make([]Stats, len(breakers))
	for i, b := range breakers {
		stats[i] = b.Stats()
	}

	return stats
}
