// Package ratelimit implements the per-client admission control of the
// proxy: a fixed window request counter per client IP, kept in a
// bounded LRU cache so that memory stays flat regardless of how many
// distinct clients are seen.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultMaxHits   = 60
	DefaultWindow    = time.Minute
	DefaultCacheSize = 10000
)

// Settings configure a limiter instance.
type Settings struct {
	// MaxHits is the number of requests allowed per client within one
	// window.
	MaxHits int

	// Window is the length of the fixed counting window.
	Window time.Duration

	// CacheSize bounds the number of tracked clients. The least
	// recently seen client is evicted on overflow.
	CacheSize int
}

func (s Settings) withDefaults() Settings {
	if s.MaxHits <= 0 {
		s.MaxHits = DefaultMaxHits
	}

	if s.Window <= 0 {
		s.Window = DefaultWindow
	}

	if s.CacheSize <= 0 {
		s.CacheSize = DefaultCacheSize
	}

	return s
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed window per-client rate limiter. Safe for
// concurrent use; Admit never blocks.
type Limiter struct {
	settings Settings

	mx    sync.Mutex
	cache *lru.Cache[string, *entry]
}

func New(s Settings) *Limiter {
	s = s.withDefaults()

	// the only error case of lru.New is a non-positive size
	cache, _ := lru.New[string, *entry](s.CacheSize)

	return &Limiter{
		settings: s,
		cache:    cache,
	}
}

// Admit counts a request of the given client and reports whether it is
// allowed within the current window. The read and the increment happen
// atomically under the limiter mutex.
func (l *Limiter) Admit(client string) bool {
	l.mx.Lock()
	defer l.mx.Unlock()

	now := time.Now()
	e, ok := l.cache.Get(client)
	if !ok || now.After(e.resetAt) {
		l.cache.Add(client, &entry{count: 1, resetAt: now.Add(l.settings.Window)})
		return true
	}

	// the increment that trips the limit is the last one counted, so
	// the counter never grows past MaxHits+1
	if e.count <= l.settings.MaxHits {
		e.count++
	}

	return e.count <= l.settings.MaxHits
}

// RetryAfter returns the number of seconds a rejected client should
// wait before trying again.
func (l *Limiter) RetryAfter() int {
	return int(l.settings.Window / time.Second)
}
