// Package alarm implements the periodic alarm service (component C3): a
// single-threaded timer wheel delivering on_fire(token) onto the owning
// manager's handler.
//
// Backed by github.com/patrickmn/go-cache, whose OnEvicted hook fires
// exactly once per expired key and whose Delete is idempotent — the same
// "TTL map with an eviction callback" shape this module needs for
// schedule/cancel, so it is used as the timer wheel itself rather than
// re-implemented by hand over time.AfterFunc.
package alarm

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Poster delivers a function call onto the single-threaded main handler,
// the same contract internal/cmd.Poster uses.
type Poster interface {
	Post(func())
}

// Service is the C3 periodic alarm service. One Service instance per
// manager; tokens are typically an AdvertiserId or a peer address.
type Service struct {
	mu   sync.Mutex
	c    *cache.Cache
	main Poster
	onFire func(token string)
	inUse map[string]bool
}

// New creates an alarm service whose fire callbacks are delivered through
// main. onFire runs on the main handler goroutine.
func New(main Poster, onFire func(token string)) *Service {
	s := &Service{
		c:      cache.New(cache.NoExpiration, time.Second),
		main:   main,
		onFire: onFire,
		inUse:  map[string]bool{},
	}
	s.c.OnEvicted(func(token string, _ interface{}) {
		s.mu.Lock()
		fire := s.inUse[token]
		delete(s.inUse, token)
		s.mu.Unlock()
		if !fire {
			return
		}
		s.main.Post(func() {
			s.mu.Lock()
			f := s.onFire
			s.mu.Unlock()
			if f != nil {
				f(token)
			}
		})
	})
	return s
}

// Schedule cancels any existing scheduling of token and enrolls a new one
// to fire after delay.
func (s *Service) Schedule(token string, delay time.Duration) {
	s.mu.Lock()
	s.inUse[token] = true
	s.mu.Unlock()
	s.c.Set(token, struct{}{}, delay)
}

// Cancel is idempotent and safe against an already-fired-but-not-yet-
// delivered callback: the callback observes in_use == false and no-ops.
func (s *Service) Cancel(token string) {
	s.mu.Lock()
	s.inUse[token] = false
	s.mu.Unlock()
	s.c.Delete(token)
}

// SetOnFire (re)binds the fire callback. Exists so a manager composing a
// Service at construction time (before its own methods are assignable as
// a closure) can wire the callback in a second step.
func (s *Service) SetOnFire(onFire func(token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFire = onFire
}

// Pending reports whether token currently has a live scheduling. Exposed
// beyond spec's one-shot/periodic/cancel contract because the inUse map
// makes it a plain lookup, and tests use it to observe scheduling.
func (s *Service) Pending(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse[token]
}
