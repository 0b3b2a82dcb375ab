package webhook

import (
	"sync"
	"time"
)

// dedupStore remembers alert keys for the deduplication window. Concurrent
// mutation is serialized; expired keys are swept opportunistically.
type dedupStore struct {
	mu        sync.Mutex
	window    time.Duration
	seen      map[string]time.Time
	now       func() time.Time
	lastSweep time.Time
}

func newDedupStore(window time.Duration) *dedupStore {
	return &dedupStore{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// observe records the key and reports whether it was already seen inside the
// window.
func (d *dedupStore) observe(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= d.window {
		d.lastSweep = now
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
	}

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return true
	}
	d.seen[key] = now
	return false
}
