package webhook

import (
	"sync"
	"time"
)

// slidingLimiter enforces per-source sliding minute and hour windows.
// Mutation is serialized per call under one mutex; stale sources are swept
// opportunistically on access.
type slidingLimiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	sources   map[string]*sourceWindow
	now       func() time.Time
	lastSweep time.Time
}

type sourceWindow struct {
	// hits holds request times within the last hour, oldest first. The
	// minute window is a suffix count of the same slice.
	hits []time.Time
}

func newSlidingLimiter(perMinute, perHour int) *slidingLimiter {
	return &slidingLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		sources:   make(map[string]*sourceWindow),
		now:       time.Now,
	}
}

// allow records one hit for the source and reports whether it fits both
// windows, with the retry-after hint when it does not.
func (l *slidingLimiter) allow(source string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	w := l.sources[source]
	if w == nil {
		w = &sourceWindow{}
		l.sources[source] = w
	}

	hourAgo := now.Add(-time.Hour)
	trim := 0
	for trim < len(w.hits) && !w.hits[trim].After(hourAgo) {
		trim++
	}
	w.hits = w.hits[trim:]

	if l.perHour > 0 && len(w.hits) >= l.perHour {
		return false, w.hits[0].Add(time.Hour).Sub(now)
	}

	if l.perMinute > 0 {
		minuteAgo := now.Add(-time.Minute)
		inMinute := 0
		oldestInMinute := now
		for i := len(w.hits) - 1; i >= 0; i-- {
			if !w.hits[i].After(minuteAgo) {
				break
			}
			inMinute++
			oldestInMinute = w.hits[i]
		}
		if inMinute >= l.perMinute {
			return false, oldestInMinute.Add(time.Minute).Sub(now)
		}
	}

	w.hits = append(w.hits, now)
	return true, 0
}

// sweepLocked drops sources with no traffic in the last hour. Runs at most
// once a minute.
func (l *slidingLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	hourAgo := now.Add(-time.Hour)
	for src, w := range l.sources {
		if len(w.hits) == 0 || !w.hits[len(w.hits)-1].After(hourAgo) {
			delete(l.sources, src)
		}
	}
}
