package alert

import (
	"sync"
	"time"
)

// dedupCache remembers recently sent alert keys until their window ends.
type dedupCache struct {
	now func() time.Time

	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupCache(now func() time.Time) *dedupCache {
	return &dedupCache{now: now, until: map[string]time.Time{}}
}

// allow reports whether key is outside its window and, if so, opens a new
// one. Past maxEntries the entries closest to expiry are evicted.
func (d *dedupCache) allow(key string, window time.Duration, maxEntries int) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.until[key]; ok && now.Before(exp) {
		return false
	}
	for k, exp := range d.until {
		if !now.Before(exp) {
			delete(d.until, k)
		}
	}
	d.until[key] = now.Add(window)
	for len(d.until) > maxEntries {
		var oldest string
		for k, exp := range d.until {
			if oldest == "" || exp.Before(d.until[oldest]) {
				oldest = k
			}
		}
		delete(d.until, oldest)
	}
	return true
}

func (d *dedupCache) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.until)
}
