package dispatch

import (
	"context"
	"slices"
	"sync"
	"time"

	"notifyd/internal/storage"
)

// dedupCache maps a key to the time until which repeats are suppressed.
type dedupCache struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func newDedupCache() *dedupCache {
	return &dedupCache{m: map[string]time.Time{}}
}

func (c *dedupCache) suppressed(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.m[key]
	return ok && now.Before(until)
}

// set records key and prunes expired entries, then evicts the soonest to
// expire until the cache fits max.
func (c *dedupCache) set(key string, until, now time.Time, max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = until
	for k, t := range c.m {
		if !now.Before(t) {
			delete(c.m, k)
		}
	}
	if max <= 0 || len(c.m) <= max {
		return
	}
	type entry struct {
		key   string
		until time.Time
	}
	all := make([]entry, 0, len(c.m))
	for k, t := range c.m {
		all = append(all, entry{k, t})
	}
	slices.SortFunc(all, func(a, b entry) int { return a.until.Compare(b.until) })
	for _, e := range all[:len(all)-max] {
		delete(c.m, e.key)
	}
}

func (c *dedupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, st storage.Store, pch chan<- dedupWrite) bool {
	now := time.Now()
	if s.dedup.suppressed(key, now) {
		return false
	}

	// The store remembers keys across restarts.
	if cfg.PersistDedup && st != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dedup.set(key, until, now, cfg.DedupMaxEntries)
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.dedup.set(key, until, now, cfg.DedupMaxEntries)

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}
