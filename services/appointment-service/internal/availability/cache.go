package availability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MonthKey identifies one cached month projection.
type MonthKey struct {
	Year  int
	Month time.Month
}

func (k MonthKey) String() string { return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month)) }

func KeyOf(t time.Time) MonthKey { return MonthKey{Year: t.Year(), Month: t.Month()} }

// Cache stores month projections under a generation number. Invalidate
// bumps the generation, so a reader that computed a projection before a
// write can only store it under the old generation, never the live one.
type Cache interface {
	Generation(ctx context.Context, key MonthKey) (int64, error)
	Get(ctx context.Context, key MonthKey, gen int64) ([]Day, bool, error)
	Set(ctx context.Context, key MonthKey, gen int64, days []Day) error
	Invalidate(ctx context.Context, key MonthKey) error
}

type memoryEntry struct {
	gen     int64
	days    []Day
	expires time.Time
}

// MemoryCache is a single-process Cache.
type MemoryCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	gens    map[MonthKey]int64
	entries map[MonthKey]memoryEntry
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{
		ttl:     ttl,
		gens:    map[MonthKey]int64{},
		entries: map[MonthKey]memoryEntry{},
		now:     time.Now,
	}
}

func (c *MemoryCache) Generation(_ context.Context, key MonthKey) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key], nil
}

func (c *MemoryCache) Get(_ context.Context, key MonthKey, gen int64) ([]Day, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.gen != gen || c.now().After(e.expires) {
		return nil, false, nil
	}
	return append([]Day(nil), e.days...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key MonthKey, gen int64, days []Day) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gens[key] {
		return nil
	}
	c.entries[key] = memoryEntry{gen: gen, days: append([]Day(nil), days...), expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, key MonthKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	delete(c.entries, key)
	return nil
}
