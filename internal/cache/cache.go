package cache

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var ErrBadCapacity = errors.New("cache: capacity must be positive")

// Entry is one cached record. CreatedAt is set on insert and never
// refreshed; Hits counts successful lookups.
type Entry struct {
	Value     any
	CreatedAt time.Time
	Hits      uint64
}

// Cache is a bounded map that prunes itself by hits-per-age weight. It
// holds at most capacity entries after any Add returns; inside Add it may
// briefly hold capacity+1 before the synchronous prune runs.
type Cache struct {
	mu       sync.Mutex
	capacity int
	clk      clock.Clock
	entries  map[string]*Entry
}

// New builds a cache. A nil clock means wall time; capacities below one
// are a configuration error.
func New(capacity int, clk clock.Clock) (*Cache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBadCapacity, capacity)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Cache{
		capacity: capacity,
		clk:      clk,
		entries:  make(map[string]*Entry),
	}, nil
}

// Check returns the value stored under key and counts the hit. A hit does
// not refresh CreatedAt; age keeps accruing across lookups. A miss has no
// side effect.
func (c *Cache) Check(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.Hits++
	return e.Value, true
}

// Add inserts value under key with a hit count of one. A key already
// present is left untouched, first write wins. Exceeding capacity triggers
// a prune before Add returns; the evicted count is reported.
func (c *Cache) Add(key string, value any) (evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return 0
	}
	c.entries[key] = &Entry{
		Value:     value,
		CreatedAt: c.clk.Now(),
		Hits:      1,
	}
	if len(c.entries) > c.capacity {
		return c.pruneLocked()
	}
	return 0
}

// Prune ranks every entry by weight and keeps the top floor(capacity/2),
// reporting how many were discarded.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked()
}

// Clear empties the cache unconditionally.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Peek returns a copy of the entry under key without counting a hit.
// Diagnostic surface; lookups that should count go through Check.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (c *Cache) pruneLocked() int {
	keep := c.capacity / 2
	if len(c.entries) <= keep {
		return 0
	}

	now := c.clk.Now()
	type ranked struct {
		key    string
		weight float64
	}
	all := make([]ranked, 0, len(c.entries))
	for key, e := range c.entries {
		all = append(all, ranked{key: key, weight: entryWeight(e, now)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].weight > all[j].weight })

	dropped := 0
	for _, r := range all[keep:] {
		delete(c.entries, r.key)
		dropped++
	}
	return dropped
}

// entryWeight is hits per second of age. Zero age means the entry was
// inserted at this exact instant; it weighs infinite and outranks all
// aged entries rather than faulting on the division.
func entryWeight(e *Entry, now time.Time) float64 {
	age := now.Sub(e.CreatedAt).Seconds()
	if age <= 0 {
		return math.Inf(1)
	}
	return float64(e.Hits) / age
}
