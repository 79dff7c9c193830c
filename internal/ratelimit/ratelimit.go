// Package ratelimit applies per-pane token buckets to inbound envelopes.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/danmuck/bridgectl/internal/transport"
)

// sweepEvery bounds how often the idle scan runs; eviction cost is
// amortized across that many Allow calls.
const sweepEvery = 256

// Limiter applies a token bucket per pane address and evicts buckets
// that have gone idle. A nil Limiter allows everything, so a disabled
// limit needs no branching at call sites.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     sync.Mutex
	byAddr map[transport.Addr]*bucket
	calls  uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a per-address limiter; invalid arguments yield nil, the
// unlimited limiter.
func New(rps float64, burst int, idleTTL time.Duration) *Limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byAddr:  make(map[transport.Addr]*bucket),
	}
}

// Allow reports whether one envelope from addr may pass at now.
func (l *Limiter) Allow(addr transport.Addr, now time.Time) bool {
	if l == nil {
		return true
	}
	if strings.TrimSpace(string(addr)) == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byAddr[addr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byAddr[addr] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.calls++
	if l.calls%sweepEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byAddr {
			if v.lastSeen.Before(cutoff) {
				delete(l.byAddr, k)
			}
		}
	}
	return allowed
}

// Len reports how many address buckets are live. Admin HTTP surface.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byAddr)
}
