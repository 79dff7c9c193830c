package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/bridgectl/internal/transport"
)

func TestAllowEnforcesBurst(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Now()

	if !l.Allow("pane.1", now) || !l.Allow("pane.1", now) {
		t.Fatal("burst tokens must be available immediately")
	}
	if l.Allow("pane.1", now) {
		t.Fatal("third envelope in the same instant must be denied")
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()

	if !l.Allow("pane.1", now) {
		t.Fatal("first envelope must pass")
	}
	if l.Allow("pane.1", now) {
		t.Fatal("bucket must be empty")
	}
	if !l.Allow("pane.1", now.Add(1100*time.Millisecond)) {
		t.Fatal("bucket must refill after a second")
	}
}

func TestAddressesAreIndependent(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()

	if !l.Allow("pane.1", now) {
		t.Fatal("pane.1 first envelope must pass")
	}
	if l.Allow("pane.1", now) {
		t.Fatal("pane.1 must be exhausted")
	}
	if !l.Allow("pane.2", now) {
		t.Fatal("pane.2 must have its own bucket")
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	for i := 0; i < 100; i++ {
		if !l.Allow("pane.1", time.Now()) {
			t.Fatal("nil limiter must never deny")
		}
	}
	if l.Len() != 0 {
		t.Fatal("nil limiter holds no buckets")
	}
}

func TestInvalidParametersYieldNil(t *testing.T) {
	if New(0, 1, time.Minute) != nil {
		t.Fatal("zero rps must yield the unlimited limiter")
	}
	if New(1, 0, time.Minute) != nil {
		t.Fatal("zero burst must yield the unlimited limiter")
	}
}

func TestBlankAddressBypasses(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()
	for i := 0; i < 10; i++ {
		if !l.Allow("  ", now) {
			t.Fatal("blank address must bypass limiting")
		}
	}
	if l.Len() != 0 {
		t.Fatalf("blank address must not allocate a bucket, got %d", l.Len())
	}
}

func TestIdleBucketsAreSweptOut(t *testing.T) {
	l := New(1000, 1000, time.Minute)
	start := time.Now()

	l.Allow("pane.old", start)
	later := start.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		l.Allow(transport.Addr(fmt.Sprintf("pane.%d", i%4)), later)
	}
	if l.Len() != 4 {
		t.Fatalf("expected idle bucket to be swept, got %d live buckets", l.Len())
	}
}
