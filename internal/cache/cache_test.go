package cache

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(maxSize int) (*Cache, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(maxSize, WithClock(func() time.Time { return now }))
	return c, &now
}

func TestGetMissThenHit(t *testing.T) {
	c, _ := newTestCache(10)

	if _, ok := c.Get(Key("listing", "l1")); ok {
		t.Fatal("Expected miss on empty cache")
	}

	c.Set(Key("listing", "l1"), "value", time.Minute)
	v, ok := c.Get(Key("listing", "l1"))
	if !ok || v != "value" {
		t.Fatalf("Expected hit with value, got %v, %v", v, ok)
	}
}

func TestTTLExpiry(t *testing.T) {
	c, now := newTestCache(10)

	c.Set(Key("listing", "l1"), "value", time.Minute)

	*now = now.Add(59 * time.Second)
	if _, ok := c.Get(Key("listing", "l1")); !ok {
		t.Fatal("Expected hit before TTL expiry")
	}

	*now = now.Add(2 * time.Second)
	if _, ok := c.Get(Key("listing", "l1")); ok {
		t.Fatal("Expected miss after TTL expiry")
	}
	if c.Len() != 0 {
		t.Errorf("Expected expired entry removed, len = %d", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	c, _ := newTestCache(2)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	// Touch "a" so "b" becomes least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Expected hit on a")
	}

	c.Set("c", 3, time.Minute)

	if _, ok := c.Get("b"); ok {
		t.Error("Expected b evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected a retained")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("Expected c retained")
	}
	if evictions := c.Stats().Evictions; evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", evictions)
	}
}

func TestInvalidateExactAndPrefix(t *testing.T) {
	c, _ := newTestCache(10)

	c.Set(Key("offer", "o1"), "offer1", time.Minute)
	c.Set(Key("offer", "o2"), "offer2", time.Minute)
	c.Set(QueryKey("offer", "listing", "l1"), "list", time.Minute)
	c.Set(Key("listing", "l1"), "listing", time.Minute)

	if removed := c.Invalidate(Key("offer", "o1")); removed != 1 {
		t.Fatalf("Expected exact invalidation to remove 1, removed %d", removed)
	}

	if removed := c.Invalidate("offer/"); removed != 2 {
		t.Fatalf("Expected prefix invalidation to remove 2, removed %d", removed)
	}

	if _, ok := c.Get(Key("listing", "l1")); !ok {
		t.Error("Expected other entity untouched by prefix invalidation")
	}
}

func TestStats(t *testing.T) {
	c, _ := newTestCache(10)

	c.Set("k", "v", time.Minute)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Fatalf("Expected 2 hits and 1 miss, got %+v", stats)
	}
	if want := 2.0 / 3.0; stats.HitRate != want {
		t.Errorf("Expected hit rate %v, got %v", want, stats.HitRate)
	}
	if stats.Size != 1 {
		t.Errorf("Expected size 1, got %d", stats.Size)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(100)
	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 500; i++ {
				key := Key("listing", fmt.Sprintf("%d-%d", w, i%50))
				c.Set(key, i, time.Minute)
				c.Get(key)
				if i%10 == 0 {
					c.Invalidate(QueryPrefix("listing"))
				}
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}
}
