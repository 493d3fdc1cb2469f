package lru

import (
	"testing"
	"time"
)

func TestGetMissOnEmpty(t *testing.T) {
	c := New[string, int](10)
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New[string, string](10)
	c.Put("a", "1", 0)

	v, ok := c.Get("a")
	if !ok || v != "1" {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}
}

func TestExpiry(t *testing.T) {
	c := New[string, string](10)
	c.Put("a", "1", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1, 0)
	c.Put("b", 2, 0)
	c.Get("a") // a is now most recently used; b is LRU
	c.Put("c", 3, 0)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
}

func TestSweepRemovesExpiredEntriesOnly(t *testing.T) {
	c := New[string, int](10)
	c.Put("expired", 1, time.Millisecond)
	c.Put("fresh", 2, time.Hour)
	time.Sleep(5 * time.Millisecond)

	removed := c.Sweep()
	if removed != 1 {
		t.Fatalf("Sweep() removed %d, want 1", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New[string, int](10)
	c.Put("a", 1, 0)
	c.Put("b", 2, 0)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len() after Clear() = %d, want 0", c.Len())
	}
}
