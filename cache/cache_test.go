package cache

import (
	"runtime"
	"testing"
	"time"
)

func TestGetMissAndHit(t *testing.T) {
	c := New[string](8)

	if _, ok := c.Get(Key("a"), time.Minute); ok {
		t.Error("hit on empty cache")
	}

	c.Set(Key("a"), "value")
	got, ok := c.Get(Key("a"), time.Minute)
	if !ok || got != "value" {
		t.Errorf("Get = %q, %v; want value, true", got, ok)
	}
}

func TestGetZeroMaxAgeBypasses(t *testing.T) {
	c := New[int](8)
	c.Set("k", 7)

	if _, ok := c.Get("k", 0); ok {
		t.Error("maxAge 0 must bypass the cache")
	}
}

func TestSetEvictsAtCapacity(t *testing.T) {
	c := New[int](3)
	for i, k := range []string{"a", "b", "c", "d"} {
		c.Set(k, i)
	}
	if c.Len() > 3 {
		t.Errorf("len = %d, want <= 3 after eviction", c.Len())
	}
}

func TestKeyDistinguishesParts(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("key must separate parts")
	}
	if Key("a", "b") != Key("a", "b") {
		t.Error("key must be deterministic")
	}
}

func TestCloseStopsCleanupGoroutine(t *testing.T) {
	before := runtime.NumGoroutine()

	caches := make([]*Cache[int], 100)
	for i := range caches {
		caches[i] = New[int](8)
	}
	for _, c := range caches {
		c.Close()
		c.Close() // idempotent
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("goroutines = %d, want near %d after Close", runtime.NumGoroutine(), before)
}
