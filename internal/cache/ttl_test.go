package cache

import (
	"testing"
	"time"
)

func TestTTLCacheGetSet(t *testing.T) {
	c := NewTTLCache[string, int]()

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	c.Set("a", 1, time.Minute)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit with value 1, got %v %v", v, ok)
	}

	c.Set("b", 2, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected entry to expire")
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected deleted entry to miss")
	}
}

func TestTTLCacheSetIfAbsent(t *testing.T) {
	c := NewTTLCache[string, struct{}]()

	if !c.SetIfAbsent("k", struct{}{}, time.Minute) {
		t.Fatalf("first writer should win")
	}
	if c.SetIfAbsent("k", struct{}{}, time.Minute) {
		t.Fatalf("second writer should lose while the entry is live")
	}

	if !c.SetIfAbsent("short", struct{}{}, 10*time.Millisecond) {
		t.Fatalf("first writer should win")
	}
	time.Sleep(20 * time.Millisecond)
	if !c.SetIfAbsent("short", struct{}{}, time.Minute) {
		t.Fatalf("expired entry should not block a new writer")
	}

	if c.SetIfAbsent("zero", struct{}{}, 0) {
		t.Fatalf("non-positive ttl should never store")
	}
}
