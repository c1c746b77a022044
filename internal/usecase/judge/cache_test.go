package judge

import (
	"testing"
	"time"
)

func TestCache_TTL(t *testing.T) {
	c := NewCache(10, 50*time.Millisecond)

	c.Put("a", 1.5)
	if s, ok := c.Get("a"); !ok || s != 1.5 {
		t.Fatalf("expected live entry, got %v %v", s, ok)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry")
	}
}

func TestCache_ReadsDoNotExtendTTL(t *testing.T) {
	c := NewCache(10, 80*time.Millisecond)

	c.Put("a", 1)
	for range 3 {
		time.Sleep(30 * time.Millisecond)
		c.Get("a")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected entry expired despite reads")
	}
}

func TestCache_EvictsOldestStored(t *testing.T) {
	c := NewCache(2, time.Hour)

	c.Put("a", 1)
	c.Put("b", 2)
	// reads do not refresh
	c.Get("a")
	c.Put("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("expected oldest entry evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b kept")
	}
	if c.Len() != 2 {
		t.Errorf("expected len 2, got %d", c.Len())
	}

	// rewriting moves b ahead of c
	c.Put("b", 20)
	c.Put("d", 4)
	if _, ok := c.Get("c"); ok {
		t.Error("expected c evicted after b was rewritten")
	}
	if s, _ := c.Get("b"); s != 20 {
		t.Errorf("expected updated score, got %v", s)
	}
}
