package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRUCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetMiss", testGetMiss},
		{"GetExpired", testGetExpired},
		{"EvictsLeastRecentlyUsed", testEvictsLeastRecentlyUsed},
		{"GetPromotesEntry", testGetPromotesEntry},
		{"SetUpdatesExisting", testSetUpdatesExisting},
		{"ConcurrentAccess", testConcurrentAccess},
		{"SizeReflectsEntryCount", testSizeReflectsEntryCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testSetAndGet(t *testing.T) {
	c := NewLRUCache(10, 5*time.Second)
	c.Set("sol ring", []string{"sol-ring-c21", "sol-ring-lea"})

	got, ok := c.Get("sol ring")
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}
	printings, ok := got.([]string)
	if !ok || len(printings) != 2 {
		t.Fatalf("expected 2 cached printings, got %v", got)
	}
}

func testGetMiss(t *testing.T) {
	c := NewLRUCache(10, 5*time.Second)

	if _, ok := c.Get("command tower"); ok {
		t.Fatal("expected cache miss for absent key")
	}
}

func testGetExpired(t *testing.T) {
	c := NewLRUCache(10, 1*time.Millisecond)
	c.Set("sol ring", "v")

	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("sol ring"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Fatalf("expected lazy eviction on Get, size is %d", c.Size())
	}
}

func testEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(2, 5*time.Second)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected least recently used entry to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected newer entry to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected newest entry to be present")
	}
}

func testGetPromotesEntry(t *testing.T) {
	c := NewLRUCache(2, 5*time.Second)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touching "a" makes "b" the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected cache hit")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected untouched entry to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected recently read entry to survive eviction")
	}
}

func testSetUpdatesExisting(t *testing.T) {
	c := NewLRUCache(10, 5*time.Second)
	c.Set("sol ring", "old")
	c.Set("sol ring", "new")

	got, ok := c.Get("sol ring")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "new" {
		t.Fatalf("expected updated value, got %v", got)
	}
	if c.Size() != 1 {
		t.Fatalf("expected single entry after update, size is %d", c.Size())
	}
}

func testConcurrentAccess(t *testing.T) {
	c := NewLRUCache(100, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("card-%d-%d", n, j)
				c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
}

func testSizeReflectsEntryCount(t *testing.T) {
	c := NewLRUCache(10, 5*time.Second)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("card-%d", i), i)
	}
	if c.Size() != 5 {
		t.Fatalf("expected size 5, got %d", c.Size())
	}
}
