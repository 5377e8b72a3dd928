package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTTLCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"GetMiss", testGetMiss},
		{"DefaultTTLExpiry", testDefaultTTLExpiry},
		{"SetUntilExpiry", testSetUntilExpiry},
		{"SetOverMaxSizeEvictsOldest", testSetOverMaxSizeEvictsOldest},
		{"SetUpdatesExisting", testSetUpdatesExisting},
		{"InvalidateFunc", testInvalidateFunc},
		{"Sweep", testSweep},
		{"ConcurrentAccess", testConcurrentAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testGetMiss(t *testing.T) {
	c := NewTTLCache[string](10, time.Minute)
	got, ok := c.Get("missing")
	if ok {
		t.Fatal("expected cache miss")
	}
	if got != "" {
		t.Fatalf("expected zero value on miss, got %q", got)
	}
}

func testDefaultTTLExpiry(t *testing.T) {
	clock := newClock()
	c := NewTTLCache[int](10, time.Minute).WithClock(clock.Now)
	c.Set("k", 7)

	clock.Advance(59 * time.Second)
	if v, ok := c.Get("k"); !ok || v != 7 {
		t.Fatalf("expected hit with 7 before expiry, got %v %v", v, ok)
	}

	clock.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss at expiry")
	}
	if c.Size() != 0 {
		t.Fatalf("expected expired entry removed, size %d", c.Size())
	}
}

func testSetUntilExpiry(t *testing.T) {
	clock := newClock()
	c := NewTTLCache[string](10, time.Hour).WithClock(clock.Now)
	c.SetUntil("short", "v", clock.Now().Add(5*time.Second))

	clock.Advance(6 * time.Second)
	if _, ok := c.Get("short"); ok {
		t.Fatal("expected per-entry expiry to override the default TTL")
	}
}

func testSetOverMaxSizeEvictsOldest(t *testing.T) {
	clock := newClock()
	c := NewTTLCache[int](3, time.Minute).WithClock(clock.Now)

	for i, k := range []string{"a", "b", "c"} {
		c.Set(k, i)
		clock.Advance(time.Millisecond)
	}
	c.Set("d", 3)

	if c.Size() != 3 {
		t.Fatalf("expected size 3 after eviction, got %d", c.Size())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected 'a' to be evicted")
	}
	for _, key := range []string{"b", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Fatalf("expected %q to still be in cache", key)
		}
	}
}

func testSetUpdatesExisting(t *testing.T) {
	c := NewTTLCache[string](1, time.Minute)
	c.Set("k", "old")
	c.Set("k", "new")

	if got, _ := c.Get("k"); got != "new" {
		t.Fatalf("expected %q, got %q", "new", got)
	}
	if c.Size() != 1 {
		t.Fatalf("expected size 1 after update, got %d", c.Size())
	}
}

func testInvalidateFunc(t *testing.T) {
	c := NewTTLCache[int](10, time.Minute)
	c.Set("acme|/a", 1)
	c.Set("acme|/b", 2)
	c.Set("globex|/a", 3)

	n := c.InvalidateFunc(func(k string) bool { return k[:4] == "acme" })
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, ok := c.Get("globex|/a"); !ok {
		t.Fatal("expected other company's entry to survive")
	}
}

func testSweep(t *testing.T) {
	clock := newClock()
	c := NewTTLCache[int](10, time.Minute).WithClock(clock.Now)
	c.Set("old", 1)
	c.SetUntil("fresh", 2, clock.Now().Add(time.Hour))

	clock.Advance(2 * time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if c.Size() != 1 {
		t.Fatalf("expected size 1, got %d", c.Size())
	}
}

func testConcurrentAccess(t *testing.T) {
	c := NewTTLCache[[]byte](100, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", id, j)
				c.Set(key, []byte(key))
				c.Get(key)
				if j%10 == 0 {
					c.Invalidate(key)
				}
			}
		}(i)
	}
	wg.Wait()

	if c.Size() > 100 {
		t.Fatalf("expected size <= 100, got %d", c.Size())
	}
}
