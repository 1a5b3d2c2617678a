package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFIFO(t *testing.T) {
	t.Run("evicts oldest inserted", func(t *testing.T) {
		c := NewFIFO[string, int](2)
		c.Add("a", 1)
		c.Add("b", 2)
		// reading must not refresh a
		if v, ok := c.Get("a"); !ok || v != 1 {
			t.Fatalf("Get(a) = %d, %v", v, ok)
		}
		if evicted := c.Add("c", 3); !evicted {
			t.Error("expected eviction")
		}
		if c.Contains("a") {
			t.Error("a should have been evicted first")
		}
		if !c.Contains("b") || !c.Contains("c") {
			t.Errorf("keys = %v", c.Keys())
		}
	})

	t.Run("capacity floor", func(t *testing.T) {
		c := NewFIFO[int, int](0)
		c.Add(1, 1)
		c.Add(2, 2)
		if c.Len() != 1 {
			t.Errorf("Len() = %d, want 1", c.Len())
		}
	})
}

func TestMemoryEdgeCache(t *testing.T) {
	ctx := context.Background()

	t.Run("miss then hit", func(t *testing.T) {
		c := NewMemoryEdgeCache(4)
		if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
			t.Fatalf("expected ErrMiss, got %v", err)
		}
		if err := c.Put(ctx, "k", &EdgeEntry{Status: 200, Body: []byte("x")}, time.Hour); err != nil {
			t.Fatal(err)
		}
		got, err := c.Get(ctx, "k")
		if err != nil || string(got.Body) != "x" {
			t.Fatalf("Get = %v, %v", got, err)
		}
	})

	t.Run("expires after ttl", func(t *testing.T) {
		c := NewMemoryEdgeCache(4)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }
		_ = c.Put(ctx, "k", &EdgeEntry{Status: 200}, time.Hour)

		now = now.Add(61 * time.Minute)
		if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
			t.Errorf("expected expired entry to miss, got %v", err)
		}
	})
}

func TestHashKey(t *testing.T) {
	a := hashKey("https://edge/api/proxy?url=a")
	b := hashKey("https://edge/api/proxy?url=b")
	if a == b || len(a) != 64 {
		t.Errorf("hashKey gave %q and %q", a, b)
	}
}
