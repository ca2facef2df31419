package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAcquire(t *testing.T) {
	c := NewMemory()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := c.Acquire(ctx, "fetch:42", time.Minute)
	if !ok {
		t.Fatal("first acquire must succeed")
	}
	ok, _ = c.Acquire(ctx, "fetch:42", time.Minute)
	if ok {
		t.Fatal("second acquire within ttl must fail")
	}
	ok, _ = c.Acquire(ctx, "fetch:43", time.Minute)
	if !ok {
		t.Fatal("other key must be independent")
	}

	now = now.Add(time.Minute)
	ok, _ = c.Acquire(ctx, "fetch:42", time.Minute)
	if !ok {
		t.Fatal("acquire after ttl must succeed")
	}
}
