package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedStore(capacity int) (*MemoryStore, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewMemoryStore(MemoryOptions{Capacity: capacity, Now: clk.Now}), clk
}

func TestMemoryStoreRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	s, clk := newClockedStore(0)

	if err := s.Set(ctx, "k", []byte("v"), 2*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v; want v", got, err)
	}

	clk.Advance(2 * time.Second)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("entry at exactly ttl should still be live, got %v", err)
	}

	clk.Advance(time.Millisecond)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after ttl, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry should be removed on access, len=%d", s.Len())
	}
}

func TestMemoryStoreNoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	s, clk := newClockedStore(0)
	_ = s.Set(ctx, "k", []byte("v"), 0)
	clk.Advance(24 * time.Hour)
	if ok, _ := s.Has(ctx, "k"); !ok {
		t.Fatalf("entry without ttl should not expire")
	}
}

func TestMemoryStoreKeyIsolation(t *testing.T) {
	ctx := context.Background()
	s, _ := newClockedStore(0)
	_ = s.Set(ctx, "posts:10:0", []byte("A"), time.Minute)
	_ = s.Set(ctx, "posts:10:10", []byte("B"), time.Minute)

	a, _ := s.Get(ctx, "posts:10:0")
	b, _ := s.Get(ctx, "posts:10:10")
	if string(a) != "A" || string(b) != "B" {
		t.Fatalf("got %q %q, want A B", a, b)
	}

	_ = s.Del(ctx, "posts:10:0")
	if _, err := s.Get(ctx, "posts:10:0"); !errors.Is(err, ErrMiss) {
		t.Fatalf("deleted key still present: %v", err)
	}
	if b, err := s.Get(ctx, "posts:10:10"); err != nil || string(b) != "B" {
		t.Fatalf("sibling key affected by delete: %q %v", b, err)
	}
}

func TestMemoryStoreEvictsOldestInserted(t *testing.T) {
	ctx := context.Background()
	s, _ := newClockedStore(2)
	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "b", []byte("2"), 0)
	// reading "a" does not protect it: eviction is by insertion order
	_, _ = s.Get(ctx, "a")
	_ = s.Set(ctx, "c", []byte("3"), 0)

	if ok, _ := s.Has(ctx, "a"); ok {
		t.Fatalf("oldest inserted key should have been evicted")
	}
	for _, k := range []string{"b", "c"} {
		if ok, _ := s.Has(ctx, k); !ok {
			t.Fatalf("key %q should survive", k)
		}
	}

	// replacing "b" re-inserts it, so "c" is now oldest
	_ = s.Set(ctx, "b", []byte("2b"), 0)
	_ = s.Set(ctx, "d", []byte("4"), 0)
	if ok, _ := s.Has(ctx, "c"); ok {
		t.Fatalf("c should be evicted after b was replaced")
	}
}

func TestMemoryStoreDelPattern(t *testing.T) {
	ctx := context.Background()
	s, _ := newClockedStore(0)
	for _, k := range []string{"posts:10:0", "posts:20:20", "comments:p1", "users:search:bob"} {
		_ = s.Set(ctx, k, []byte("x"), time.Minute)
	}
	n, err := s.DelPattern(ctx, "posts:*")
	if err != nil || n != 2 {
		t.Fatalf("DelPattern = %d, %v; want 2", n, err)
	}
	if ok, _ := s.Has(ctx, "comments:p1"); !ok {
		t.Fatalf("comments key must survive posts invalidation")
	}
	if _, err := s.DelPattern(ctx, "posts:["); err == nil {
		t.Fatalf("expected error for malformed pattern")
	}
}

func TestMemoryStoreIncrByRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	s, clk := newClockedStore(0)

	n, err := s.IncrBy(ctx, "likes", 2, time.Minute)
	if err != nil || n != 2 {
		t.Fatalf("IncrBy = %d, %v", n, err)
	}
	clk.Advance(50 * time.Second)
	if n, _ = s.IncrBy(ctx, "likes", -1, time.Minute); n != 1 {
		t.Fatalf("IncrBy = %d, want 1", n)
	}
	clk.Advance(50 * time.Second)
	if b, err := s.Get(ctx, "likes"); err != nil || string(b) != "1" {
		t.Fatalf("counter should survive thanks to ttl refresh: %q %v", b, err)
	}

	_ = s.Set(ctx, "text", []byte("abc"), 0)
	if _, err := s.IncrBy(ctx, "text", 1, 0); err == nil {
		t.Fatalf("expected error incrementing non-integer")
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s, _ := newClockedStore(0)
	in := []byte("abc")
	_ = s.Set(ctx, "k", in, 0)
	in[0] = 'x'

	out, _ := s.Get(ctx, "k")
	if string(out) != "abc" {
		t.Fatalf("store shared caller buffer: %q", out)
	}
	out[0] = 'y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("store leaked internal buffer: %q", again)
	}
}
