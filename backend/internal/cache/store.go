package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by a Store when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a TTL key-value store shared by every request in the process.
// Implementations return errors; Service is the boundary that turns them
// into misses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Has(ctx context.Context, key string) (bool, error)
	// DelPattern deletes every key matching a glob pattern and reports how many were removed.
	DelPattern(ctx context.Context, pattern string) (int, error)
	// IncrBy adds amount to an integer key and refreshes its ttl in the same step.
	IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)
	Close() error
}

// Entry is what MemoryStore keeps per key. Values are copied on the way in
// and on the way out; entries are replaced, never patched.
type Entry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}
