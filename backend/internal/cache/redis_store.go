package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// RedisStore is the broker-backed Store. Expiry is delegated to Redis (SET EX).
type RedisStore struct {
	rdb redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return b, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	// 逐个 DEL：集群模式下多 key 跨 slot 会报 CROSSSLOT
	pipe := s.rdb.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis DEL %v: %w", keys, err)
	}
	return nil
}

func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS %q: %w", key, err)
	}
	return n == 1, nil
}

type scanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

func scanKeys(ctx context.Context, c scanner, pattern string) ([]string, error) {
	var keys []string
	iter := c.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// DelPattern walks the keyspace with SCAN MATCH (KEYS would block the broker)
// and deletes what it finds. In cluster mode every master is scanned.
func (s *RedisStore) DelPattern(ctx context.Context, pattern string) (int, error) {
	var keys []string
	if cc, ok := s.rdb.(*redis.ClusterClient); ok {
		var mu sync.Mutex
		err := cc.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			found, err := scanKeys(ctx, c, pattern)
			if err != nil {
				return err
			}
			mu.Lock()
			keys = append(keys, found...)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
	} else {
		found, err := scanKeys(ctx, s.rdb, pattern)
		if err != nil {
			return 0, fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		keys = found
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.Del(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	tx := s.rdb.TxPipeline()
	incr := tx.IncrBy(ctx, key, amount)
	if ttl > 0 {
		tx.Expire(ctx, key, ttl)
	}
	if _, err := tx.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis INCRBY %q: %w", key, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
