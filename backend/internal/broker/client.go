// Package broker builds go-redis clients for the shared broker. Each owner
// (cache store, publisher, subscriber) gets its own client so a subscriber
// in subscribe mode never competes with ordinary commands.
package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"realtime-service/backend/config"
)

func NewClient(cfg config.Redis) redis.UniversalClient {
	if len(cfg.Addrs) > 0 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.Addrs,
			Password:    cfg.Password,
			DialTimeout: 3 * time.Second,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 3 * time.Second,
	})
}

// Ping reports whether the broker answered within a short deadline.
func Ping(ctx context.Context, rdb redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
