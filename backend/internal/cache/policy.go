package cache

import (
	"context"
	"fmt"
	"time"

	"realtime-service/backend/internal/entity"
)

// readThrough 组合策略：先读缓存，未命中回源，再写回缓存。
// 回源失败直接返回错误，不写缓存。开启 SingleFlight 时同一个 key 的并发未命中只回源一次。
func readThrough[T any](ctx context.Context, s *Service, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	load := func() (T, error) {
		var v T
		if s.getJSON(ctx, key, &v) {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		s.setJSON(ctx, key, v, ttl)
		return v, nil
	}
	if !s.singleFlight {
		return load()
	}

	res, err, _ := s.sf.Do(key, func() (any, error) {
		return load()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	// 使用断言确保不会panic
	v, ok := res.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: unexpected single-flight result %T for %q", res, key)
	}
	return v, nil
}

func (s *Service) LoadPosts(ctx context.Context, limit, offset int, fetch func(context.Context) ([]entity.Post, error)) ([]entity.Post, error) {
	return readThrough(ctx, s, postsKey(limit, offset), PostsTTL, fetch)
}

func (s *Service) LoadComments(ctx context.Context, postID string, fetch func(context.Context) ([]entity.Comment, error)) ([]entity.Comment, error) {
	return readThrough(ctx, s, commentsKey(postID), CommentsTTL, fetch)
}

func (s *Service) LoadUserSearch(ctx context.Context, query string, fetch func(context.Context) ([]entity.User, error)) ([]entity.User, error) {
	return readThrough(ctx, s, userSearchKey(query), UserSearchTTL, fetch)
}

func (s *Service) LoadNotifications(ctx context.Context, userID string, fetch func(context.Context) ([]entity.Notification, error)) ([]entity.Notification, error) {
	return readThrough(ctx, s, notificationsKey(userID), NotificationsTTL, fetch)
}
