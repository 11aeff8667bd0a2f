package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"realtime-service/backend/internal/entity"
)

const (
	PostsTTL         = 300 * time.Second
	CommentsTTL      = 180 * time.Second
	UserSearchTTL    = 600 * time.Second
	CounterTTL       = 60 * time.Second
	NotificationsTTL = 120 * time.Second
	EventGroupsTTL   = 300 * time.Second
	GroupMessagesTTL = 60 * time.Second
)

type Options struct {
	// SingleFlight coalesces concurrent misses on the same key into one fetch.
	// Off by default: every missing reader goes to the datastore.
	SingleFlight bool
}

// Service is the only way collaborators touch the cache. Store failures stop
// here: they are logged and reported as a miss (reads) or ignored (writes),
// so a broken broker never fails a request.
type Service struct {
	store        Store
	log          zerolog.Logger
	singleFlight bool
	sf           singleflight.Group
}

func NewService(store Store, log zerolog.Logger, opt Options) *Service {
	return &Service{store: store, log: log, singleFlight: opt.SingleFlight}
}

func (s *Service) getJSON(ctx context.Context, key string, dst any) bool {
	b, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			s.log.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		}
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache entry undecodable, dropping")
		s.del(ctx, key)
		return false
	}
	return true
}

func (s *Service) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache value not encodable")
		return
	}
	if err := s.store.Set(ctx, key, b, ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (s *Service) del(ctx context.Context, keys ...string) {
	if err := s.store.Del(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Strs("keys", keys).Msg("cache del failed")
	}
}

func (s *Service) delPattern(ctx context.Context, pattern string) {
	n, err := s.store.DelPattern(ctx, pattern)
	if err != nil {
		s.log.Warn().Err(err).Str("pattern", pattern).Msg("cache pattern invalidation failed")
		return
	}
	s.log.Debug().Str("pattern", pattern).Int("deleted", n).Msg("cache invalidated")
}

// ---- posts ----

func (s *Service) CachePosts(ctx context.Context, posts []entity.Post, limit, offset int) {
	s.setJSON(ctx, postsKey(limit, offset), posts, PostsTTL)
}

func (s *Service) GetCachedPosts(ctx context.Context, limit, offset int) ([]entity.Post, bool) {
	var posts []entity.Post
	ok := s.getJSON(ctx, postsKey(limit, offset), &posts)
	return posts, ok
}

// InvalidatePostsCache drops every paged post list: any page may now be stale.
func (s *Service) InvalidatePostsCache(ctx context.Context) {
	s.delPattern(ctx, keyPostsPattern)
}

// ---- comments ----

func (s *Service) CacheComments(ctx context.Context, postID string, comments []entity.Comment) {
	s.setJSON(ctx, commentsKey(postID), comments, CommentsTTL)
}

func (s *Service) GetCachedComments(ctx context.Context, postID string) ([]entity.Comment, bool) {
	var comments []entity.Comment
	ok := s.getJSON(ctx, commentsKey(postID), &comments)
	return comments, ok
}

func (s *Service) InvalidateCommentsCache(ctx context.Context, postID string) {
	s.del(ctx, commentsKey(postID))
}

// ---- user search ----

func (s *Service) CacheUserSearch(ctx context.Context, query string, results []entity.User) {
	s.setJSON(ctx, userSearchKey(query), results, UserSearchTTL)
}

func (s *Service) GetCachedUserSearch(ctx context.Context, query string) ([]entity.User, bool) {
	var users []entity.User
	ok := s.getJSON(ctx, userSearchKey(query), &users)
	return users, ok
}

// ---- notifications ----

func (s *Service) CacheNotifications(ctx context.Context, userID string, items []entity.Notification) {
	s.setJSON(ctx, notificationsKey(userID), items, NotificationsTTL)
}

func (s *Service) GetCachedNotifications(ctx context.Context, userID string) ([]entity.Notification, bool) {
	var items []entity.Notification
	ok := s.getJSON(ctx, notificationsKey(userID), &items)
	return items, ok
}

func (s *Service) InvalidateNotificationsCache(ctx context.Context, userID string) {
	s.del(ctx, notificationsKey(userID))
}

// ---- groups ----

func (s *Service) CacheEventGroups(ctx context.Context, eventID string, groups []entity.Group) {
	s.setJSON(ctx, eventGroupsKey(eventID), groups, EventGroupsTTL)
}

func (s *Service) GetCachedEventGroups(ctx context.Context, eventID string) ([]entity.Group, bool) {
	var groups []entity.Group
	ok := s.getJSON(ctx, eventGroupsKey(eventID), &groups)
	return groups, ok
}

func (s *Service) InvalidateEventGroupsCache(ctx context.Context, eventID string) {
	s.del(ctx, eventGroupsKey(eventID))
}

func (s *Service) CacheGroupMessages(ctx context.Context, groupID string, offset, limit int, msgs []entity.GroupMessage) {
	s.setJSON(ctx, groupMessagesKey(groupID, offset, limit), msgs, GroupMessagesTTL)
}

func (s *Service) GetCachedGroupMessages(ctx context.Context, groupID string, offset, limit int) ([]entity.GroupMessage, bool) {
	var msgs []entity.GroupMessage
	ok := s.getJSON(ctx, groupMessagesKey(groupID, offset, limit), &msgs)
	return msgs, ok
}

// InvalidateGroupMessagesCache drops every cached page of one group's messages.
func (s *Service) InvalidateGroupMessagesCache(ctx context.Context, groupID string) {
	s.delPattern(ctx, groupMessagesPattern(groupID))
}

// ---- counters ----

// IncrementCounter adds amount and refreshes the 60s ttl. The bool is false
// when the store failed; the counter is never authoritative.
func (s *Service) IncrementCounter(ctx context.Context, key string, amount int64) (int64, bool) {
	n, err := s.store.IncrBy(ctx, counterKey(key), amount, CounterTTL)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("counter increment failed")
		return 0, false
	}
	return n, true
}

func (s *Service) GetCounter(ctx context.Context, key string) (int64, bool) {
	b, err := s.store.Get(ctx, counterKey(key))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			s.log.Warn().Err(err).Str("key", key).Msg("counter get failed, treating as miss")
		}
		return 0, false
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("counter value corrupt")
		return 0, false
	}
	return n, true
}
