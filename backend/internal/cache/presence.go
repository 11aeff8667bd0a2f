package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// 键语义：
// - onlineKey:   在线连接（ZSet<userId@instanceId, expireAtUnix>，score=expireAt）
// - namesKey:    userId@instanceId→username 映射（Hash）
// 每个进程只登记/注销自己的成员，一个进程下线不会把其他进程上仍在线的用户删掉。
// {online} 作为 hash tag，保证两个 key 在集群中落在同一个 slot，Lua 脚本才能同时操作。
const (
	keyOnline      = "presence:{online}"
	keyOnlineNames = "presence:{online}:names"
)

type PresenceMember struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// PresenceCache tracks which users hold a live socket anywhere in the cluster.
// Membership is a logical TTL refreshed by heartbeats, recorded per process:
// RemoveMember only drops this process's entry.
type PresenceCache interface {
	AddMember(ctx context.Context, userID, username string, ttl time.Duration) error
	RemoveMember(ctx context.Context, userID string) error
	// Online reports whether any process still holds a live entry for userID.
	Online(ctx context.Context, userID string) (bool, error)
	AliveMembers(ctx context.Context) ([]PresenceMember, error)
}

type redisPresence struct {
	rdb      redis.UniversalClient
	instance string
	now      func() time.Time
}

// NewRedisPresence records members under instanceID, which must be unique per process.
func NewRedisPresence(rdb redis.UniversalClient, instanceID string) PresenceCache {
	return &redisPresence{rdb: rdb, instance: instanceID, now: time.Now}
}

func (p *redisPresence) member(userID string) string {
	return userID + "@" + p.instance
}

// userOf strips the instance suffix; user ids may themselves contain '@'.
func userOf(member string) string {
	if i := strings.LastIndexByte(member, '@'); i >= 0 {
		return member[:i]
	}
	return member
}

func (p *redisPresence) AddMember(ctx context.Context, userID, username string, ttl time.Duration) error {
	// 刷新TTL也直接调用AddMember即可
	tx := p.rdb.TxPipeline()
	expireAt := p.now().Add(ttl).Unix()
	m := p.member(userID)
	tx.ZAdd(ctx, keyOnline, redis.Z{Score: float64(expireAt), Member: m})
	tx.HSet(ctx, keyOnlineNames, m, username)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, userID string) error {
	tx := p.rdb.TxPipeline()
	m := p.member(userID)
	tx.ZRem(ctx, keyOnline, m)
	tx.HDel(ctx, keyOnlineNames, m)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) Online(ctx context.Context, userID string) (bool, error) {
	members, err := p.AliveMembers(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

var pruneScript = redis.NewScript(`
-- KEYS[1] = online zset, KEYS[2] = names hash, ARGV[1] = now (unix seconds)
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) AliveMembers(ctx context.Context) ([]PresenceMember, error) {
	// step1: 清理过期成员（expireAt <= now 视为过期）
	now := p.now().Unix()
	if err := pruneScript.Run(ctx, p.rdb, []string{keyOnline, keyOnlineNames}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// step2: 查询在线成员
	ids, err := p.rdb.ZRangeByScore(ctx, keyOnline, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// step3: 批量获取名字，并按用户去重（同一用户可能连在多个进程上）
	names, err := p.rdb.HMGet(ctx, keyOnlineNames, ids...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(ids))
	seen := make(map[string]int, len(ids))
	for i, id := range ids {
		name := ""
		if i < len(names) && names[i] != nil {
			name, _ = names[i].(string)
		}
		uid := userOf(id)
		if j, ok := seen[uid]; ok {
			if members[j].Username == "" {
				members[j].Username = name
			}
			continue
		}
		seen[uid] = len(members)
		members = append(members, PresenceMember{UserID: uid, Username: name})
	}
	return members, nil
}
