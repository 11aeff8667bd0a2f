package cache

import (
	"fmt"
	"strings"
)

// 键语义（每种查询形状只有一个构造函数，避免手拼字符串）：
// - postsKey(limit, offset):                分页帖子列表
// - commentsKey(postID):                    某帖子的评论
// - notificationsKey(userID):               用户通知
// - eventGroupsKey(eventID):                某活动下的群组
// - groupMessagesKey(groupID, off, limit):  群消息分页
// - userSearchKey(query):                   用户搜索（小写归一化）
// - counterKey(key):                        短期计数器

const (
	keyPostsFmt         = "posts:%d:%d"
	keyPostsPattern     = "posts:*"
	keyCommentsFmt      = "comments:%s"
	keyNotificationsFmt = "notifications:%s"
	keyEventGroupsFmt   = "groups:event:%s"
	keyGroupMessagesFmt = "group_messages:%s:%d:%d"
	keyGroupMsgsPattern = "group_messages:%s:*"
	keyUserSearchFmt    = "users:search:%s"
	keyCounterFmt       = "counter:%s"
)

func postsKey(limit, offset int) string     { return fmt.Sprintf(keyPostsFmt, limit, offset) }
func commentsKey(postID string) string      { return fmt.Sprintf(keyCommentsFmt, postID) }
func notificationsKey(userID string) string { return fmt.Sprintf(keyNotificationsFmt, userID) }
func eventGroupsKey(eventID string) string  { return fmt.Sprintf(keyEventGroupsFmt, eventID) }
func groupMessagesPattern(groupID string) string {
	return fmt.Sprintf(keyGroupMsgsPattern, globEscaper.Replace(groupID))
}
func groupMessagesKey(groupID string, offset, limit int) string {
	return fmt.Sprintf(keyGroupMessagesFmt, groupID, offset, limit)
}
func userSearchKey(query string) string { return fmt.Sprintf(keyUserSearchFmt, NormalizeQuery(query)) }
func counterKey(key string) string      { return fmt.Sprintf(keyCounterFmt, key) }

// globEscaper quotes the metacharacters shared by Redis MATCH and path.Match,
// so an id like "a*" only ever matches itself.
var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// NormalizeQuery lowercases and trims a search query so equivalent searches share a key.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// LikeCounterKey names the short-lived like counter of a post or comment.
func LikeCounterKey(targetType, targetID string) string {
	return "like:" + targetType + ":" + targetID
}
