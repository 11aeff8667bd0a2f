package entity

// 房间名：post:<postId> / group:<groupId> / user:<userId> / conversation:<id>
func PostRoom(postID string) string         { return "post:" + postID }
func GroupRoom(groupID string) string       { return "group:" + groupID }
func UserRoom(userID string) string         { return "user:" + userID }
func ConversationRoom(convID string) string { return "conversation:" + convID }

// Server → client event names.
const (
	EventNewComment      = "new_comment"
	EventLikeUpdated     = "like_updated"
	EventNewPost         = "new_post"
	EventUserTyping      = "user_typing"
	EventNewNotification = "new_notification"
	EventGroupUpdated    = "group_updated"
	EventGroupMessage    = "group_message"
	EventChatNewMessage  = "chat:new_message"
	EventChatRead        = "chat:messages_read"
	EventUserPresence    = "user_presence"
	EventOnlineUsers     = "online_users"
	EventError           = "error"
)
