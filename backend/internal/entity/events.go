package entity

import "time"

// LikeEvent is the like_updated payload. PostID is required when TargetType
// is "comment" so subscribers can route to the owning post room.
type LikeEvent struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	PostID     string `json:"postId,omitempty"`
	NewCount   int64  `json:"newCount"`
	IsLiked    bool   `json:"isLiked"`
	UserID     string `json:"userId,omitempty"`
}

const (
	ChatKindMessage = "message"
	ChatKindRead    = "read"
)

type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ChatRead struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	MessageID      string    `json:"messageId,omitempty"`
	ReadAt         time.Time `json:"readAt"`
}

type PresenceEvent struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	Online   bool      `json:"online"`
	At       time.Time `json:"at"`
}
