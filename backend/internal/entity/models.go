package entity

import "time"

// 行模型与广播负载共用同一组结构体；ID 统一为字符串（uuid），便于拼接房间名和缓存键。

type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username    string    `gorm:"type:varchar(64);uniqueIndex" json:"username"`
	DisplayName string    `gorm:"type:varchar(128)" json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Post struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	AuthorID     string    `gorm:"type:varchar(64);index" json:"authorId"`
	Content      string    `gorm:"type:text" json:"content"`
	LikeCount    uint64    `gorm:"default:0" json:"likeCount"`
	CommentCount uint64    `gorm:"default:0" json:"commentCount"`
	CreatedAt    time.Time `gorm:"index" json:"createdAt"`
}

type Comment struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PostID    string    `gorm:"type:varchar(64);index" json:"postId"`
	AuthorID  string    `gorm:"type:varchar(64)" json:"authorId"`
	Content   string    `gorm:"type:text" json:"content"`
	LikeCount uint64    `gorm:"default:0" json:"likeCount"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	TargetPost    = "post"
	TargetComment = "comment"
)

type Like struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID     string    `gorm:"type:varchar(64);uniqueIndex:idx_like_target" json:"userId"`
	TargetType string    `gorm:"type:varchar(16);uniqueIndex:idx_like_target" json:"targetType"`
	TargetID   string    `gorm:"type:varchar(64);uniqueIndex:idx_like_target" json:"targetId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Notification struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID    string    `gorm:"type:varchar(64);index" json:"userId"`
	Type      string    `gorm:"type:varchar(32)" json:"type"`
	Message   string    `gorm:"type:text" json:"message"`
	Read      bool      `gorm:"default:false" json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

type Group struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	EventID     string    `gorm:"type:varchar(64);index" json:"eventId"`
	Name        string    `gorm:"type:varchar(128)" json:"name"`
	MemberCount uint64    `gorm:"default:0" json:"memberCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type GroupMessage struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	GroupID   string    `gorm:"type:varchar(64);index" json:"groupId"`
	SenderID  string    `gorm:"type:varchar(64)" json:"senderId"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
