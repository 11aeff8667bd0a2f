package repo

import (
	"context"
	"errors"

	"realtime-service/backend/internal/entity"
)

var ErrNotFound = errors.New("repo: not found")

// 以下接口是数据层对外的业务契约；缓存与广播都在 handler 层组合，数据层只管持久化。

type PostRepo interface {
	ListPosts(ctx context.Context, limit, offset int) ([]entity.Post, error)
	CreatePost(ctx context.Context, p *entity.Post) error
}

type CommentRepo interface {
	ListComments(ctx context.Context, postID string) ([]entity.Comment, error)
	// CreateComment returns ErrNotFound when the post does not exist.
	CreateComment(ctx context.Context, c *entity.Comment) error
}

// LikeResult is the authoritative state after a toggle. PostID is the owning
// post for comment likes.
type LikeResult struct {
	Liked  bool
	Count  int64
	PostID string
}

type LikeRepo interface {
	// ToggleLike returns ErrNotFound when the target does not exist.
	ToggleLike(ctx context.Context, userID, targetType, targetID string) (LikeResult, error)
}

type UserRepo interface {
	SearchUsers(ctx context.Context, query string, limit int) ([]entity.User, error)
}
