package mysqldb

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"realtime-service/backend/internal/entity"
	"realtime-service/backend/internal/repo"
)

var (
	_ repo.PostRepo    = (*Repo)(nil)
	_ repo.CommentRepo = (*Repo)(nil)
	_ repo.LikeRepo    = (*Repo)(nil)
	_ repo.UserRepo    = (*Repo)(nil)
)

// Repo implements every repo contract on one gorm handle.
type Repo struct {
	db *gorm.DB
}

func NewMySQLRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) ListPosts(ctx context.Context, limit, offset int) ([]entity.Post, error) {
	var posts []entity.Post
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&posts).Error
	return posts, err
}

func (r *Repo) CreatePost(ctx context.Context, p *entity.Post) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repo) ListComments(ctx context.Context, postID string) ([]entity.Comment, error) {
	var comments []entity.Comment
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("created_at ASC").Find(&comments).Error
	return comments, err
}

func (r *Repo) CreateComment(ctx context.Context, c *entity.Comment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.Post{}).Where("id = ?", c.PostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repo.ErrNotFound
		}
		return tx.Create(c).Error
	})
}

func (r *Repo) ToggleLike(ctx context.Context, userID, targetType, targetID string) (repo.LikeResult, error) {
	var out repo.LikeResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := likeTarget(targetType)
		if err != nil {
			return err
		}
		if targetType == entity.TargetComment {
			var c entity.Comment
			if err := tx.Select("post_id").Where("id = ?", targetID).First(&c).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return repo.ErrNotFound
				}
				return err
			}
			out.PostID = c.PostID
		}

		del := tx.Where("user_id = ? AND target_type = ? AND target_id = ?", userID, targetType, targetID).Delete(&entity.Like{})
		if del.Error != nil {
			return del.Error
		}
		delta := "like_count - 1"
		if del.RowsAffected == 0 {
			like := entity.Like{ID: uuid.NewString(), UserID: userID, TargetType: targetType, TargetID: targetID}
			if err := tx.Create(&like).Error; err != nil {
				// 并发点赞撞上唯一索引：另一个请求已经点过，视为已点赞
				if !isDuplicate(err) {
					return err
				}
				out.Liked = true
				return readCount(tx, target, targetID, &out)
			}
			out.Liked = true
			delta = "like_count + 1"
		}

		res := tx.Model(target).Where("id = ?", targetID).UpdateColumn("like_count", gorm.Expr(delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repo.ErrNotFound
		}
		return readCount(tx, target, targetID, &out)
	})
	return out, err
}

func likeTarget(targetType string) (any, error) {
	switch targetType {
	case entity.TargetPost:
		return &entity.Post{}, nil
	case entity.TargetComment:
		return &entity.Comment{}, nil
	}
	return nil, repo.ErrNotFound
}

func readCount(tx *gorm.DB, model any, id string, out *repo.LikeResult) error {
	var count int64
	err := tx.Model(model).Select("like_count").Where("id = ?", id).Scan(&count).Error
	out.Count = count
	return err
}

func (r *Repo) SearchUsers(ctx context.Context, query string, limit int) ([]entity.User, error) {
	var users []entity.User
	like := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	err := r.db.WithContext(ctx).
		Where("LOWER(username) LIKE ? OR LOWER(display_name) LIKE ?", like, like).
		Order("username ASC").Limit(limit).Find(&users).Error
	return users, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
