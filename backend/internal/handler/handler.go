package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"realtime-service/backend/internal/cache"
	"realtime-service/backend/internal/entity"
	"realtime-service/backend/internal/httpapi/middleware"
	"realtime-service/backend/internal/repo"
)

// Publisher is the slice of broadcast.Publisher the handlers need.
type Publisher interface {
	PublishPost(ctx context.Context, p entity.Post) error
	PublishComment(ctx context.Context, c entity.Comment) error
	PublishLike(ctx context.Context, e entity.LikeEvent) error
}

const (
	defaultLimit = 20
	maxLimit     = 100
	searchLimit  = 20
)

type Deps struct {
	Posts    repo.PostRepo
	Comments repo.CommentRepo
	Likes    repo.LikeRepo
	Users    repo.UserRepo
	Cache    *cache.Service
	Pub      Publisher
	Log      zerolog.Logger
}

// Handler is the reference write path: persist, invalidate, then publish.
// Publish failures are logged; the write has already committed.
type Handler struct {
	Deps
	now func() time.Time
}

func New(d Deps) *Handler {
	return &Handler{Deps: d, now: time.Now}
}

// Register mounts the routes; writes go through requireUser.
func (h *Handler) Register(r gin.IRouter, requireUser gin.HandlerFunc) {
	r.GET("/posts", h.ListPosts())
	r.POST("/posts", requireUser, h.CreatePost())
	r.GET("/posts/:id/comments", h.ListComments())
	r.POST("/posts/:id/comments", requireUser, h.CreateComment())
	r.POST("/likes/toggle", requireUser, h.ToggleLike())
	r.GET("/likes/activity", h.LikeActivity())
	r.GET("/users/search", h.SearchUsers())
}

func queryInt(c *gin.Context, name string, def, min, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, false
	}
	return n, true
}

func (h *Handler) ListPosts() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit", defaultLimit, 1, maxLimit)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		offset, ok := queryInt(c, "offset", 0, 0, 1<<30)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		posts, err := h.Cache.LoadPosts(c.Request.Context(), limit, offset, func(ctx context.Context) ([]entity.Post, error) {
			return h.Posts.ListPosts(ctx, limit, offset)
		})
		if err != nil {
			h.Log.Error().Err(err).Msg("list posts")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list posts failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"posts": nonNil(posts)})
	}
}

type contentReq struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) CreatePost() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req contentReq
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}
		ctx := c.Request.Context()
		post := entity.Post{
			ID:        uuid.NewString(),
			AuthorID:  c.GetString(middleware.KeyUserID),
			Content:   strings.TrimSpace(req.Content),
			CreatedAt: h.now().UTC(),
		}
		if err := h.Posts.CreatePost(ctx, &post); err != nil {
			h.Log.Error().Err(err).Msg("create post")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create post failed"})
			return
		}
		h.Cache.InvalidatePostsCache(ctx)
		if err := h.Pub.PublishPost(ctx, post); err != nil {
			h.Log.Warn().Err(err).Str("post", post.ID).Msg("publish new post")
		}
		c.JSON(http.StatusCreated, post)
	}
}

func (h *Handler) ListComments() gin.HandlerFunc {
	return func(c *gin.Context) {
		postID := c.Param("id")
		comments, err := h.Cache.LoadComments(c.Request.Context(), postID, func(ctx context.Context) ([]entity.Comment, error) {
			return h.Comments.ListComments(ctx, postID)
		})
		if err != nil {
			h.Log.Error().Err(err).Str("post", postID).Msg("list comments")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list comments failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"comments": nonNil(comments)})
	}
}

func (h *Handler) CreateComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req contentReq
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}
		ctx := c.Request.Context()
		comment := entity.Comment{
			ID:        uuid.NewString(),
			PostID:    c.Param("id"),
			AuthorID:  c.GetString(middleware.KeyUserID),
			Content:   strings.TrimSpace(req.Content),
			CreatedAt: h.now().UTC(),
		}
		if err := h.Comments.CreateComment(ctx, &comment); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
				return
			}
			h.Log.Error().Err(err).Str("post", comment.PostID).Msg("create comment")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create comment failed"})
			return
		}
		h.Cache.InvalidateCommentsCache(ctx, comment.PostID)
		// 评论数变化也会影响帖子列表
		h.Cache.InvalidatePostsCache(ctx)
		if err := h.Pub.PublishComment(ctx, comment); err != nil {
			h.Log.Warn().Err(err).Str("comment", comment.ID).Msg("publish new comment")
		}
		c.JSON(http.StatusCreated, comment)
	}
}

type likeReq struct {
	TargetType string `json:"targetType" binding:"required"`
	TargetID   string `json:"targetId" binding:"required"`
}

func (h *Handler) ToggleLike() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req likeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.TargetType != entity.TargetPost && req.TargetType != entity.TargetComment {
			c.JSON(http.StatusBadRequest, gin.H{"error": "targetType must be post or comment"})
			return
		}
		ctx := c.Request.Context()
		userID := c.GetString(middleware.KeyUserID)

		res, err := h.Likes.ToggleLike(ctx, userID, req.TargetType, req.TargetID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": req.TargetType + " not found"})
				return
			}
			h.Log.Error().Err(err).Str("target", req.TargetID).Msg("toggle like")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "toggle like failed"})
			return
		}

		delta := int64(-1)
		if res.Liked {
			delta = 1
		}
		h.Cache.IncrementCounter(ctx, cache.LikeCounterKey(req.TargetType, req.TargetID), delta)
		if req.TargetType == entity.TargetPost {
			h.Cache.InvalidatePostsCache(ctx)
		} else {
			h.Cache.InvalidateCommentsCache(ctx, res.PostID)
		}

		evt := entity.LikeEvent{
			TargetType: req.TargetType,
			TargetID:   req.TargetID,
			PostID:     res.PostID,
			NewCount:   res.Count,
			IsLiked:    res.Liked,
			UserID:     userID,
		}
		if err := h.Pub.PublishLike(ctx, evt); err != nil {
			h.Log.Warn().Err(err).Str("target", req.TargetID).Msg("publish like")
		}
		c.JSON(http.StatusOK, gin.H{"liked": res.Liked, "count": res.Count})
	}
}

// LikeActivity reports the net like toggles of a target inside the counter
// window (CounterTTL since the last toggle). An expired or missing counter reads as 0.
func (h *Handler) LikeActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		targetType, targetID := c.Query("targetType"), c.Query("targetId")
		if targetType != entity.TargetPost && targetType != entity.TargetComment {
			c.JSON(http.StatusBadRequest, gin.H{"error": "targetType must be post or comment"})
			return
		}
		if targetID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing targetId"})
			return
		}
		n, _ := h.Cache.GetCounter(c.Request.Context(), cache.LikeCounterKey(targetType, targetID))
		c.JSON(http.StatusOK, gin.H{"targetType": targetType, "targetId": targetID, "recentDelta": n})
	}
}

func (h *Handler) SearchUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		q := cache.NormalizeQuery(c.Query("q"))
		if q == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing q"})
			return
		}
		users, err := h.Cache.LoadUserSearch(c.Request.Context(), q, func(ctx context.Context) ([]entity.User, error) {
			return h.Users.SearchUsers(ctx, q, searchLimit)
		})
		if err != nil {
			h.Log.Error().Err(err).Str("q", q).Msg("search users")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": nonNil(users)})
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
