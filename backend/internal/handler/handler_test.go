package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"realtime-service/backend/internal/cache"
	"realtime-service/backend/internal/entity"
	"realtime-service/backend/internal/httpapi/middleware"
	"realtime-service/backend/internal/repo"
)

type fakeRepo struct {
	mu       sync.Mutex
	posts    []entity.Post
	comments map[string][]entity.Comment
	likes    map[string]bool
	users    []entity.User
	calls    map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{comments: map[string][]entity.Comment{}, likes: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeRepo) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRepo) ListPosts(_ context.Context, limit, offset int) ([]entity.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListPosts"]++
	return append([]entity.Post(nil), f.posts...), nil
}

func (f *fakeRepo) CreatePost(_ context.Context, p *entity.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, *p)
	return nil
}

func (f *fakeRepo) ListComments(_ context.Context, postID string) ([]entity.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListComments"]++
	return append([]entity.Comment(nil), f.comments[postID]...), nil
}

func (f *fakeRepo) CreateComment(_ context.Context, c *entity.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.ID == c.PostID {
			f.comments[c.PostID] = append(f.comments[c.PostID], *c)
			return nil
		}
	}
	return repo.ErrNotFound
}

func (f *fakeRepo) ToggleLike(_ context.Context, userID, targetType, targetID string) (repo.LikeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := repo.LikeResult{}
	if targetType == entity.TargetComment {
		for postID, cs := range f.comments {
			for _, c := range cs {
				if c.ID == targetID {
					res.PostID = postID
				}
			}
		}
		if res.PostID == "" {
			return res, repo.ErrNotFound
		}
	}
	key := userID + "|" + targetType + "|" + targetID
	f.likes[key] = !f.likes[key]
	res.Liked = f.likes[key]
	if res.Liked {
		res.Count = 1
	}
	return res, nil
}

func (f *fakeRepo) SearchUsers(_ context.Context, query string, limit int) ([]entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SearchUsers"]++
	var out []entity.User
	for _, u := range f.users {
		if strings.Contains(strings.ToLower(u.Username), query) {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	posts    []entity.Post
	comments []entity.Comment
	likes    []entity.LikeEvent
	err      error
}

func (f *fakePublisher) PublishPost(_ context.Context, p entity.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, p)
	return f.err
}

func (f *fakePublisher) PublishComment(_ context.Context, c entity.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, c)
	return f.err
}

func (f *fakePublisher) PublishLike(_ context.Context, e entity.LikeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likes = append(f.likes, e)
	return f.err
}

type fixture struct {
	router *gin.Engine
	repo   *fakeRepo
	pub    *fakePublisher
	cache  *cache.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fr, fp := newFakeRepo(), &fakePublisher{}
	svc := cache.NewService(cache.NewMemoryStore(cache.MemoryOptions{}), zerolog.Nop(), cache.Options{})
	h := New(Deps{Posts: fr, Comments: fr, Likes: fr, Users: fr, Cache: svc, Pub: fp, Log: zerolog.Nop()})

	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.Auth("", zerolog.Nop()))
	h.Register(api, middleware.RequireUser())
	return &fixture{router: r, repo: fr, pub: fp, cache: svc}
}

func (f *fixture) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestListPostsReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	f.repo.posts = []entity.Post{{ID: "P1", Content: "hello"}}

	for i := 0; i < 3; i++ {
		if w := f.do(http.MethodGet, "/api/posts?limit=10&offset=0", "", nil); w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	}
	if n := f.repo.called("ListPosts"); n != 1 {
		t.Fatalf("datastore hit %d times, want 1", n)
	}
	// 不同分页是不同的键
	f.do(http.MethodGet, "/api/posts?limit=10&offset=10", "", nil)
	if n := f.repo.called("ListPosts"); n != 2 {
		t.Fatalf("datastore hit %d times, want 2", n)
	}
	if w := f.do(http.MethodGet, "/api/posts?limit=0", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d", w.Code)
	}
}

func TestCreatePostInvalidatesAndPublishes(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/api/posts", "", nil)

	w := f.do(http.MethodPost, "/api/posts", "U1", map[string]string{"content": "new"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	if len(f.pub.posts) != 1 || f.pub.posts[0].AuthorID != "U1" {
		t.Fatalf("published = %+v", f.pub.posts)
	}

	w = f.do(http.MethodGet, "/api/posts", "", nil)
	var body struct {
		Posts []entity.Post `json:"posts"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Posts) != 1 || f.repo.called("ListPosts") != 2 {
		t.Fatalf("stale list after create: %+v", body.Posts)
	}
}

func TestWritesNeedIdentity(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/api/posts", "", map[string]string{"content": "x"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/likes/toggle", "", map[string]string{"targetType": "post", "targetId": "P1"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	if w := f.do(http.MethodPost, "/api/posts", "U1", map[string]string{"content": "still saved"}); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if len(f.repo.posts) != 1 {
		t.Fatalf("post not persisted")
	}
}

func TestCreateComment(t *testing.T) {
	f := newFixture(t)
	f.repo.posts = []entity.Post{{ID: "P123"}}

	f.do(http.MethodGet, "/api/posts/P123/comments", "", nil)
	w := f.do(http.MethodPost, "/api/posts/P123/comments", "U1", map[string]string{"content": "nice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	if len(f.pub.comments) != 1 || f.pub.comments[0].PostID != "P123" {
		t.Fatalf("published = %+v", f.pub.comments)
	}
	f.do(http.MethodGet, "/api/posts/P123/comments", "", nil)
	if n := f.repo.called("ListComments"); n != 2 {
		t.Fatalf("comments cache not invalidated, datastore hits = %d", n)
	}

	if w := f.do(http.MethodPost, "/api/posts/NOPE/comments", "U1", map[string]string{"content": "x"}); w.Code != http.StatusNotFound {
		t.Fatalf("missing post status = %d", w.Code)
	}
	if len(f.pub.comments) != 1 {
		t.Fatalf("failed write was published")
	}
}

func TestToggleLikePublishesAuthoritativeCount(t *testing.T) {
	f := newFixture(t)
	f.repo.posts = []entity.Post{{ID: "P42"}}
	f.repo.comments["P42"] = []entity.Comment{{ID: "C9", PostID: "P42"}}

	w := f.do(http.MethodPost, "/api/likes/toggle", "U1", map[string]string{"targetType": "comment", "targetId": "C9"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	got := f.pub.likes[0]
	if got.TargetType != entity.TargetComment || got.PostID != "P42" || got.NewCount != 1 || !got.IsLiked {
		t.Fatalf("like event = %+v", got)
	}
	if n, ok := f.cache.GetCounter(context.Background(), cache.LikeCounterKey("comment", "C9")); !ok || n != 1 {
		t.Fatalf("counter = %d, %v", n, ok)
	}

	f.do(http.MethodPost, "/api/likes/toggle", "U1", map[string]string{"targetType": "comment", "targetId": "C9"})
	if got := f.pub.likes[1]; got.IsLiked || got.NewCount != 0 {
		t.Fatalf("unlike event = %+v", got)
	}
	if n, _ := f.cache.GetCounter(context.Background(), cache.LikeCounterKey("comment", "C9")); n != 0 {
		t.Fatalf("counter after unlike = %d", n)
	}

	if w := f.do(http.MethodPost, "/api/likes/toggle", "U1", map[string]string{"targetType": "user", "targetId": "U2"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad target status = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/likes/toggle", "U1", map[string]string{"targetType": "comment", "targetId": "NOPE"}); w.Code != http.StatusNotFound {
		t.Fatalf("missing comment status = %d", w.Code)
	}
}

func TestLikeActivityReadsRecentToggles(t *testing.T) {
	f := newFixture(t)
	activity := func(query string) (int, int64) {
		w := f.do(http.MethodGet, "/api/likes/activity?"+query, "", nil)
		var body struct {
			RecentDelta int64 `json:"recentDelta"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		return w.Code, body.RecentDelta
	}

	if code, n := activity("targetType=post&targetId=P1"); code != http.StatusOK || n != 0 {
		t.Fatalf("quiet target = %d, %d", code, n)
	}
	for _, u := range []string{"U1", "U2", "U3"} {
		f.do(http.MethodPost, "/api/likes/toggle", u, map[string]string{"targetType": "post", "targetId": "P1"})
	}
	f.do(http.MethodPost, "/api/likes/toggle", "U2", map[string]string{"targetType": "post", "targetId": "P1"})

	if code, n := activity("targetType=post&targetId=P1"); code != http.StatusOK || n != 2 {
		t.Fatalf("after 3 likes and 1 unlike = %d, %d; want 2", code, n)
	}
	if _, n := activity("targetType=comment&targetId=P1"); n != 0 {
		t.Fatalf("comment counter leaked from post: %d", n)
	}
	if code, _ := activity("targetType=user&targetId=U1"); code != http.StatusBadRequest {
		t.Fatalf("bad type status = %d", code)
	}
	if code, _ := activity("targetType=post"); code != http.StatusBadRequest {
		t.Fatalf("missing id status = %d", code)
	}
}

func TestSearchUsersSharesNormalizedKey(t *testing.T) {
	f := newFixture(t)
	f.repo.users = []entity.User{{ID: "U1", Username: "Amy"}}

	for _, q := range []string{"Amy", "%20amy%20", "AMY"} {
		w := f.do(http.MethodGet, "/api/users/search?q="+q, "", nil)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"U1"`) {
			t.Fatalf("q=%s: %d %s", q, w.Code, w.Body.String())
		}
	}
	if n := f.repo.called("SearchUsers"); n != 1 {
		t.Fatalf("datastore hit %d times, want 1", n)
	}
	if w := f.do(http.MethodGet, "/api/users/search?q=", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("empty q status = %d", w.Code)
	}
}
