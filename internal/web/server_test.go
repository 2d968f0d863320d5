package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/post-discovery/internal/discovery"
	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/memstore"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
	"github.com/renderinc/post-discovery/internal/trending"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func seed() *memstore.Store {
	s := memstore.New()
	for i := 0; i < 12; i++ {
		ts := now.Add(-time.Duration(i) * time.Hour)
		d := &post.Document{
			ID:          fmt.Sprintf("p%02d", i),
			Title:       fmt.Sprintf("Post %d", i),
			Status:      post.StatusPublished,
			PublishedAt: &ts,
			Views:       int64(i),
			AuthorID:    "alice",
			TagIDs:      []string{"go"},
		}
		if i < 4 {
			d.CategoryID = "eng"
		}
		s.Put(d)
	}
	s.Put(&post.Document{ID: "draft", Status: post.StatusDraft, AuthorID: "alice"})
	s.SetLabel(query.DimensionCategory, "eng", "Engineering")
	s.AddComment("p05", now.Add(-time.Hour))
	s.AddComment("p05", now.Add(-time.Hour))
	return s
}

func newTestServer(store discovery.DocumentStore, engagement discovery.EngagementStore, labeler facet.Labeler, posts Posts, timeout time.Duration) (*Server, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	searcher := discovery.NewSearcher(store, labeler, discovery.SearchOptions{Now: clock}, log)
	trender := discovery.NewTrender(store, engagement, labeler, trending.NewScorer(trending.DefaultWeights()), clock, log)
	return NewServer(searcher, trender, posts, Options{Backend: "memory", QueryTimeout: timeout, Now: clock}, log), hook
}

func get(t *testing.T, h http.Handler, url string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	s := seed()
	srv, _ := newTestServer(s, s, s, s, time.Second)

	var res discovery.SearchResult
	rec := get(t, srv.Handler(), "/api/search?limit=5&page=2", &res)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, discovery.Meta{Total: 12, CurrentPage: 2, TotalPages: 3, Limit: 5}, res.Meta)
	require.Len(t, res.Results, 5)
	assert.Equal(t, "p05", res.Results[0].ID)
	require.Len(t, res.Facets.Categories, 1)
	assert.Equal(t, facet.Bucket{ID: "eng", Label: "Engineering", Count: 4}, res.Facets.Categories[0])
	assert.Equal(t, 8, res.Facets.Uncategorized)
}

func TestSearchOffsetAndPopularity(t *testing.T) {
	s := seed()
	srv, _ := newTestServer(s, s, s, s, time.Second)

	var res discovery.SearchResult
	get(t, srv.Handler(), "/api/search?limit=4&offset=9&sortBy=popularity", &res)
	assert.Equal(t, 3, res.Meta.CurrentPage)
	require.Len(t, res.Results, 4)
	assert.Equal(t, "p03", res.Results[0].ID)
}

func TestSearchDaysWindow(t *testing.T) {
	s := seed()
	old := now.Add(-30 * 24 * time.Hour)
	s.Put(&post.Document{ID: "old", Status: post.StatusPublished, PublishedAt: &old, AuthorID: "alice"})
	srv, _ := newTestServer(s, s, s, s, time.Second)

	var all discovery.SearchResult
	get(t, srv.Handler(), "/api/search?limit=100", &all)
	assert.Equal(t, 13, all.Meta.Total)

	var week discovery.SearchResult
	rec := get(t, srv.Handler(), "/api/search?days=7&limit=100", &week)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, week.Meta.Total)
	for _, d := range week.Results {
		assert.NotEqual(t, "old", d.ID)
	}
}

func TestTrendingWideWindow(t *testing.T) {
	s := seed()
	srv, _ := newTestServer(s, s, s, s, time.Second)

	var month, wide discovery.TrendingResult
	get(t, srv.Handler(), "/api/trending?days=30&limit=100", &month)
	rec := get(t, srv.Handler(), "/api/trending?days=200000&limit=100", &wide)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, month.Posts, 12)
	assert.Len(t, wide.Posts, 12)
}

func TestSearchIgnoresBadParameters(t *testing.T) {
	s := seed()
	srv, hook := newTestServer(s, s, s, s, time.Second)

	var res discovery.SearchResult
	rec := get(t, srv.Handler(), "/api/search?page=abc&limit=-3&dateFrom=yesterday&category=eng", &res)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, res.Meta.Total)
	assert.Equal(t, 1, res.Meta.CurrentPage)
	assert.Equal(t, discovery.DefaultPageSize, res.Meta.Limit)

	var ignored []string
	for _, e := range hook.AllEntries() {
		if e.Message == "ignoring invalid parameter" {
			ignored = append(ignored, e.Data["param"].(string))
		}
	}
	assert.ElementsMatch(t, []string{"dateFrom", "page"}, ignored)
}

func TestSearchEmpty(t *testing.T) {
	s := seed()
	srv, _ := newTestServer(s, s, s, s, time.Second)

	rec := get(t, srv.Handler(), "/api/search?q=nothing-matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"results": [],
		"meta": {"total": 0, "currentPage": 1, "totalPages": 0, "limit": 10},
		"facets": {"tags": [], "categories": [], "authors": [], "uncategorized": 0}
	}`, rec.Body.String())
}

func TestTrendingEndpoint(t *testing.T) {
	s := seed()
	srv, _ := newTestServer(s, s, s, s, time.Second)

	var res discovery.TrendingResult
	rec := get(t, srv.Handler(), "/api/trending?days=1&limit=3", &res)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, res.Posts, 3)
	assert.Equal(t, "p05", res.Posts[0].ID)
	assert.Equal(t, int64(2), res.Posts[0].Engagement.CommentCount)
	require.Len(t, res.Categories, 1)

	var byViews discovery.TrendingResult
	rec = get(t, srv.Handler(), "/api/trending?days=-4&sortBy=views", &byViews)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, byViews.Posts, trending.DefaultLimit)
	assert.Equal(t, "p11", byViews.Posts[0].ID)
}

func TestGetPostCountsViews(t *testing.T) {
	s := seed()
	srv, _ := newTestServer(s, s, s, s, time.Second)
	h := srv.Handler()

	var doc post.Document
	rec := get(t, h, "/api/posts/p03", &doc)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(4), doc.Views)

	stored, _ := s.Get(context.Background(), "p03")
	assert.Equal(t, int64(4), stored.Views)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/posts/draft", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/posts/missing", nil).Code)
}

type failingStore struct {
	*memstore.Store
	err error
}

func (f failingStore) Count(ctx context.Context, p query.Predicate) (int, error) {
	return 0, f.err
}

type slowStore struct {
	*memstore.Store
}

func (s slowStore) Count(ctx context.Context, p query.Predicate) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestErrorMapping(t *testing.T) {
	s := seed()

	failing, _ := newTestServer(failingStore{Store: s, err: errors.New("connection reset")}, s, s, s, time.Second)
	rec := get(t, failing.Handler(), "/api/search", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error": "Bad Gateway"}`, rec.Body.String())

	slow, _ := newTestServer(slowStore{Store: s}, s, s, s, 10*time.Millisecond)
	rec = get(t, slow.Handler(), "/api/search", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestHealthAndRequestID(t *testing.T) {
	s := seed()
	srv, hook := newTestServer(s, s, s, s, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "backend": "memory"}`, rec.Body.String())
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "fixed-id", last.Data["request_id"])
	assert.Equal(t, http.StatusOK, last.Data["status"])
}
