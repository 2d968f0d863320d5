package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func at(age time.Duration) *time.Time {
	ts := now.Add(-age)
	return &ts
}

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	docs := []*post.Document{
		{ID: "a", Title: "Go Concurrency", Status: post.StatusPublished, PublishedAt: at(time.Hour), Views: 5, TagIDs: []string{"go"}, CategoryID: "eng", AuthorID: "alice"},
		{ID: "b", Title: "Databases", Content: "Ünïcode and GO", Status: post.StatusPublished, PublishedAt: at(time.Hour), Views: 9, TagIDs: []string{"go", "db"}, AuthorID: "bob"},
		{ID: "c", Title: "Release notes", Status: post.StatusPublished, PublishedAt: at(3 * time.Hour), Views: 9, CategoryID: "eng", AuthorID: "alice"},
		{ID: "d", Title: "Go draft", Status: post.StatusDraft, AuthorID: "alice"},
		{ID: "e", Title: "Go future", Status: post.StatusPublished, PublishedAt: at(-time.Hour), AuthorID: "alice"},
	}
	for _, d := range docs {
		require.NoError(t, db.UpsertPost(ctx, d))
	}
	require.NoError(t, db.UpsertCategory(ctx, "eng", "Engineering"))
	require.NoError(t, db.UpsertTag(ctx, "go", "Go"))
}

func TestUpsertAndGet(t *testing.T) {
	db := openTest(t)
	seed(t, db)
	ctx := context.Background()

	got, err := db.Get(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Databases", got.Title)
	assert.Equal(t, []string{"db", "go"}, got.TagIDs)
	assert.Empty(t, got.CategoryID)
	assert.True(t, got.PublishedAt.Equal(*at(time.Hour)))

	// Re-upserting replaces the tag set
	got.TagIDs = []string{"db"}
	require.NoError(t, db.UpsertPost(ctx, got))
	got, err = db.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, got.TagIDs)

	missing, err := db.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, db.IncrementViews(ctx, "a"))
	got, _ = db.Get(ctx, "a")
	assert.Equal(t, int64(6), got.Views)
}

func TestListFiltersAndOrders(t *testing.T) {
	db := openTest(t)
	seed(t, db)
	ctx := context.Background()

	p := query.Build(query.Filters{}, now)
	docs, err := db.List(ctx, p, query.OrderNewest, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, idsOf(docs))

	docs, err = db.List(ctx, p, query.OrderViews, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, idsOf(docs))

	docs, err = db.List(ctx, p, query.OrderNewest, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, idsOf(docs))

	text := query.Build(query.Filters{Query: "go"}, now)
	docs, err = db.List(ctx, text, query.OrderNewest, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, idsOf(docs))

	unicode := query.Build(query.Filters{Query: "ÜNÏCODE"}, now)
	docs, err = db.List(ctx, unicode, query.OrderNewest, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, idsOf(docs))

	tags := query.Build(query.Filters{TagIDs: []string{"go", "db"}}, now)
	docs, err = db.List(ctx, tags, query.OrderNewest, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, idsOf(docs))

	window := query.Build(query.Filters{DateFrom: at(2 * time.Hour)}, now)
	n, err := db.Count(ctx, window)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	byAuthor := query.Build(query.Filters{AuthorID: "alice", CategoryID: "eng"}, now)
	n, err = db.Count(ctx, byAuthor)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGroupCounts(t *testing.T) {
	db := openTest(t)
	seed(t, db)
	ctx := context.Background()
	p := query.Build(query.Filters{}, now)

	cats, err := db.GroupCount(ctx, p, query.DimensionCategory)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "eng", cats[0].Value)
	assert.Equal(t, 2, cats[0].Count)

	authors, err := db.GroupCount(ctx, p, query.DimensionAuthor)
	require.NoError(t, err)
	require.Len(t, authors, 2)
	assert.Equal(t, "alice", authors[0].Value)

	tags, err := db.TagFrequencies(ctx, p)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "go", tags[0].Value)
	assert.Equal(t, 2, tags[0].Count)
	assert.Equal(t, "db", tags[1].Value)

	labels, err := db.Labels(ctx, query.DimensionCategory, []string{"eng", "ops"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"eng": "Engineering"}, labels)
}

func TestEngagement(t *testing.T) {
	db := openTest(t)
	seed(t, db)
	ctx := context.Background()

	require.NoError(t, db.AddComment(ctx, "a", "bob", now.Add(-48*time.Hour)))
	require.NoError(t, db.AddComment(ctx, "a", "bob", now.Add(-time.Hour)))
	require.NoError(t, db.AddReaction(ctx, "a", "bob", post.Reaction{Type: "like", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, db.AddReaction(ctx, "a", "carol", post.Reaction{Type: "love", CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, db.AddBookmark(ctx, "a", "bob", now.Add(-48*time.Hour)))
	require.NoError(t, db.AddBookmark(ctx, "a", "bob", now.Add(-48*time.Hour)))

	all, err := db.Engagement(ctx, []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all["a"].CommentCount)
	assert.Equal(t, int64(2), all["a"].ReactionCount)
	assert.Equal(t, int64(1), all["a"].BookmarkCount)
	assert.Equal(t, post.Engagement{}, all["b"])

	cutoff := now.Add(-24 * time.Hour)
	windowed, err := db.Engagement(ctx, []string{"a"}, &cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), windowed["a"].CommentCount)
	assert.Equal(t, int64(1), windowed["a"].ReactionCount)
	assert.Equal(t, int64(1), windowed["a"].BookmarkCount)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Posts)
	assert.Equal(t, 4, stats.Published)
	assert.Equal(t, 1, stats.Bookmarks)

	// Deleting a post cascades to its engagement
	require.NoError(t, db.DeletePost(ctx, "a"))
	stats, err = db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Comments)
}

func TestChunks(t *testing.T) {
	ids := make([]string, 1201)
	for i := range ids {
		ids[i] = "x"
	}
	parts := chunks(ids, maxParams)
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 201)
	assert.Nil(t, chunks(nil, maxParams))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func idsOf(docs []*post.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
