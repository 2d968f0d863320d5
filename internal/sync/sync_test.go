package sync

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/post-discovery/internal/memstore"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
	"github.com/renderinc/post-discovery/internal/search"
	"github.com/renderinc/post-discovery/internal/storage"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

const fixture = `
categories:
  - {id: eng, name: Engineering}
tags:
  - {id: go, name: Go}
authors:
  - {id: alice, name: Alice}
posts:
  - id: p1
    title: Go Concurrency
    publishedHoursAgo: 2
    category: eng
    tags: [go]
    author: alice
    views: 40
  - ref: second
    title: Draft notes
    status: draft
    author: alice
comments:
  - {post: p1, user: bob, hoursAgo: 1, count: 3}
reactions:
  - {post: p1, user: bob, type: love, hoursAgo: 200}
  - {post: second, user: bob}
bookmarks:
  - {post: p1, user: bob}
`

func openStores(t *testing.T) (*storage.DB, *search.Index) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx, err := search.NewMemOnly(0)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return db, idx
}

func TestImportIntoMemory(t *testing.T) {
	log, _ := test.NewNullLogger()
	store := memstore.New()
	im := NewImporter(memstore.Writer{Store: store}, func() time.Time { return now }, log)

	stats, err := im.Import(context.Background(), strings.NewReader(fixture))
	require.NoError(t, err)
	assert.Equal(t, &ImportStats{Posts: 2, Comments: 3, Reactions: 2, Bookmarks: 1}, stats)

	doc, err := store.Get(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, post.StatusPublished, doc.Status)
	assert.True(t, doc.PublishedAt.Equal(now.Add(-2*time.Hour)))

	n, err := store.Count(context.Background(), query.Build(query.Filters{}, now))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "draft is stored but not discoverable")

	cutoff := now.Add(-24 * time.Hour)
	eng, err := store.Engagement(context.Background(), []string{"p1"}, &cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), eng["p1"].CommentCount)
	assert.Equal(t, int64(0), eng["p1"].ReactionCount)
	assert.Equal(t, int64(1), eng["p1"].BookmarkCount)
}

func TestImportRejectsUnknownReference(t *testing.T) {
	log, _ := test.NewNullLogger()
	im := NewImporter(memstore.Writer{Store: memstore.New()}, nil, log)

	_, err := im.Import(context.Background(), strings.NewReader(`
posts:
  - {id: p1, author: alice}
comments:
  - {post: nope}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown post")
}

func TestImportGeneratesIDs(t *testing.T) {
	log, _ := test.NewNullLogger()
	store := memstore.New()
	im := NewImporter(memstore.Writer{Store: store}, func() time.Time { return now }, log)

	_, err := im.Import(context.Background(), strings.NewReader(`posts: [{title: Untitled, author: alice}]`))
	require.NoError(t, err)

	docs, err := store.List(context.Background(), query.Build(query.Filters{}, now), query.OrderNewest, 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].ID, 36)
}

func TestReindexCopiesAndPrunes(t *testing.T) {
	db, idx := openStores(t)
	log, _ := test.NewNullLogger()
	ctx := context.Background()

	_, err := NewImporter(db, func() time.Time { return now }, log).Import(ctx, strings.NewReader(fixture))
	require.NoError(t, err)

	// An index entry with no database row is pruned
	orphan := now.Add(-time.Hour)
	require.NoError(t, idx.IndexPost(&post.Document{ID: "orphan", Status: post.StatusPublished, PublishedAt: &orphan, AuthorID: "x"}))

	w := NewWorker(db, idx, 2, 1, log)
	stats, err := w.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 0, stats.Errors)

	docs, err := idx.List(ctx, query.Build(query.Filters{Query: "concurrency"}, now), query.OrderNewest, 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "p1", docs[0].ID)
	assert.Equal(t, int64(40), docs[0].Views)
}

func TestMirrorRefreshesViews(t *testing.T) {
	db, idx := openStores(t)
	log, _ := test.NewNullLogger()
	ctx := context.Background()

	_, err := NewImporter(db, func() time.Time { return now }, log).Import(ctx, strings.NewReader(fixture))
	require.NoError(t, err)

	m := NewMirror(db, idx)
	require.NoError(t, m.IncrementViews(ctx, "p1"))

	docs, err := idx.List(ctx, query.Build(query.Filters{}, now), query.OrderViews, 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(41), docs[0].Views)

	require.NoError(t, m.IncrementViews(ctx, "missing"))
}

func TestValidate(t *testing.T) {
	assert.Error(t, validate(&post.Document{}))
	assert.Error(t, validate(&post.Document{ID: "a", Status: post.StatusPublished}))
	assert.NoError(t, validate(&post.Document{ID: "a", Status: post.StatusDraft}))
}
