package memstore

import (
	"context"
	"time"

	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
)

// Writer exposes the store through the context-taking write methods importers use.
// Bookmarks are not deduplicated per user.
type Writer struct {
	*Store
}

// UpsertPost inserts or replaces a post
func (w Writer) UpsertPost(_ context.Context, doc *post.Document) error {
	w.Put(doc)
	return nil
}

func (w Writer) UpsertCategory(_ context.Context, id, name string) error {
	w.SetLabel(query.DimensionCategory, id, name)
	return nil
}

func (w Writer) UpsertTag(_ context.Context, id, name string) error {
	w.SetLabel(query.DimensionTag, id, name)
	return nil
}

func (w Writer) UpsertAuthor(_ context.Context, id, name string) error {
	w.SetLabel(query.DimensionAuthor, id, name)
	return nil
}

func (w Writer) AddComment(_ context.Context, postID, _ string, at time.Time) error {
	w.Store.AddComment(postID, at)
	return nil
}

func (w Writer) AddReaction(_ context.Context, postID, _ string, r post.Reaction) error {
	w.Store.AddReaction(postID, r)
	return nil
}

func (w Writer) AddBookmark(_ context.Context, postID, _ string, _ time.Time) error {
	w.Store.AddBookmark(postID)
	return nil
}
