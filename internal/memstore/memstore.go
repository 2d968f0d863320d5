// Package memstore is an in-memory document store used for tests and demos.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
)

// Store keeps posts and their engagement records in memory
type Store struct {
	mu        sync.RWMutex
	docs      map[string]*post.Document
	comments  map[string][]time.Time
	reactions map[string][]post.Reaction
	bookmarks map[string]int64
	labels    map[query.Dimension]map[string]string
}

// New creates an empty store
func New() *Store {
	return &Store{
		docs:      make(map[string]*post.Document),
		comments:  make(map[string][]time.Time),
		reactions: make(map[string][]post.Reaction),
		bookmarks: make(map[string]int64),
		labels:    make(map[query.Dimension]map[string]string),
	}
}

// Put inserts or replaces a post
func (s *Store) Put(docs ...*post.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		c := d.Clone()
		c.TagIDs = post.UniqueTags(c.TagIDs)
		s.docs[d.ID] = c
	}
}

// Get returns a copy of a post, or nil if it does not exist
func (s *Store) Get(_ context.Context, id string) (*post.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return d.Clone(), nil
}

// IncrementViews bumps the view counter of a post
func (s *Store) IncrementViews(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[id]; ok {
		d.Views++
	}
	return nil
}

// AddComment records a comment on a post
func (s *Store) AddComment(postID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[postID] = append(s.comments[postID], at)
}

// AddReaction records a reaction on a post
func (s *Store) AddReaction(postID string, r post.Reaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions[postID] = append(s.reactions[postID], r)
}

// AddBookmark records a bookmark on a post
func (s *Store) AddBookmark(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[postID]++
}

// SetLabel registers a display label for a facet value
func (s *Store) SetLabel(dim query.Dimension, id, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.labels[dim] == nil {
		s.labels[dim] = make(map[string]string)
	}
	s.labels[dim][id] = label
}

// List returns matching posts in the requested order
func (s *Store) List(_ context.Context, p query.Predicate, order query.Order, limit, offset int) ([]*post.Document, error) {
	matched := s.filter(p)
	SortDocuments(matched, order)

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*post.Document{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of matching posts
func (s *Store) Count(_ context.Context, p query.Predicate) (int, error) {
	return len(s.filter(p)), nil
}

// GroupCount counts matching posts per category or author
func (s *Store) GroupCount(_ context.Context, p query.Predicate, dim query.Dimension) ([]facet.Count, error) {
	return facet.CountBy(s.filter(p), dim), nil
}

// TagFrequencies counts matching posts per tag
func (s *Store) TagFrequencies(_ context.Context, p query.Predicate) ([]facet.Count, error) {
	return facet.CountTags(s.filter(p)), nil
}

// Engagement returns counts for the given posts, windowed when since is set
func (s *Store) Engagement(_ context.Context, ids []string, since *time.Time) (map[string]post.Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]post.Engagement, len(ids))
	for _, id := range ids {
		e := post.Engagement{
			BookmarkCount: s.bookmarks[id],
			Reactions:     append([]post.Reaction(nil), s.reactions[id]...),
		}
		e.ReactionCount = int64(len(e.Reactions))
		for _, at := range s.comments[id] {
			if since == nil || !at.Before(*since) {
				e.CommentCount++
			}
		}
		if since != nil {
			e = e.Since(*since)
		}
		out[id] = e
	}
	return out, nil
}

// Labels returns the registered labels for ids
func (s *Store) Labels(_ context.Context, dim query.Dimension, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if l, ok := s.labels[dim][id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (s *Store) filter(p query.Predicate) []*post.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*post.Document
	for _, d := range s.docs {
		if p.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	return out
}

// SortDocuments applies a store order in place. Every order ends with id ascending.
func SortDocuments(docs []*post.Document, order query.Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if order == query.OrderViews && a.Views != b.Views {
			return a.Views > b.Views
		}
		if pa, pb := published(a), published(b); !pa.Equal(pb) {
			return pa.After(pb)
		}
		return a.ID < b.ID
	})
}

func published(d *post.Document) time.Time {
	if d.PublishedAt == nil {
		return time.Time{}
	}
	return *d.PublishedAt
}
