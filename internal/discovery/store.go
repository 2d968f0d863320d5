// Package discovery answers search and trending requests over a document store.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
)

// DocumentStore is the read interface the engine needs from the canonical store.
// List must return a deterministic order that ends with id ascending.
// A limit <= 0 means no limit.
type DocumentStore interface {
	List(ctx context.Context, p query.Predicate, order query.Order, limit, offset int) ([]*post.Document, error)
	Count(ctx context.Context, p query.Predicate) (int, error)
	GroupCount(ctx context.Context, p query.Predicate, dim query.Dimension) ([]facet.Count, error)
	TagFrequencies(ctx context.Context, p query.Predicate) ([]facet.Count, error)
}

// EngagementStore returns engagement counts per post id.
// When since is set, comment and reaction counts only include records created at or after it.
type EngagementStore interface {
	Engagement(ctx context.Context, ids []string, since *time.Time) (map[string]post.Engagement, error)
}

// ErrQueryFailed wraps every document store failure
var ErrQueryFailed = errors.New("discovery query failed")

func queryFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	// Context errors stay visible to callers that map timeouts
	return fmt.Errorf("%w: %s: %w", ErrQueryFailed, op, err)
}
