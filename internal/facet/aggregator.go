package facet

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/renderinc/post-discovery/internal/query"
)

// Source provides the aggregation primitives of a document store
type Source interface {
	GroupCount(ctx context.Context, p query.Predicate, dim query.Dimension) ([]Count, error)
	TagFrequencies(ctx context.Context, p query.Predicate) ([]Count, error)
}

// Labeler resolves display labels for facet values
type Labeler interface {
	Labels(ctx context.Context, dim query.Dimension, ids []string) (map[string]string, error)
}

// Aggregator computes facet buckets over a filtered set
type Aggregator struct {
	src     Source
	labeler Labeler // optional
	log     logrus.FieldLogger
}

// NewAggregator creates an aggregator. labeler may be nil, in which case ids are used as labels.
func NewAggregator(src Source, labeler Labeler, log logrus.FieldLogger) *Aggregator {
	return &Aggregator{src: src, labeler: labeler, log: log}
}

// Compute fans out one read per dimension. The reads are independent and are not
// guaranteed to observe the same snapshot of the store.
func (a *Aggregator) Compute(ctx context.Context, p query.Predicate) (Facets, error) {
	out := Empty()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b, err := a.Buckets(gctx, p, query.DimensionTag)
		out.Tags = b
		return err
	})
	g.Go(func() error {
		b, err := a.Buckets(gctx, p, query.DimensionCategory)
		out.Categories = b
		return err
	})
	g.Go(func() error {
		b, err := a.Buckets(gctx, p, query.DimensionAuthor)
		out.Authors = b
		return err
	})

	if err := g.Wait(); err != nil {
		return Empty(), err
	}
	return out, nil
}

// Buckets computes the labeled, sorted buckets for one dimension
func (a *Aggregator) Buckets(ctx context.Context, p query.Predicate, dim query.Dimension) ([]Bucket, error) {
	var (
		counts []Count
		err    error
	)
	if dim == query.DimensionTag {
		counts, err = a.src.TagFrequencies(ctx, p)
	} else {
		counts, err = a.src.GroupCount(ctx, p, dim)
	}
	if err != nil {
		return nil, fmt.Errorf("%s facets: %w", dim, err)
	}

	counts = Sorted(dropEmpty(counts))
	if len(counts) == 0 {
		return []Bucket{}, nil
	}

	labels, err := a.labels(ctx, dim, counts)
	if err != nil {
		return nil, fmt.Errorf("%s labels: %w", dim, err)
	}

	buckets := make([]Bucket, 0, len(counts))
	for _, c := range counts {
		label, ok := labels[c.Value]
		if !ok || label == "" {
			label = c.Value
		}
		buckets = append(buckets, Bucket{ID: c.Value, Label: label, Count: c.Count})
	}
	return buckets, nil
}

func (a *Aggregator) labels(ctx context.Context, dim query.Dimension, counts []Count) (map[string]string, error) {
	if a.labeler == nil {
		return nil, nil
	}
	ids := make([]string, len(counts))
	for i, c := range counts {
		ids[i] = c.Value
	}
	labels, err := a.labeler.Labels(ctx, dim, ids)
	if err != nil {
		return nil, err
	}
	if missing := len(ids) - len(labels); missing > 0 && a.log != nil {
		a.log.WithFields(logrus.Fields{"dimension": dim, "missing": missing}).Debug("facet labels not found, using ids")
	}
	return labels, nil
}

// dropEmpty removes the implicit "none" value some stores report for null fields
func dropEmpty(counts []Count) []Count {
	out := counts[:0]
	for _, c := range counts {
		if c.Value != "" && c.Count > 0 {
			out = append(out, c)
		}
	}
	return out
}
