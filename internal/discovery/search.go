package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// SearchSort selects the search result ordering
type SearchSort string

const (
	SortRelevance  SearchSort = "relevance"  // approximated by recency
	SortDate       SearchSort = "date"       // publishedAt desc
	SortPopularity SearchSort = "popularity" // views desc
)

// ParseSearchSort maps a request value to a SearchSort, defaulting to SortDate
func ParseSearchSort(s string) SearchSort {
	switch v := SearchSort(strings.ToLower(strings.TrimSpace(s))); v {
	case SortRelevance, SortPopularity:
		return v
	}
	return SortDate
}

func (s SearchSort) order() query.Order {
	if s == SortPopularity {
		return query.OrderViews
	}
	return query.OrderNewest
}

// SearchRequest is a paged, filtered search.
// Days > 0 limits results to posts published in the last Days days and
// overrides Filters.DateFrom, as in TrendingRequest.
type SearchRequest struct {
	Filters  query.Filters
	Days     int
	Sort     SearchSort
	Page     int
	PageSize int
}

// Meta carries pagination details
type Meta struct {
	Total       int `json:"total"`
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	Limit       int `json:"limit"`
}

// SearchResult is one page of results plus facets over the whole filtered set
type SearchResult struct {
	Results []*post.Document `json:"results"`
	Meta    Meta             `json:"meta"`
	Facets  facet.Facets     `json:"facets"`
}

// SearchOptions configures a Searcher
type SearchOptions struct {
	DefaultPageSize int
	MaxPageSize     int
	Now             func() time.Time
}

// Searcher composes filtering, listing, counting and faceting
type Searcher struct {
	store      DocumentStore
	aggregator *facet.Aggregator
	opts       SearchOptions
	log        logrus.FieldLogger
}

// NewSearcher creates a Searcher. labeler may be nil.
func NewSearcher(store DocumentStore, labeler facet.Labeler, opts SearchOptions, log logrus.FieldLogger) *Searcher {
	if opts.MaxPageSize <= 0 || opts.MaxPageSize > MaxPageSize {
		opts.MaxPageSize = MaxPageSize
	}
	if opts.DefaultPageSize <= 0 || opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Searcher{
		store:      store,
		aggregator: facet.NewAggregator(store, labeler, log),
		opts:       opts,
		log:        log,
	}
}

// ClampPage normalizes paging input: page >= 1 and pageSize within [1, upper]
func ClampPage(page, pageSize, def, upper int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = def
	}
	if pageSize > upper {
		pageSize = upper
	}
	return page, pageSize
}

// Search runs the listing, the count and the facet reads concurrently
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	page, size := ClampPage(req.Page, req.PageSize, s.opts.DefaultPageSize, s.opts.MaxPageSize)
	now := s.opts.Now()
	filters := req.Filters
	if cutoff := windowStart(now, req.Days); cutoff != nil {
		filters.DateFrom = cutoff
	}
	pred := query.Build(filters, now)
	order := ParseSearchSort(string(req.Sort)).order()

	var (
		docs   []*post.Document
		total  int
		facets facet.Facets
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = s.store.List(gctx, pred, order, size, (page-1)*size)
		return queryFailed("list", err)
	})
	g.Go(func() error {
		var err error
		total, err = s.store.Count(gctx, pred)
		return queryFailed("count", err)
	})
	g.Go(func() error {
		var err error
		facets, err = s.aggregator.Compute(gctx, pred)
		return queryFailed("facets", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if docs == nil {
		docs = []*post.Document{}
	}
	facets.Uncategorized = max(0, total-sumBuckets(facets.Categories))

	res := &SearchResult{
		Results: docs,
		Meta: Meta{
			Total:       total,
			CurrentPage: page,
			TotalPages:  totalPages(total, size),
			Limit:       size,
		},
		Facets: facets,
	}

	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"query":   pred.Text,
			"tags":    len(pred.TagIDs),
			"page":    page,
			"total":   total,
			"results": len(docs),
		}).Debug("search complete")
	}
	return res, nil
}

func totalPages(total, size int) int {
	if total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

func sumBuckets(buckets []facet.Bucket) int {
	n := 0
	for _, b := range buckets {
		n += b.Count
	}
	return n
}
