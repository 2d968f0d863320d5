package discovery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
	"github.com/renderinc/post-discovery/internal/trending"
)

// TrendingRequest asks for the top posts in a recency window.
// Days == 0 means all time.
type TrendingRequest struct {
	Filters query.Filters
	Days    int
	Sort    trending.Sort
	Limit   int
}

// TrendingResult holds the ranked posts and the category buckets of the window
type TrendingResult struct {
	Posts      []trending.Ranked `json:"posts"`
	Categories []facet.Bucket    `json:"categories"`
}

// Trender composes filtering, engagement lookup and scoring
type Trender struct {
	store      DocumentStore
	engagement EngagementStore
	scorer     *trending.Scorer
	aggregator *facet.Aggregator
	now        func() time.Time
	log        logrus.FieldLogger
}

// NewTrender creates a Trender. labeler may be nil; now defaults to time.Now.
func NewTrender(store DocumentStore, engagement EngagementStore, labeler facet.Labeler, scorer *trending.Scorer, now func() time.Time, log logrus.FieldLogger) *Trender {
	if now == nil {
		now = time.Now
	}
	return &Trender{
		store:      store,
		engagement: engagement,
		scorer:     scorer,
		aggregator: facet.NewAggregator(store, labeler, log),
		now:        now,
		log:        log,
	}
}

// Trending ranks published posts within the window.
// With Days > 0 the publish window and the comment/reaction counts share the
// same cutoff, while views and bookmarks stay all-time.
func (t *Trender) Trending(ctx context.Context, req TrendingRequest) (*TrendingResult, error) {
	now := t.now()
	filters := req.Filters

	since := windowStart(now, req.Days)
	if since != nil {
		filters.DateFrom = since
	}
	pred := query.Build(filters, now)

	var (
		ranked     []trending.Ranked
		categories []facet.Bucket
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ranked, err = t.rank(gctx, pred, since, req, now)
		return err
	})
	g.Go(func() error {
		var err error
		categories, err = t.aggregator.Buckets(gctx, pred.Scope(), query.DimensionCategory)
		return queryFailed("categories", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if ranked == nil {
		ranked = []trending.Ranked{}
	}
	if t.log != nil {
		t.log.WithFields(logrus.Fields{
			"days":       req.Days,
			"sort":       trending.ParseSort(string(req.Sort)),
			"posts":      len(ranked),
			"categories": len(categories),
		}).Debug("trending complete")
	}
	return &TrendingResult{Posts: ranked, Categories: categories}, nil
}

func (t *Trender) rank(ctx context.Context, pred query.Predicate, since *time.Time, req TrendingRequest, now time.Time) ([]trending.Ranked, error) {
	candidates, err := t.store.List(ctx, pred, query.OrderNewest, 0, 0)
	if err != nil {
		return nil, queryFailed("list", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, d := range candidates {
		ids[i] = d.ID
	}
	engagement, err := t.engagement.Engagement(ctx, ids, since)
	if err != nil {
		return nil, queryFailed("engagement", err)
	}
	if engagement == nil {
		engagement = map[string]post.Engagement{}
	}

	sortBy := trending.ParseSort(string(req.Sort))
	return t.scorer.Rank(candidates, engagement, sortBy, req.Limit, now), nil
}

// MaxDays caps a recency window at roughly a century
const MaxDays = 100 * 365

// ClampDays treats negative windows as all time and caps wide ones at MaxDays
func ClampDays(days int) int {
	if days < 0 {
		return 0
	}
	return min(days, MaxDays)
}

// windowStart returns the start of a window of days ending at now, or nil for all time
func windowStart(now time.Time, days int) *time.Time {
	days = ClampDays(days)
	if days == 0 {
		return nil
	}
	cutoff := now.UTC().AddDate(0, 0, -days)
	return &cutoff
}
