package trending

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/renderinc/post-discovery/internal/post"
)

// DefaultLimit is used when the caller does not ask for a positive limit
const DefaultLimit = 10

// Weights are the coefficients of the composite trending score
type Weights struct {
	Reaction    float64 `yaml:"reactionWeight" validate:"gte=0"`
	Comment     float64 `yaml:"commentWeight" validate:"gte=0"`
	View        float64 `yaml:"viewWeight" validate:"gte=0"`
	Bookmark    float64 `yaml:"bookmarkWeight" validate:"gte=0"`
	DecayPerDay float64 `yaml:"decayPerDay" validate:"gt=0,lte=1"`
}

// DefaultWeights returns the stock weights: roughly 1% decay per day
func DefaultWeights() Weights {
	return Weights{
		Reaction:    2,
		Comment:     3,
		View:        0.1,
		Bookmark:    1.5,
		DecayPerDay: 0.99,
	}
}

// Sort selects the ranking key
type Sort string

const (
	SortScore     Sort = "score"
	SortNewest    Sort = "newest"
	SortReactions Sort = "reactions"
	SortComments  Sort = "comments"
	SortViews     Sort = "views"
)

// ParseSort maps a request value to a Sort, defaulting to SortScore
func ParseSort(s string) Sort {
	switch v := Sort(strings.ToLower(strings.TrimSpace(s))); v {
	case SortNewest, SortReactions, SortComments, SortViews:
		return v
	}
	return SortScore
}

// Ranked is a document annotated with its transient score
type Ranked struct {
	*post.Document
	Engagement post.Engagement `json:"engagement"`
	Score      float64         `json:"score"`
}

// Scorer computes time-decayed engagement scores
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Weights returns the configured weights
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Raw returns the undecayed engagement score
func (s *Scorer) Raw(doc *post.Document, e post.Engagement) float64 {
	return float64(e.ReactionCount)*s.weights.Reaction +
		float64(e.CommentCount)*s.weights.Comment +
		float64(doc.Views)*s.weights.View +
		float64(e.BookmarkCount)*s.weights.Bookmark
}

// Decay returns the multiplier for a document's age at now.
// Documents without a publish time get no decay.
func (s *Scorer) Decay(doc *post.Document, now time.Time) float64 {
	hours := 0.0
	if doc.PublishedAt != nil {
		hours = math.Max(0, now.Sub(*doc.PublishedAt).Hours())
	}
	return math.Pow(s.weights.DecayPerDay, hours/24)
}

// Score returns the composite trending score
func (s *Scorer) Score(doc *post.Document, e post.Engagement, now time.Time) float64 {
	return s.Raw(doc, e) * s.Decay(doc, now)
}

// Rank scores every candidate, orders them by sortBy and keeps the top limit.
// Candidates missing from engagement are scored with zero counts.
func (s *Scorer) Rank(candidates []*post.Document, engagement map[string]post.Engagement, sortBy Sort, limit int, now time.Time) []Ranked {
	if limit <= 0 {
		limit = DefaultLimit
	}

	ranked := make([]Ranked, 0, len(candidates))
	for _, doc := range candidates {
		e := engagement[doc.ID]
		ranked = append(ranked, Ranked{
			Document:   doc,
			Engagement: e,
			Score:      s.Score(doc, e, now),
		})
	}

	key := keyFor(sortBy)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ka, kb := key(a), key(b); ka != kb {
			return ka > kb
		}
		if pa, pb := publishedUnix(a.Document), publishedUnix(b.Document); pa != pb {
			return pa > pb
		}
		return a.ID < b.ID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func keyFor(sortBy Sort) func(Ranked) float64 {
	switch sortBy {
	case SortNewest:
		return func(r Ranked) float64 { return float64(publishedUnix(r.Document)) }
	case SortReactions:
		return func(r Ranked) float64 { return float64(r.Engagement.ReactionCount) }
	case SortComments:
		return func(r Ranked) float64 { return float64(r.Engagement.CommentCount) }
	case SortViews:
		return func(r Ranked) float64 { return float64(r.Views) }
	default:
		return func(r Ranked) float64 { return r.Score }
	}
}

func publishedUnix(d *post.Document) int64 {
	if d.PublishedAt == nil {
		return math.MinInt64
	}
	return d.PublishedAt.UnixNano()
}
