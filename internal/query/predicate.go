package query

import (
	"strings"
	"time"

	"github.com/renderinc/post-discovery/internal/post"
)

// Filters is the structured input to the filter builder.
// Zero values mean "no constraint".
type Filters struct {
	Query      string
	TagIDs     []string
	CategoryID string
	AuthorID   string
	DateFrom   *time.Time
	DateTo     *time.Time
}

// Predicate is the normalized filter passed to a document store.
// Every predicate is scoped to published posts with PublishedAt <= Now.
type Predicate struct {
	Status     post.Status
	Now        time.Time
	Text       string // lowercased, trimmed; "" when absent
	TagIDs     []string
	CategoryID string
	AuthorID   string
	From       *time.Time
	To         *time.Time
}

// Dimension names a facet dimension
type Dimension string

const (
	DimensionTag      Dimension = "tag"
	DimensionCategory Dimension = "category"
	DimensionAuthor   Dimension = "author"
)

// Order is the list ordering requested from a store. Every order ends with id ascending.
type Order int

const (
	OrderNewest Order = iota // publishedAt desc, id asc
	OrderViews               // views desc, publishedAt desc, id asc
)

// Build turns filters into a predicate evaluated at now
func Build(f Filters, now time.Time) Predicate {
	p := Predicate{
		Status:     post.StatusPublished,
		Now:        now.UTC(),
		Text:       strings.ToLower(strings.TrimSpace(f.Query)),
		TagIDs:     normalizeIDs(f.TagIDs),
		CategoryID: strings.TrimSpace(f.CategoryID),
		AuthorID:   strings.TrimSpace(f.AuthorID),
	}
	if f.DateFrom != nil {
		ts := f.DateFrom.UTC()
		p.From = &ts
	}
	if f.DateTo != nil {
		ts := f.DateTo.UTC()
		p.To = &ts
	}
	return p
}

// Upper returns the effective inclusive upper bound on publishedAt
func (p Predicate) Upper() time.Time {
	if p.To != nil && p.To.Before(p.Now) {
		return *p.To
	}
	return p.Now
}

// Scope returns a copy of the predicate keeping only the status and date window
func (p Predicate) Scope() Predicate {
	return Predicate{Status: p.Status, Now: p.Now, From: p.From, To: p.To}
}

// Matches evaluates the predicate against a document in memory
func (p Predicate) Matches(d *post.Document) bool {
	if d.Status != p.Status || d.PublishedAt == nil {
		return false
	}
	ts := *d.PublishedAt
	if ts.After(p.Upper()) {
		return false
	}
	if p.From != nil && ts.Before(*p.From) {
		return false
	}
	if p.CategoryID != "" && d.CategoryID != p.CategoryID {
		return false
	}
	if p.AuthorID != "" && d.AuthorID != p.AuthorID {
		return false
	}
	for _, tag := range p.TagIDs {
		if !d.HasTag(tag) {
			return false
		}
	}
	if p.Text != "" {
		return ContainsFold(d.Title, p.Text) ||
			ContainsFold(d.Excerpt, p.Text) ||
			ContainsFold(d.Content, p.Text)
	}
	return true
}

// ContainsFold reports whether needle is a case-insensitive substring of haystack
func ContainsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func normalizeIDs(ids []string) []string {
	return post.UniqueTags(ids)
}
