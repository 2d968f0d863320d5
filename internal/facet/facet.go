package facet

import (
	"sort"

	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
)

// Count is a raw frequency for one facet value
type Count struct {
	Value string `json:"value" bson:"_id"`
	Count int    `json:"count" bson:"count"`
}

// Bucket is a labeled facet entry returned to clients
type Bucket struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Facets groups the buckets for every dimension.
// Uncategorized counts filtered posts without a category; they get no bucket.
type Facets struct {
	Tags          []Bucket `json:"tags"`
	Categories    []Bucket `json:"categories"`
	Authors       []Bucket `json:"authors"`
	Uncategorized int      `json:"uncategorized"`
}

// Empty returns facets with non-nil empty slices
func Empty() Facets {
	return Facets{Tags: []Bucket{}, Categories: []Bucket{}, Authors: []Bucket{}}
}

// CountTags tallies tag frequencies. Each document adds one to every distinct tag it carries.
func CountTags(docs []*post.Document) []Count {
	freq := make(map[string]int)
	for _, d := range docs {
		for _, tag := range post.UniqueTags(d.TagIDs) {
			freq[tag]++
		}
	}
	return fromMap(freq)
}

// CountBy tallies a single-valued dimension, skipping documents without a value
func CountBy(docs []*post.Document, dim query.Dimension) []Count {
	if dim == query.DimensionTag {
		return CountTags(docs)
	}
	freq := make(map[string]int)
	for _, d := range docs {
		v := valueOf(d, dim)
		if v == "" {
			continue
		}
		freq[v]++
	}
	return fromMap(freq)
}

// Sorted orders counts by count descending, then value ascending
func Sorted(counts []Count) []Count {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Value < counts[j].Value
	})
	return counts
}

// Total sums the counts
func Total(counts []Count) int {
	n := 0
	for _, c := range counts {
		n += c.Count
	}
	return n
}

func valueOf(d *post.Document, dim query.Dimension) string {
	switch dim {
	case query.DimensionCategory:
		return d.CategoryID
	case query.DimensionAuthor:
		return d.AuthorID
	}
	return ""
}

func fromMap(freq map[string]int) []Count {
	out := make([]Count, 0, len(freq))
	for v, n := range freq {
		out = append(out, Count{Value: v, Count: n})
	}
	return Sorted(out)
}
