package query

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/post-discovery/internal/post"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func published(id string, age time.Duration, tags ...string) *post.Document {
	ts := now.Add(-age)
	return &post.Document{
		ID:          id,
		Title:       "Title " + id,
		Status:      post.StatusPublished,
		PublishedAt: &ts,
		AuthorID:    "alice",
		CategoryID:  "go",
		TagIDs:      tags,
	}
}

func TestBuildNormalizes(t *testing.T) {
	p := Build(Filters{
		Query:      "  Kubernetes ",
		TagIDs:     []string{"a", " ", "b", "a"},
		CategoryID: " ",
	}, now)

	assert.Equal(t, post.StatusPublished, p.Status)
	assert.Equal(t, "kubernetes", p.Text)
	assert.Equal(t, []string{"a", "b"}, p.TagIDs)
	assert.Empty(t, p.CategoryID)
	assert.Nil(t, p.From)
	assert.Nil(t, p.To)

	empty := Build(Filters{TagIDs: []string{}}, now)
	assert.Nil(t, empty.TagIDs)
}

func TestMatchesTagsAreConjunctive(t *testing.T) {
	p := Build(Filters{TagIDs: []string{"A", "B"}}, now)

	assert.False(t, p.Matches(published("only-a", time.Hour, "A")))
	assert.True(t, p.Matches(published("both", time.Hour, "A", "B")))
	assert.True(t, p.Matches(published("superset", time.Hour, "C", "B", "A")))
}

func TestMatchesStatusScope(t *testing.T) {
	p := Build(Filters{}, now)

	future := published("future", -time.Hour)
	assert.False(t, p.Matches(future), "future-dated posts are hidden even when published")

	draft := published("draft", time.Hour)
	draft.Status = post.StatusDraft
	assert.False(t, p.Matches(draft))

	missing := published("missing", time.Hour)
	missing.PublishedAt = nil
	assert.False(t, p.Matches(missing))

	assert.True(t, p.Matches(published("ok", 0)))
}

func TestMatchesTextAcrossFields(t *testing.T) {
	p := Build(Filters{Query: "ROLLOUT"}, now)

	inTitle := published("1", time.Hour)
	inTitle.Title = "Safe rollouts"
	inExcerpt := published("2", time.Hour)
	inExcerpt.Excerpt = "about the Rollout plan"
	inContent := published("3", time.Hour)
	inContent.Content = "...rollout..."
	none := published("4", time.Hour)

	assert.True(t, p.Matches(inTitle))
	assert.True(t, p.Matches(inExcerpt))
	assert.True(t, p.Matches(inContent))
	assert.False(t, p.Matches(none))
}

func TestMatchesDateBoundsInclusive(t *testing.T) {
	from := now.Add(-48 * time.Hour)
	to := now.Add(-24 * time.Hour)
	p := Build(Filters{DateFrom: &from, DateTo: &to}, now)

	assert.True(t, p.Matches(published("at-from", 48*time.Hour)))
	assert.True(t, p.Matches(published("at-to", 24*time.Hour)))
	assert.False(t, p.Matches(published("before", 49*time.Hour)))
	assert.False(t, p.Matches(published("after", time.Hour)))
}

func TestMatchesExactCategoryAndAuthor(t *testing.T) {
	doc := published("1", time.Hour)

	assert.True(t, Build(Filters{CategoryID: "go", AuthorID: "alice"}, now).Matches(doc))
	assert.False(t, Build(Filters{CategoryID: "rust"}, now).Matches(doc))
	assert.False(t, Build(Filters{AuthorID: "bob"}, now).Matches(doc))
}

func TestUpperUsesEarlierBound(t *testing.T) {
	later := now.Add(time.Hour)
	assert.Equal(t, now, Build(Filters{DateTo: &later}, now).Upper())

	earlier := now.Add(-time.Hour)
	assert.Equal(t, earlier, Build(Filters{DateTo: &earlier}, now).Upper())
}

func TestParseFiltersTolerant(t *testing.T) {
	v := url.Values{
		"q":        {"deploy"},
		"tags":     {"a, b,,"},
		"tag":      {"c"},
		"category": {"ops"},
		"authorId": {"bob"},
		"dateFrom": {"not-a-date"},
		"dateTo":   {"2025-06-01"},
	}

	f, coercions := ParseFilters(v)
	assert.Equal(t, "deploy", f.Query)
	assert.Equal(t, []string{"a", "b", "c"}, f.TagIDs)
	assert.Equal(t, "ops", f.CategoryID)
	assert.Equal(t, "bob", f.AuthorID)
	assert.Nil(t, f.DateFrom)
	require.NotNil(t, f.DateTo)
	assert.Equal(t, time.Date(2025, 6, 1, 23, 59, 59, 999999999, time.UTC), *f.DateTo)

	require.Len(t, coercions, 1)
	assert.Equal(t, "dateFrom", coercions[0].Param)
}

func TestParseTimeRFC3339(t *testing.T) {
	ts, err := ParseTime("2025-06-01T10:00:00+02:00", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), ts)
}

func TestParseInt(t *testing.T) {
	v := url.Values{"page": {"3"}, "limit": {"ten"}}

	n, c := ParseInt(v, "page", 1)
	assert.Equal(t, 3, n)
	assert.Nil(t, c)

	n, c = ParseInt(v, "limit", 10)
	assert.Equal(t, 10, n)
	require.NotNil(t, c)
	assert.Equal(t, "limit", c.Param)

	n, c = ParseInt(v, "missing", 7)
	assert.Equal(t, 7, n)
	assert.Nil(t, c)
}
