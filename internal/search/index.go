package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
	bq "github.com/blevesearch/bleve/v2/search/query"
	"github.com/sirupsen/logrus"

	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
)

// DefaultFacetSize caps the number of terms returned per facet
const DefaultFacetSize = 1000

// lowerKeyword indexes a whole field as one lowercased token so regexp
// queries behave like a case-insensitive substring match
const lowerKeyword = "keyword_lower"

// Index wraps a Bleve search index
type Index struct {
	index     bleve.Index
	facetSize int
	log       logrus.FieldLogger
}

// IndexedPost is the shape of a post inside the index
type IndexedPost struct {
	Title       string   `json:"title"`
	Excerpt     string   `json:"excerpt"`
	Content     string   `json:"content"`
	Text        []string `json:"text"`
	Status      string   `json:"status"`
	PublishedMs *float64 `json:"published_ms,omitempty"`
	Views       float64  `json:"views"`
	CategoryID  string   `json:"category_id,omitempty"`
	TagIDs      []string `json:"tags,omitempty"`
	AuthorID    string   `json:"author_id"`
}

// Open opens or creates a Bleve index
func Open(path string, facetSize int) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		indexMapping, err := buildIndexMapping()
		if err != nil {
			return nil, fmt.Errorf("build mapping: %w", err)
		}
		idx, err = bleve.New(path, indexMapping)
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return newIndex(idx, facetSize), nil
}

// NewMemOnly creates an in-memory index
func NewMemOnly(facetSize int) (*Index, error) {
	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build mapping: %w", err)
	}
	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return newIndex(idx, facetSize), nil
}

func newIndex(idx bleve.Index, facetSize int) *Index {
	if facetSize <= 0 {
		facetSize = DefaultFacetSize
	}
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	return &Index{index: idx, facetSize: facetSize, log: quiet}
}

// SetLogger replaces the discarding default logger
func (i *Index) SetLogger(log logrus.FieldLogger) {
	i.log = log
}

func buildIndexMapping() (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(lowerKeyword, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, err
	}

	// Stored only; matching goes through the text field
	storedField := bleve.NewTextFieldMapping()
	storedField.Index = false
	storedField.IncludeInAll = false

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = lowerKeyword
	textField.Store = false
	textField.IncludeInAll = false

	keywordField := bleve.NewKeywordFieldMapping()
	keywordField.Analyzer = keyword.Name
	keywordField.IncludeInAll = false

	numericField := bleve.NewNumericFieldMapping()
	numericField.IncludeInAll = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false
	docMapping.AddFieldMappingsAt("title", storedField)
	docMapping.AddFieldMappingsAt("excerpt", storedField)
	docMapping.AddFieldMappingsAt("content", storedField)
	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("status", keywordField)
	docMapping.AddFieldMappingsAt("category_id", keywordField)
	docMapping.AddFieldMappingsAt("tags", keywordField)
	docMapping.AddFieldMappingsAt("author_id", keywordField)
	docMapping.AddFieldMappingsAt("published_ms", numericField)
	docMapping.AddFieldMappingsAt("views", numericField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = keyword.Name
	return indexMapping, nil
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// ToIndexed converts a post to its index form
func ToIndexed(doc *post.Document) *IndexedPost {
	ip := &IndexedPost{
		Title:      doc.Title,
		Excerpt:    doc.Excerpt,
		Content:    doc.Content,
		Text:       []string{flatten(doc.Title), flatten(doc.Excerpt), flatten(doc.Content)},
		Status:     string(doc.Status),
		Views:      float64(doc.Views),
		CategoryID: doc.CategoryID,
		TagIDs:     post.UniqueTags(doc.TagIDs),
		AuthorID:   doc.AuthorID,
	}
	if doc.PublishedAt != nil {
		ms := float64(doc.PublishedAt.UnixMilli())
		ip.PublishedMs = &ms
	}
	return ip
}

// IndexPost adds or updates a post in the index
func (i *Index) IndexPost(doc *post.Document) error {
	return i.index.Index(doc.ID, ToIndexed(doc))
}

// Delete removes a post from the index
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

// IndexBatch commits several posts in one batch
func (i *Index) IndexBatch(docs map[string]*IndexedPost) error {
	batch := i.index.NewBatch()
	for id, doc := range docs {
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", id, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// DeleteBatch removes several posts in one batch
func (i *Index) DeleteBatch(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := i.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// DocCount returns the number of documents in the index
func (i *Index) DocCount() (uint64, error) {
	return i.index.DocCount()
}

// IDs returns the ids of every indexed post
func (i *Index) IDs(ctx context.Context) ([]string, error) {
	n, err := i.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false)
	req.SortBy([]string{"_id"})
	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// List returns matching posts in a deterministic order
func (i *Index) List(ctx context.Context, p query.Predicate, order query.Order, limit, offset int) ([]*post.Document, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		n, err := i.index.DocCount()
		if err != nil {
			return nil, fmt.Errorf("doc count: %w", err)
		}
		if n == 0 {
			return []*post.Document{}, nil
		}
		limit = int(n)
	}

	req := bleve.NewSearchRequestOptions(buildQuery(p), limit, offset, false)
	req.SortBy(sortFields(order))
	req.Fields = []string{"*"}

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	docs := make([]*post.Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		docs = append(docs, fromFields(hit.ID, hit.Fields))
	}
	return docs, nil
}

// Count returns the number of matching posts
func (i *Index) Count(ctx context.Context, p query.Predicate) (int, error) {
	req := bleve.NewSearchRequestOptions(buildQuery(p), 0, 0, false)
	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("search: %w", err)
	}
	return int(res.Total), nil
}

// GroupCount counts matching posts per category or author with a term facet
func (i *Index) GroupCount(ctx context.Context, p query.Predicate, dim query.Dimension) ([]facet.Count, error) {
	switch dim {
	case query.DimensionCategory:
		return i.termFacet(ctx, p, "category_id")
	case query.DimensionAuthor:
		return i.termFacet(ctx, p, "author_id")
	case query.DimensionTag:
		return i.termFacet(ctx, p, "tags")
	}
	return nil, fmt.Errorf("unknown dimension %q", dim)
}

// TagFrequencies counts matching posts per tag
func (i *Index) TagFrequencies(ctx context.Context, p query.Predicate) ([]facet.Count, error) {
	return i.termFacet(ctx, p, "tags")
}

func (i *Index) termFacet(ctx context.Context, p query.Predicate, field string) ([]facet.Count, error) {
	req := bleve.NewSearchRequestOptions(buildQuery(p), 0, 0, false)
	req.AddFacet(field, bleve.NewFacetRequest(field, i.facetSize))

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("facet %s: %w", field, err)
	}

	counts := []facet.Count{}
	fr, ok := res.Facets[field]
	if !ok || fr.Terms == nil {
		return counts, nil
	}
	for _, term := range fr.Terms.Terms() {
		counts = append(counts, facet.Count{Value: term.Term, Count: term.Count})
	}
	if fr.Other > 0 {
		i.log.WithFields(logrus.Fields{
			"field": field,
			"size":  i.facetSize,
			"other": fr.Other,
		}).Debug("facet truncated")
	}
	return facet.Sorted(counts), nil
}

// buildQuery translates a predicate into a conjunction of bleve queries
func buildQuery(p query.Predicate) bq.Query {
	status := bleve.NewTermQuery(string(p.Status))
	status.SetField("status")

	upper := float64(p.Upper().UnixMilli())
	var lower *float64
	if p.From != nil {
		v := float64(p.From.UnixMilli())
		lower = &v
	}
	inclusive := true
	window := bleve.NewNumericRangeInclusiveQuery(lower, &upper, &inclusive, &inclusive)
	window.SetField("published_ms")

	conj := bleve.NewConjunctionQuery(status, window)

	if p.Text != "" {
		rq := bleve.NewRegexpQuery(substringPattern(p.Text))
		rq.SetField("text")
		conj.AddQuery(rq)
	}
	if p.CategoryID != "" {
		tq := bleve.NewTermQuery(p.CategoryID)
		tq.SetField("category_id")
		conj.AddQuery(tq)
	}
	if p.AuthorID != "" {
		tq := bleve.NewTermQuery(p.AuthorID)
		tq.SetField("author_id")
		conj.AddQuery(tq)
	}
	for _, tag := range p.TagIDs {
		tq := bleve.NewTermQuery(tag)
		tq.SetField("tags")
		conj.AddQuery(tq)
	}
	return conj
}

func sortFields(order query.Order) []string {
	if order == query.OrderViews {
		return []string{"-views", "-published_ms", "_id"}
	}
	return []string{"-published_ms", "_id"}
}

// flatten lowercases and puts the text on one line; "." in a pattern does not cross newlines
func flatten(s string) string {
	return strings.ToLower(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s))
}

// substringPattern matches any term containing text literally
func substringPattern(text string) string {
	return ".*" + regexp.QuoteMeta(flatten(text)) + ".*"
}

func fromFields(id string, fields map[string]interface{}) *post.Document {
	doc := &post.Document{
		ID:         id,
		Title:      stringField(fields, "title"),
		Excerpt:    stringField(fields, "excerpt"),
		Content:    stringField(fields, "content"),
		Status:     post.Status(stringField(fields, "status")),
		CategoryID: stringField(fields, "category_id"),
		AuthorID:   stringField(fields, "author_id"),
		TagIDs:     stringsField(fields, "tags"),
	}
	if v, ok := fields["views"].(float64); ok {
		doc.Views = int64(v)
	}
	if v, ok := fields["published_ms"].(float64); ok {
		ts := time.UnixMilli(int64(v)).UTC()
		doc.PublishedAt = &ts
	}
	return doc
}

func stringField(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

// stringsField reads a multi-valued field; bleve returns a bare string for a single value
func stringsField(fields map[string]interface{}, name string) []string {
	switch v := fields[name].(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
