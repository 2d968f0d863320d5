package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/renderinc/post-discovery/internal/post"
)

// Sink receives imported records. The SQLite, MongoDB and memory stores all implement it.
type Sink interface {
	UpsertPost(ctx context.Context, doc *post.Document) error
	UpsertCategory(ctx context.Context, id, name string) error
	UpsertTag(ctx context.Context, id, name string) error
	UpsertAuthor(ctx context.Context, id, name string) error
	AddComment(ctx context.Context, postID, authorID string, at time.Time) error
	AddReaction(ctx context.Context, postID, userID string, r post.Reaction) error
	AddBookmark(ctx context.Context, postID, userID string, at time.Time) error
}

// Fixture is the YAML seed format. Times are relative to the import time.
type Fixture struct {
	Categories []Label       `yaml:"categories"`
	Tags       []Label       `yaml:"tags"`
	Authors    []Label       `yaml:"authors"`
	Posts      []FixturePost `yaml:"posts"`
	Comments   []Activity    `yaml:"comments"`
	Reactions  []Activity    `yaml:"reactions"`
	Bookmarks  []Activity    `yaml:"bookmarks"`
}

type Label struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// FixturePost describes a post. Ref names the post inside the fixture when it has no id.
type FixturePost struct {
	ID                string   `yaml:"id"`
	Ref               string   `yaml:"ref"`
	Title             string   `yaml:"title"`
	Excerpt           string   `yaml:"excerpt"`
	Content           string   `yaml:"content"`
	Status            string   `yaml:"status"`
	PublishedHoursAgo *float64 `yaml:"publishedHoursAgo"`
	Views             int64    `yaml:"views"`
	Category          string   `yaml:"category"`
	Tags              []string `yaml:"tags"`
	Author            string   `yaml:"author"`
}

// Activity is a comment, reaction or bookmark
type Activity struct {
	Post     string  `yaml:"post"`
	User     string  `yaml:"user"`
	Type     string  `yaml:"type"`
	HoursAgo float64 `yaml:"hoursAgo"`
	Count    int     `yaml:"count"`
}

// ImportStats counts what was written
type ImportStats struct {
	Posts     int
	Comments  int
	Reactions int
	Bookmarks int
}

// Importer loads fixtures into a sink
type Importer struct {
	sink Sink
	now  func() time.Time
	log  logrus.FieldLogger
}

// NewImporter creates an importer. now may be nil to use the wall clock.
func NewImporter(sink Sink, now func() time.Time, log logrus.FieldLogger) *Importer {
	if now == nil {
		now = time.Now
	}
	return &Importer{sink: sink, now: now, log: log}
}

// ImportFile reads a YAML fixture from disk
func (im *Importer) ImportFile(ctx context.Context, path string) (*ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return im.Import(ctx, f)
}

// Import decodes a YAML fixture and writes it
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportStats, error) {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return im.Write(ctx, &fx)
}

// Write stores every record of a decoded fixture
func (im *Importer) Write(ctx context.Context, fx *Fixture) (*ImportStats, error) {
	now := im.now().UTC()
	stats := &ImportStats{}

	for _, l := range fx.Categories {
		if err := im.sink.UpsertCategory(ctx, l.ID, l.Name); err != nil {
			return nil, err
		}
	}
	for _, l := range fx.Tags {
		if err := im.sink.UpsertTag(ctx, l.ID, l.Name); err != nil {
			return nil, err
		}
	}
	for _, l := range fx.Authors {
		if err := im.sink.UpsertAuthor(ctx, l.ID, l.Name); err != nil {
			return nil, err
		}
	}

	refs := make(map[string]string, len(fx.Posts))
	for i, fp := range fx.Posts {
		doc, err := fp.document(now)
		if err != nil {
			return nil, fmt.Errorf("post %d: %w", i, err)
		}
		if err := im.sink.UpsertPost(ctx, doc); err != nil {
			return nil, fmt.Errorf("post %d: %w", i, err)
		}
		refs[doc.ID] = doc.ID
		if fp.Ref != "" {
			refs[fp.Ref] = doc.ID
		}
		stats.Posts++
	}

	resolve := func(kind string, a Activity) (string, time.Time, error) {
		id, ok := refs[a.Post]
		if !ok {
			return "", time.Time{}, fmt.Errorf("%s references unknown post %q", kind, a.Post)
		}
		return id, ago(now, a.HoursAgo), nil
	}

	for _, a := range fx.Comments {
		id, at, err := resolve("comment", a)
		if err != nil {
			return nil, err
		}
		for i, n := 0, repeat(a.Count); i < n; i++ {
			if err := im.sink.AddComment(ctx, id, a.User, at); err != nil {
				return nil, fmt.Errorf("add comment: %w", err)
			}
			stats.Comments++
		}
	}
	for _, a := range fx.Reactions {
		id, at, err := resolve("reaction", a)
		if err != nil {
			return nil, err
		}
		kind := a.Type
		if kind == "" {
			kind = "like"
		}
		for i, n := 0, repeat(a.Count); i < n; i++ {
			if err := im.sink.AddReaction(ctx, id, a.User, post.Reaction{Type: kind, CreatedAt: at}); err != nil {
				return nil, fmt.Errorf("add reaction: %w", err)
			}
			stats.Reactions++
		}
	}
	for _, a := range fx.Bookmarks {
		id, at, err := resolve("bookmark", a)
		if err != nil {
			return nil, err
		}
		if err := im.sink.AddBookmark(ctx, id, a.User, at); err != nil {
			return nil, fmt.Errorf("add bookmark: %w", err)
		}
		stats.Bookmarks++
	}

	im.log.WithFields(logrus.Fields{
		"posts":     stats.Posts,
		"comments":  stats.Comments,
		"reactions": stats.Reactions,
		"bookmarks": stats.Bookmarks,
	}).Info("fixture imported")
	return stats, nil
}

func (fp FixturePost) document(now time.Time) (*post.Document, error) {
	id := fp.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := post.StatusPublished
	if fp.Status != "" {
		s, err := post.ParseStatus(fp.Status)
		if err != nil {
			return nil, err
		}
		status = s
	}
	if fp.Author == "" {
		return nil, fmt.Errorf("author is required")
	}

	doc := &post.Document{
		ID:         id,
		Title:      fp.Title,
		Excerpt:    fp.Excerpt,
		Content:    fp.Content,
		Status:     post.StatusDraft,
		Views:      fp.Views,
		CategoryID: fp.Category,
		TagIDs:     post.UniqueTags(fp.Tags),
		AuthorID:   fp.Author,
	}

	if status == post.StatusPublished {
		hours := 0.0
		if fp.PublishedHoursAgo != nil {
			hours = *fp.PublishedHoursAgo
		}
		if err := doc.Transition(post.StatusPublished, ago(now, hours)); err != nil {
			return nil, err
		}
		return doc, nil
	}
	// Other statuses carry no publish time
	doc.Status = status
	return doc, nil
}

func ago(now time.Time, hours float64) time.Time {
	return now.Add(-time.Duration(hours * float64(time.Hour)))
}

// repeat returns the number of records an activity expands to
func repeat(count int) int {
	if count <= 0 {
		return 1
	}
	return count
}
