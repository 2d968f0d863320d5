// Package mongostore serves discovery reads from MongoDB collections.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
)

// Store reads and writes posts and engagement in one database
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    logrus.FieldLogger
}

type postRecord struct {
	ID          string     `bson:"_id"`
	Title       string     `bson:"title"`
	Excerpt     string     `bson:"excerpt"`
	Content     string     `bson:"content"`
	Status      string     `bson:"status"`
	PublishedAt *time.Time `bson:"publishedAt,omitempty"`
	Views       int64      `bson:"views"`
	CategoryID  string     `bson:"categoryId,omitempty"`
	TagIDs      []string   `bson:"tagIds"`
	AuthorID    string     `bson:"authorId"`
}

type labelRecord struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

// Connect opens a client, pings it and prepares the indexes
func Connect(ctx context.Context, uri, database string, log logrus.FieldLogger) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is empty")
	}

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(50).
		SetConnectTimeout(5 * time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(database), log: log}
	if err := s.ensureIndexes(connectCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	log.WithField("database", database).Info("connected to MongoDB")
	return s, nil
}

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(colPosts).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "publishedAt", Value: -1}}},
		{Keys: bson.D{{Key: "tagIds", Value: 1}}},
		{Keys: bson.D{{Key: "categoryId", Value: 1}}},
		{Keys: bson.D{{Key: "authorId", Value: 1}}},
	})
	if err != nil {
		return err
	}
	for _, name := range []string{colComments, colReactions} {
		_, err := s.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "postId", Value: 1}, {Key: "createdAt", Value: 1}},
		})
		if err != nil {
			return err
		}
	}
	_, err = s.db.Collection(colBookmarks).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "postId", Value: 1}, {Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// List returns matching posts in a deterministic order
func (s *Store) List(ctx context.Context, p query.Predicate, order query.Order, limit, offset int) ([]*post.Document, error) {
	opts := options.Find().SetSort(Sort(order))
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(colPosts).Find(ctx, Filter(p), opts)
	if err != nil {
		return nil, fmt.Errorf("find posts: %w", err)
	}
	var records []postRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}

	docs := make([]*post.Document, len(records))
	for i := range records {
		docs[i] = records[i].document()
	}
	return docs, nil
}

// Count returns the number of matching posts
func (s *Store) Count(ctx context.Context, p query.Predicate) (int, error) {
	n, err := s.db.Collection(colPosts).CountDocuments(ctx, Filter(p))
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return int(n), nil
}

// GroupCount counts matching posts per category or author
func (s *Store) GroupCount(ctx context.Context, p query.Predicate, dim query.Dimension) ([]facet.Count, error) {
	if dim == query.DimensionTag {
		return s.TagFrequencies(ctx, p)
	}
	field, ok := dimensionField(dim)
	if !ok {
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}
	return s.aggregateCounts(ctx, colPosts, GroupPipeline(p, field))
}

// TagFrequencies counts matching posts per tag
func (s *Store) TagFrequencies(ctx context.Context, p query.Predicate) ([]facet.Count, error) {
	return s.aggregateCounts(ctx, colPosts, TagPipeline(p))
}

func (s *Store) aggregateCounts(ctx context.Context, collection string, pipeline []bson.M) ([]facet.Count, error) {
	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", collection, err)
	}
	counts := []facet.Count{}
	if err := cursor.All(ctx, &counts); err != nil {
		return nil, fmt.Errorf("decode %s counts: %w", collection, err)
	}
	return facet.Sorted(counts), nil
}

// Engagement returns per-post counts. Bookmarks ignore since.
func (s *Store) Engagement(ctx context.Context, ids []string, since *time.Time) (map[string]post.Engagement, error) {
	out := make(map[string]post.Engagement, len(ids))
	for _, id := range ids {
		out[id] = post.Engagement{}
	}
	if len(ids) == 0 {
		return out, nil
	}

	sources := []struct {
		collection string
		since      *time.Time
		set        func(*post.Engagement, int64)
	}{
		{colComments, since, func(e *post.Engagement, n int64) { e.CommentCount = n }},
		{colReactions, since, func(e *post.Engagement, n int64) { e.ReactionCount = n }},
		{colBookmarks, nil, func(e *post.Engagement, n int64) { e.BookmarkCount = n }},
	}
	for _, src := range sources {
		counts, err := s.aggregateCounts(ctx, src.collection, EngagementPipeline(ids, src.since))
		if err != nil {
			return nil, err
		}
		for _, c := range counts {
			e := out[c.Value]
			src.set(&e, int64(c.Count))
			out[c.Value] = e
		}
	}
	return out, nil
}

// Labels resolves display names for facet values
func (s *Store) Labels(ctx context.Context, dim query.Dimension, ids []string) (map[string]string, error) {
	collection, ok := labelCollection(dim)
	if !ok {
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	var records []labelRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	out := make(map[string]string, len(records))
	for _, r := range records {
		out[r.ID] = r.Name
	}
	return out, nil
}

// Get returns a post by id, or nil when it does not exist
func (s *Store) Get(ctx context.Context, id string) (*post.Document, error) {
	var rec postRecord
	err := s.db.Collection(colPosts).FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post: %w", err)
	}
	return rec.document(), nil
}

// IncrementViews bumps the view counter of a post
func (s *Store) IncrementViews(ctx context.Context, id string) error {
	_, err := s.db.Collection(colPosts).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"views": 1}})
	return err
}

// UpsertPost inserts or replaces a post
func (s *Store) UpsertPost(ctx context.Context, doc *post.Document) error {
	rec := toRecord(doc)
	_, err := s.db.Collection(colPosts).ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert post: %w", err)
	}
	return nil
}

// UpsertCategory stores a category label
func (s *Store) UpsertCategory(ctx context.Context, id, name string) error {
	return s.upsertLabel(ctx, colCategories, id, name)
}

// UpsertTag stores a tag label
func (s *Store) UpsertTag(ctx context.Context, id, name string) error {
	return s.upsertLabel(ctx, colTags, id, name)
}

// UpsertAuthor stores an author display name
func (s *Store) UpsertAuthor(ctx context.Context, id, name string) error {
	return s.upsertLabel(ctx, colAuthors, id, name)
}

func (s *Store) upsertLabel(ctx context.Context, collection, id, name string) error {
	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id},
		labelRecord{ID: id, Name: name}, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nil
}

// AddComment records a comment on a post
func (s *Store) AddComment(ctx context.Context, postID, authorID string, at time.Time) error {
	_, err := s.db.Collection(colComments).InsertOne(ctx, bson.M{
		"postId": postID, "authorId": authorID, "createdAt": at,
	})
	return err
}

// AddReaction records a reaction on a post
func (s *Store) AddReaction(ctx context.Context, postID, userID string, r post.Reaction) error {
	_, err := s.db.Collection(colReactions).InsertOne(ctx, bson.M{
		"postId": postID, "userId": userID, "type": r.Type, "createdAt": r.CreatedAt,
	})
	return err
}

// AddBookmark records a bookmark; bookmarking twice is a no-op
func (s *Store) AddBookmark(ctx context.Context, postID, userID string, at time.Time) error {
	_, err := s.db.Collection(colBookmarks).UpdateOne(ctx,
		bson.M{"postId": postID, "userId": userID},
		bson.M{"$setOnInsert": bson.M{"createdAt": at}},
		options.Update().SetUpsert(true))
	return err
}

func toRecord(doc *post.Document) postRecord {
	tags := post.UniqueTags(doc.TagIDs)
	if tags == nil {
		tags = []string{}
	}
	rec := postRecord{
		ID:         doc.ID,
		Title:      doc.Title,
		Excerpt:    doc.Excerpt,
		Content:    doc.Content,
		Status:     string(doc.Status),
		Views:      doc.Views,
		CategoryID: doc.CategoryID,
		TagIDs:     tags,
		AuthorID:   doc.AuthorID,
	}
	if doc.PublishedAt != nil {
		ts := doc.PublishedAt.UTC()
		rec.PublishedAt = &ts
	}
	return rec
}

func (r postRecord) document() *post.Document {
	doc := &post.Document{
		ID:         r.ID,
		Title:      r.Title,
		Excerpt:    r.Excerpt,
		Content:    r.Content,
		Status:     post.Status(r.Status),
		Views:      r.Views,
		CategoryID: r.CategoryID,
		TagIDs:     r.TagIDs,
		AuthorID:   r.AuthorID,
	}
	if r.PublishedAt != nil {
		ts := r.PublishedAt.UTC()
		doc.PublishedAt = &ts
	}
	return doc
}
