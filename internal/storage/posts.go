package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/renderinc/post-discovery/internal/post"
)

const postColumns = `p.id, p.title, p.excerpt, p.content, p.status, p.published_at, p.views, p.category_id, p.author_id`

// UpsertPost inserts or updates a post and replaces its tag set
func (d *DB) UpsertPost(ctx context.Context, doc *post.Document) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO posts (
		id, title, excerpt, content, status, published_at, views, category_id, author_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		excerpt = excluded.excerpt,
		content = excluded.content,
		status = excluded.status,
		published_at = excluded.published_at,
		views = excluded.views,
		category_id = excluded.category_id,
		author_id = excluded.author_id
	`

	_, err = tx.ExecContext(ctx, query,
		doc.ID, doc.Title, doc.Excerpt, doc.Content, string(doc.Status), nullMillis(doc.PublishedAt),
		doc.Views, nullString(doc.CategoryID), doc.AuthorID,
	)
	if err != nil {
		return fmt.Errorf("upsert post: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM post_tags WHERE post_id = ?", doc.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range post.UniqueTags(doc.TagIDs) {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO post_tags (post_id, tag_id) VALUES (?, ?)", doc.ID, tag); err != nil {
			return fmt.Errorf("insert tag %s: %w", tag, err)
		}
	}

	return tx.Commit()
}

// Get retrieves a post by ID, returning nil when it does not exist
func (d *DB) Get(ctx context.Context, id string) (*post.Document, error) {
	docs, err := d.queryPosts(ctx, "SELECT "+postColumns+" FROM posts p WHERE p.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// All retrieves every post regardless of status, ordered by id
func (d *DB) All(ctx context.Context) ([]*post.Document, error) {
	return d.queryPosts(ctx, "SELECT "+postColumns+" FROM posts p ORDER BY p.id")
}

// IncrementViews bumps the view counter of a post
func (d *DB) IncrementViews(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, "UPDATE posts SET views = views + 1 WHERE id = ?", id)
	return err
}

// DeletePost removes a post and its engagement records
func (d *DB) DeletePost(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", id)
	return err
}

// UpsertCategory stores a category label
func (d *DB) UpsertCategory(ctx context.Context, id, name string) error {
	return d.upsertLabel(ctx, "categories", id, name)
}

// UpsertTag stores a tag label
func (d *DB) UpsertTag(ctx context.Context, id, name string) error {
	return d.upsertLabel(ctx, "tags", id, name)
}

// UpsertAuthor stores an author display name
func (d *DB) UpsertAuthor(ctx context.Context, id, name string) error {
	return d.upsertLabel(ctx, "authors", id, name)
}

func (d *DB) upsertLabel(ctx context.Context, table, id, name string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO "+table+" (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name",
		id, name)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// AddComment records a comment on a post
func (d *DB) AddComment(ctx context.Context, postID, authorID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO comments (post_id, author_id, created_at) VALUES (?, ?, ?)",
		postID, authorID, at.UnixMilli())
	return err
}

// AddReaction records a reaction on a post
func (d *DB) AddReaction(ctx context.Context, postID, userID string, r post.Reaction) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO reactions (post_id, user_id, type, created_at) VALUES (?, ?, ?, ?)",
		postID, userID, r.Type, r.CreatedAt.UnixMilli())
	return err
}

// AddBookmark records a bookmark; bookmarking twice is a no-op
func (d *DB) AddBookmark(ctx context.Context, postID, userID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO bookmarks (post_id, user_id, created_at) VALUES (?, ?, ?)",
		postID, userID, at.UnixMilli())
	return err
}

// Stats holds table sizes
type Stats struct {
	Posts     int
	Published int
	Comments  int
	Reactions int
	Bookmarks int
}

// Stats returns row counts for the main tables
func (d *DB) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	err := d.db.QueryRowContext(ctx, `
	SELECT
		(SELECT COUNT(*) FROM posts),
		(SELECT COUNT(*) FROM posts WHERE status = ? AND published_at IS NOT NULL),
		(SELECT COUNT(*) FROM comments),
		(SELECT COUNT(*) FROM reactions),
		(SELECT COUNT(*) FROM bookmarks)
	`, string(post.StatusPublished)).Scan(&s.Posts, &s.Published, &s.Comments, &s.Reactions, &s.Bookmarks)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// queryPosts runs a post query and attaches tag sets
func (d *DB) queryPosts(ctx context.Context, query string, args ...any) ([]*post.Document, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*post.Document{}
	for rows.Next() {
		var (
			doc       post.Document
			status    string
			published sql.NullInt64
			category  sql.NullString
		)
		err := rows.Scan(
			&doc.ID, &doc.Title, &doc.Excerpt, &doc.Content, &status, &published,
			&doc.Views, &category, &doc.AuthorID,
		)
		if err != nil {
			return nil, err
		}
		doc.Status = post.Status(status)
		if published.Valid {
			ts := time.UnixMilli(published.Int64).UTC()
			doc.PublishedAt = &ts
		}
		doc.CategoryID = category.String
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := d.attachTags(ctx, docs); err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	return docs, nil
}

func (d *DB) attachTags(ctx context.Context, docs []*post.Document) error {
	byID := make(map[string]*post.Document, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
		ids = append(ids, doc.ID)
	}

	for _, chunk := range chunks(ids, maxParams) {
		rows, err := d.db.QueryContext(ctx,
			"SELECT post_id, tag_id FROM post_tags WHERE post_id IN ("+placeholders(len(chunk))+") ORDER BY post_id, tag_id",
			stringArgs(chunk)...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var postID, tagID string
			if err := rows.Scan(&postID, &tagID); err != nil {
				rows.Close()
				return err
			}
			if doc, ok := byID[postID]; ok {
				doc.TagIDs = append(doc.TagIDs, tagID)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// maxParams keeps IN lists well below SQLite's bound-parameter limit
const maxParams = 500

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func nullMillis(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return ts.UnixMilli()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
