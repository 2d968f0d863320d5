package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/query"
)

// whereClause translates a predicate into SQL over the posts table aliased as p
func whereClause(p query.Predicate) (string, []any) {
	conds := []string{"p.status = ?", "p.published_at IS NOT NULL", "p.published_at <= ?"}
	args := []any{string(p.Status), p.Upper().UnixMilli()}

	if p.From != nil {
		conds = append(conds, "p.published_at >= ?")
		args = append(args, p.From.UnixMilli())
	}
	if p.Text != "" {
		conds = append(conds, "(contains_fold(p.title, ?) OR contains_fold(p.excerpt, ?) OR contains_fold(p.content, ?))")
		args = append(args, p.Text, p.Text, p.Text)
	}
	if p.CategoryID != "" {
		conds = append(conds, "p.category_id = ?")
		args = append(args, p.CategoryID)
	}
	if p.AuthorID != "" {
		conds = append(conds, "p.author_id = ?")
		args = append(args, p.AuthorID)
	}
	if len(p.TagIDs) > 0 {
		// Superset match: the post must carry every requested tag
		conds = append(conds, `p.id IN (
			SELECT post_id FROM post_tags WHERE tag_id IN (`+placeholders(len(p.TagIDs))+`)
			GROUP BY post_id HAVING COUNT(DISTINCT tag_id) = ?)`)
		args = append(args, stringArgs(p.TagIDs)...)
		args = append(args, len(p.TagIDs))
	}

	return strings.Join(conds, " AND "), args
}

func orderClause(order query.Order) string {
	if order == query.OrderViews {
		return "p.views DESC, p.published_at DESC, p.id ASC"
	}
	return "p.published_at DESC, p.id ASC"
}

// List returns matching posts in a deterministic order
func (d *DB) List(ctx context.Context, p query.Predicate, order query.Order, limit, offset int) ([]*post.Document, error) {
	where, args := whereClause(p)
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	docs, err := d.queryPosts(ctx,
		"SELECT "+postColumns+" FROM posts p WHERE "+where+" ORDER BY "+orderClause(order)+" LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return docs, nil
}

// Count returns the number of matching posts
func (d *DB) Count(ctx context.Context, p query.Predicate) (int, error) {
	where, args := whereClause(p)
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts p WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// GroupCount counts matching posts per category or author, skipping nulls
func (d *DB) GroupCount(ctx context.Context, p query.Predicate, dim query.Dimension) ([]facet.Count, error) {
	var column string
	switch dim {
	case query.DimensionCategory:
		column = "p.category_id"
	case query.DimensionAuthor:
		column = "p.author_id"
	case query.DimensionTag:
		return d.TagFrequencies(ctx, p)
	default:
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}

	where, args := whereClause(p)
	return d.queryCounts(ctx,
		"SELECT "+column+", COUNT(*) FROM posts p WHERE "+where+" AND "+column+" IS NOT NULL GROUP BY "+column,
		args...)
}

// TagFrequencies counts matching posts per tag over the flattened (post, tag) pairs
func (d *DB) TagFrequencies(ctx context.Context, p query.Predicate) ([]facet.Count, error) {
	where, args := whereClause(p)
	return d.queryCounts(ctx,
		"SELECT t.tag_id, COUNT(*) FROM post_tags t JOIN posts p ON p.id = t.post_id WHERE "+where+" GROUP BY t.tag_id",
		args...)
}

func (d *DB) queryCounts(ctx context.Context, q string, args ...any) ([]facet.Count, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("group count: %w", err)
	}
	defer rows.Close()

	var counts []facet.Count
	for rows.Next() {
		var c facet.Count
		if err := rows.Scan(&c.Value, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return facet.Sorted(counts), nil
}

// Engagement returns per-post counts. Comments and reactions are windowed when
// since is set; bookmarks are always all-time.
func (d *DB) Engagement(ctx context.Context, ids []string, since *time.Time) (map[string]post.Engagement, error) {
	out := make(map[string]post.Engagement, len(ids))
	for _, id := range ids {
		out[id] = post.Engagement{}
	}

	for _, chunk := range chunks(ids, maxParams) {
		in := placeholders(len(chunk))
		base := stringArgs(chunk)

		windowed := func(table string) (string, []any) {
			q := "SELECT post_id, COUNT(*) FROM " + table + " WHERE post_id IN (" + in + ")"
			args := append([]any(nil), base...)
			if since != nil {
				q += " AND created_at >= ?"
				args = append(args, since.UnixMilli())
			}
			return q + " GROUP BY post_id", args
		}

		q, args := windowed("comments")
		if err := d.scanEngagement(ctx, out, q, args, func(e *post.Engagement, n int64) { e.CommentCount = n }); err != nil {
			return nil, fmt.Errorf("count comments: %w", err)
		}
		q, args = windowed("reactions")
		if err := d.scanEngagement(ctx, out, q, args, func(e *post.Engagement, n int64) { e.ReactionCount = n }); err != nil {
			return nil, fmt.Errorf("count reactions: %w", err)
		}
		q = "SELECT post_id, COUNT(*) FROM bookmarks WHERE post_id IN (" + in + ") GROUP BY post_id"
		if err := d.scanEngagement(ctx, out, q, base, func(e *post.Engagement, n int64) { e.BookmarkCount = n }); err != nil {
			return nil, fmt.Errorf("count bookmarks: %w", err)
		}
	}
	return out, nil
}

func (d *DB) scanEngagement(ctx context.Context, out map[string]post.Engagement, q string, args []any, set func(*post.Engagement, int64)) error {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return err
		}
		e := out[id]
		set(&e, n)
		out[id] = e
	}
	return rows.Err()
}

// Labels resolves display names for facet values
func (d *DB) Labels(ctx context.Context, dim query.Dimension, ids []string) (map[string]string, error) {
	var table string
	switch dim {
	case query.DimensionCategory:
		table = "categories"
	case query.DimensionTag:
		table = "tags"
	case query.DimensionAuthor:
		table = "authors"
	default:
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}

	out := make(map[string]string, len(ids))
	for _, chunk := range chunks(ids, maxParams) {
		rows, err := d.db.QueryContext(ctx,
			"SELECT id, name FROM "+table+" WHERE id IN ("+placeholders(len(chunk))+")",
			stringArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", table, err)
		}
		for rows.Next() {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = name
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
