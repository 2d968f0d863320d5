package mongostore

import (
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/renderinc/post-discovery/internal/query"
)

// Collection names
const (
	colPosts      = "posts"
	colComments   = "comments"
	colReactions  = "reactions"
	colBookmarks  = "bookmarks"
	colCategories = "categories"
	colTags       = "tags"
	colAuthors    = "authors"
)

// Filter translates a predicate into a posts filter document
func Filter(p query.Predicate) bson.M {
	published := bson.M{"$lte": p.Upper()}
	if p.From != nil {
		published["$gte"] = *p.From
	}

	filter := bson.M{
		"status":      string(p.Status),
		"publishedAt": published,
	}
	if p.Text != "" {
		re := bson.M{"$regex": regexp.QuoteMeta(p.Text), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"title": re},
			bson.M{"excerpt": re},
			bson.M{"content": re},
		}
	}
	if p.CategoryID != "" {
		filter["categoryId"] = p.CategoryID
	}
	if p.AuthorID != "" {
		filter["authorId"] = p.AuthorID
	}
	if len(p.TagIDs) > 0 {
		filter["tagIds"] = bson.M{"$all": p.TagIDs}
	}
	return filter
}

// Sort returns the sort document for a list order; every order ends with _id ascending
func Sort(order query.Order) bson.D {
	if order == query.OrderViews {
		return bson.D{{Key: "views", Value: -1}, {Key: "publishedAt", Value: -1}, {Key: "_id", Value: 1}}
	}
	return bson.D{{Key: "publishedAt", Value: -1}, {Key: "_id", Value: 1}}
}

// GroupPipeline counts matching posts per value of a single-valued field, skipping nulls
func GroupPipeline(p query.Predicate, field string) []bson.M {
	match := Filter(p)
	match[field] = bson.M{"$nin": bson.A{nil, ""}}
	return []bson.M{
		{"$match": match},
		{"$group": bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}},
	}
}

// TagPipeline flattens tag arrays and counts each distinct (post, tag) pair
func TagPipeline(p query.Predicate) []bson.M {
	return []bson.M{
		{"$match": Filter(p)},
		{"$project": bson.M{"tagIds": bson.M{"$setUnion": bson.A{bson.M{"$ifNull": bson.A{"$tagIds", bson.A{}}}}}}},
		{"$unwind": "$tagIds"},
		{"$group": bson.M{"_id": "$tagIds", "count": bson.M{"$sum": 1}}},
	}
}

// EngagementPipeline counts records per post, optionally from since onwards
func EngagementPipeline(ids []string, since *time.Time) []bson.M {
	match := bson.M{"postId": bson.M{"$in": ids}}
	if since != nil {
		match["createdAt"] = bson.M{"$gte": *since}
	}
	return []bson.M{
		{"$match": match},
		{"$group": bson.M{"_id": "$postId", "count": bson.M{"$sum": 1}}},
	}
}

func dimensionField(dim query.Dimension) (string, bool) {
	switch dim {
	case query.DimensionCategory:
		return "categoryId", true
	case query.DimensionAuthor:
		return "authorId", true
	}
	return "", false
}

func labelCollection(dim query.Dimension) (string, bool) {
	switch dim {
	case query.DimensionCategory:
		return colCategories, true
	case query.DimensionTag:
		return colTags, true
	case query.DimensionAuthor:
		return colAuthors, true
	}
	return "", false
}
