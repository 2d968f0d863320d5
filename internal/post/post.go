package post

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the publication state of a post
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusScheduled Status = "SCHEDULED"
	StatusPublished Status = "PUBLISHED"
	StatusArchived  Status = "ARCHIVED"
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusDraft:     {StatusPending, StatusScheduled, StatusPublished},
	StatusPending:   {StatusDraft, StatusScheduled, StatusPublished},
	StatusScheduled: {StatusDraft, StatusPublished},
	StatusPublished: {StatusDraft, StatusArchived},
	StatusArchived:  {StatusDraft},
}

// ParseStatus parses a status name, case-insensitively
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Document is a post as seen by the discovery engine
type Document struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Excerpt     string     `json:"excerpt" yaml:"excerpt"`
	Content     string     `json:"content" yaml:"content"`
	Status      Status     `json:"status" yaml:"status"`
	PublishedAt *time.Time `json:"publishedAt" yaml:"publishedAt"` // nil unless published
	Views       int64      `json:"views" yaml:"views"`
	CategoryID  string     `json:"categoryId,omitempty" yaml:"categoryId"` // "" when uncategorized
	TagIDs      []string   `json:"tagIds" yaml:"tagIds"`
	AuthorID    string     `json:"authorId" yaml:"authorId"`
}

// IsPublished reports whether the document is visible at now.
func (d *Document) IsPublished(now time.Time) bool {
	return d.Status == StatusPublished && d.PublishedAt != nil && !d.PublishedAt.After(now)
}

// HasTag reports whether the document carries the tag
func (d *Document) HasTag(id string) bool {
	for _, t := range d.TagIDs {
		if t == id {
			return true
		}
	}
	return false
}

// Transition moves the document to a new status.
// PublishedAt is stamped the first time the document becomes PUBLISHED
// and cleared whenever it leaves PUBLISHED.
func (d *Document) Transition(to Status, now time.Time) error {
	from := d.Status
	if from == "" {
		from = StatusDraft
	}
	if from == to {
		return nil
	}

	allowed := false
	for _, s := range transitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	switch {
	case to == StatusPublished && d.PublishedAt == nil:
		ts := now.UTC()
		d.PublishedAt = &ts
	case from == StatusPublished:
		d.PublishedAt = nil
	}
	d.Status = to
	return nil
}

// UniqueTags trims tag ids and drops blanks and repeats, keeping first-seen order.
// It returns nil when nothing is left.
func UniqueTags(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Clone returns a deep copy so callers can mutate it freely
func (d *Document) Clone() *Document {
	c := *d
	if d.PublishedAt != nil {
		ts := *d.PublishedAt
		c.PublishedAt = &ts
	}
	c.TagIDs = append([]string(nil), d.TagIDs...)
	return &c
}
