package post

import "time"

// Reaction is a single reaction record on a post
type Reaction struct {
	Type      string    `json:"type" yaml:"type"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// Engagement holds the per-post counts used for ranking.
// CommentCount and ReactionCount may be windowed; BookmarkCount never is.
type Engagement struct {
	CommentCount  int64      `json:"commentCount"`
	ReactionCount int64      `json:"reactionCount"`
	BookmarkCount int64      `json:"bookmarkCount"`
	Reactions     []Reaction `json:"-"`
}

// Since recounts reactions from the records, keeping those at or after cutoff.
// Without records the existing count is returned unchanged.
func (e Engagement) Since(cutoff time.Time) Engagement {
	if len(e.Reactions) == 0 {
		return e
	}
	out := e
	out.Reactions = nil
	out.ReactionCount = 0
	for _, r := range e.Reactions {
		if !r.CreatedAt.Before(cutoff) {
			out.Reactions = append(out.Reactions, r)
			out.ReactionCount++
		}
	}
	return out
}
