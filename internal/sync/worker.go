package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renderinc/post-discovery/internal/post"
	"github.com/renderinc/post-discovery/internal/search"
	"github.com/renderinc/post-discovery/internal/storage"
)

const (
	DefaultConcurrency = 5
	DefaultBatchSize   = 200
)

// Worker copies posts from the database into the search index
type Worker struct {
	db          *storage.DB
	index       *search.Index
	concurrency int
	batchSize   int
	log         logrus.FieldLogger
}

// NewWorker creates a new sync worker
func NewWorker(db *storage.DB, index *search.Index, concurrency, batchSize int, log logrus.FieldLogger) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Worker{
		db:          db,
		index:       index,
		concurrency: concurrency,
		batchSize:   batchSize,
		log:         log,
	}
}

// Stats holds reindex statistics
type Stats struct {
	Total    int
	Indexed  int
	Removed  int
	Errors   int
	Duration time.Duration
}

type indexed struct {
	id  string
	doc *search.IndexedPost
}

// Reindex rebuilds the index from the database and drops index entries
// whose post no longer exists
func (w *Worker) Reindex(ctx context.Context) (*Stats, error) {
	startTime := time.Now()
	stats := &Stats{}

	w.log.Info("starting reindex")

	docs, err := w.db.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	stats.Total = len(docs)
	w.log.WithField("posts", stats.Total).Info("loaded posts")

	postChan := make(chan *post.Document, len(docs))
	for _, doc := range docs {
		postChan <- doc
	}
	close(postChan)

	results := make(chan indexed, w.batchSize)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range postChan {
				if ctx.Err() != nil {
					return
				}
				if err := validate(doc); err != nil {
					w.log.WithFields(logrus.Fields{"post_id": doc.ID, "error": err}).Warn("skipping post")
					mu.Lock()
					stats.Errors++
					mu.Unlock()
					continue
				}
				results <- indexed{id: doc.ID, doc: search.ToIndexed(doc)}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single committer so batches never interleave
	seen := make(map[string]struct{}, len(docs))
	batch := make(map[string]*search.IndexedPost, w.batchSize)
	var commitErr error
	flush := func() {
		if len(batch) == 0 || commitErr != nil {
			return
		}
		if err := w.index.IndexBatch(batch); err != nil {
			commitErr = err
			return
		}
		stats.Indexed += len(batch)
		w.log.WithField("indexed", stats.Indexed).Debug("committed batch")
		batch = make(map[string]*search.IndexedPost, w.batchSize)
	}

	for r := range results {
		seen[r.id] = struct{}{}
		batch[r.id] = r.doc
		if len(batch) >= w.batchSize {
			flush()
		}
	}
	flush()

	if commitErr != nil {
		return nil, commitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("reindex: %w", err)
	}

	removed, err := w.removeStale(ctx, seen)
	if err != nil {
		return nil, err
	}
	stats.Removed = removed

	stats.Duration = time.Since(startTime)
	w.log.WithFields(logrus.Fields{
		"indexed":  stats.Indexed,
		"removed":  stats.Removed,
		"errors":   stats.Errors,
		"duration": stats.Duration,
	}).Info("reindex complete")

	return stats, nil
}

func (w *Worker) removeStale(ctx context.Context, seen map[string]struct{}) (int, error) {
	ids, err := w.index.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list index ids: %w", err)
	}
	var stale []string
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := w.index.DeleteBatch(stale); err != nil {
		return 0, fmt.Errorf("delete stale: %w", err)
	}
	return len(stale), nil
}

func validate(doc *post.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("missing id")
	}
	if doc.Status == post.StatusPublished && doc.PublishedAt == nil {
		return fmt.Errorf("published without a publish time")
	}
	return nil
}

// Mirror forwards view increments to the database and refreshes the
// indexed copy so popularity sorting sees the new count
type Mirror struct {
	db    *storage.DB
	index *search.Index
}

// NewMirror creates a mirror over a database and its index
func NewMirror(db *storage.DB, index *search.Index) *Mirror {
	return &Mirror{db: db, index: index}
}

// Get reads a post from the database
func (m *Mirror) Get(ctx context.Context, id string) (*post.Document, error) {
	return m.db.Get(ctx, id)
}

// IncrementViews bumps the counter and reindexes the post
func (m *Mirror) IncrementViews(ctx context.Context, id string) error {
	if err := m.db.IncrementViews(ctx, id); err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	doc, err := m.db.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get post: %w", err)
	}
	if doc == nil {
		return nil
	}
	if err := m.index.IndexPost(doc); err != nil {
		return fmt.Errorf("index post: %w", err)
	}
	return nil
}
