package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderinc/post-discovery/internal/query"
	"github.com/renderinc/post-discovery/internal/search"
	"github.com/renderinc/post-discovery/internal/storage"
	"github.com/renderinc/post-discovery/internal/sync"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <fixture.yaml>",
		Short: "Load posts, labels and engagement from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			stats, err := sync.NewImporter(b.sink, nil, log).ImportFile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d posts, %d comments, %d reactions, %d bookmarks\n",
				stats.Posts, stats.Comments, stats.Reactions, stats.Bookmarks)

			if b.index == nil {
				return nil
			}
			rs, err := sync.NewWorker(b.db, b.index, cfg.Sync.Concurrency, cfg.Sync.BatchSize, log).Reindex(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d posts in %v\n", rs.Indexed, rs.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the bleve index from the SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, idx, err := openLocal()
			if err != nil {
				return err
			}
			defer db.Close()
			defer idx.Close()

			fmt.Println("Rebuilding bleve index...")
			stats, err := sync.NewWorker(db, idx, cfg.Sync.Concurrency, cfg.Sync.BatchSize, log).Reindex(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Println("=== Reindex Complete ===")
			fmt.Printf("Posts:    %d\n", stats.Total)
			fmt.Printf("Indexed:  %d\n", stats.Indexed)
			fmt.Printf("Removed:  %d\n", stats.Removed)
			fmt.Printf("Errors:   %d\n", stats.Errors)
			fmt.Printf("Duration: %v\n", stats.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database and index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if cfg.Store.Backend == "mongo" || cfg.Store.Backend == "memory" {
				b, err := openBackend(ctx)
				if err != nil {
					return err
				}
				defer b.close()

				n, err := b.store.Count(ctx, query.Build(query.Filters{}, time.Now()))
				if err != nil {
					return err
				}
				fmt.Printf("=== %s Statistics ===\n", cfg.Store.Backend)
				fmt.Printf("Published posts: %d\n", n)
				return nil
			}

			db, idx, err := openLocal()
			if err != nil {
				return err
			}
			defer db.Close()
			defer idx.Close()

			s, err := db.Stats(ctx)
			if err != nil {
				return err
			}
			indexCount, err := idx.DocCount()
			if err != nil {
				return err
			}

			fmt.Println("=== Index Statistics ===")
			fmt.Printf("Posts in database:  %d\n", s.Posts)
			fmt.Printf("Published:          %d\n", s.Published)
			fmt.Printf("Comments:           %d\n", s.Comments)
			fmt.Printf("Reactions:          %d\n", s.Reactions)
			fmt.Printf("Bookmarks:          %d\n", s.Bookmarks)
			fmt.Printf("Posts in index:     %d\n", indexCount)
			if uint64(s.Posts) != indexCount {
				fmt.Println("\nIndex is out of date, run: post-discovery reindex")
			}
			return nil
		},
	}
}

func getPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-post <id>",
		Short: "Print a post as JSON without counting a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			doc, err := b.posts.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("post not found: %s", args[0])
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
}

// openLocal opens the SQLite database and the bleve index under the data directory
func openLocal() (*storage.DB, *search.Index, error) {
	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := storage.Open(cfg.Store.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	idx, err := search.Open(cfg.Store.IndexPath(), cfg.Store.FacetSize)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open search index: %w", err)
	}
	idx.SetLogger(log)
	return db, idx, nil
}
