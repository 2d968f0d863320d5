package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/renderinc/post-discovery/internal/config"
	"github.com/renderinc/post-discovery/internal/discovery"
	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/logger"
	"github.com/renderinc/post-discovery/internal/memstore"
	"github.com/renderinc/post-discovery/internal/mongostore"
	"github.com/renderinc/post-discovery/internal/search"
	"github.com/renderinc/post-discovery/internal/storage"
	"github.com/renderinc/post-discovery/internal/sync"
	"github.com/renderinc/post-discovery/internal/trending"
	"github.com/renderinc/post-discovery/internal/web"
)

var (
	configPath  string
	dataDir     string
	backendFlag string

	cfg *config.Config
	log *logrus.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "post-discovery",
		Short:         "Trending and faceted search over published posts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.Store.DataDir = dataDir
			}
			if backendFlag != "" {
				cfg.Store.Backend = backendFlag
				if err := config.Validate(cfg); err != nil {
					return err
				}
			}
			log, err = logger.New(cfg.Log)
			return err
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for database and index files (default ./data)")
	root.PersistentFlags().StringVar(&backendFlag, "store", "", "document store: sqlite, bleve, mongo or memory")

	root.AddCommand(serveCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(trendingCmd())
	root.AddCommand(importCmd())
	root.AddCommand(reindexCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(getPostCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// backend bundles the stores selected by configuration
type backend struct {
	store      discovery.DocumentStore
	engagement discovery.EngagementStore
	labeler    facet.Labeler
	posts      web.Posts
	sink       sync.Sink

	db    *storage.DB
	index *search.Index
	close func()
}

func openBackend(ctx context.Context) (*backend, error) {
	switch cfg.Store.Backend {
	case "memory":
		s := memstore.New()
		return &backend{store: s, engagement: s, labeler: s, posts: s, sink: memstore.Writer{Store: s}, close: func() {}}, nil

	case "mongo":
		s, err := mongostore.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, log)
		if err != nil {
			return nil, err
		}
		return &backend{
			store: s, engagement: s, labeler: s, posts: s, sink: s,
			close: func() { s.Close(context.Background()) },
		}, nil
	}

	if cfg.Store.Backend == "sqlite" {
		if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		db, err := storage.Open(cfg.Store.DBPath())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return &backend{
			store: db, engagement: db, labeler: db, posts: db, sink: db,
			db: db, close: func() { db.Close() },
		}, nil
	}

	// bleve serves documents and facets; SQLite keeps the source rows,
	// engagement and labels
	db, idx, err := openLocal()
	if err != nil {
		return nil, err
	}
	return &backend{
		store: idx, engagement: db, labeler: db, posts: sync.NewMirror(db, idx), sink: db,
		db: db, index: idx,
		close: func() {
			idx.Close()
			db.Close()
		},
	}, nil
}

func newSearcher(b *backend) *discovery.Searcher {
	return discovery.NewSearcher(b.store, b.labeler, discovery.SearchOptions{
		DefaultPageSize: cfg.Search.DefaultPageSize,
		MaxPageSize:     cfg.Search.MaxPageSize,
	}, log)
}

func newTrender(b *backend) *discovery.Trender {
	scorer := trending.NewScorer(cfg.Ranking.Weights())
	return discovery.NewTrender(b.store, b.engagement, b.labeler, scorer, nil, log)
}
