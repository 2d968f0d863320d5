package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderinc/post-discovery/internal/sync"
	"github.com/renderinc/post-discovery/internal/web"
)

func serveCmd() *cobra.Command {
	var (
		host    string
		port    int
		fixture string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			if fixture != "" {
				if _, err := sync.NewImporter(b.sink, nil, log).ImportFile(ctx, fixture); err != nil {
					return err
				}
				if b.index != nil {
					if _, err := sync.NewWorker(b.db, b.index, cfg.Sync.Concurrency, cfg.Sync.BatchSize, log).Reindex(ctx); err != nil {
						return err
					}
				}
			}

			srv := web.NewServer(newSearcher(b), newTrender(b), b.posts, web.Options{
				Backend:         cfg.Store.Backend,
				QueryTimeout:    cfg.Server.QueryTimeout,
				DefaultPageSize: cfg.Search.DefaultPageSize,
				MaxPageSize:     cfg.Search.MaxPageSize,
				TrendingLimit:   cfg.Ranking.DefaultLimit,
			}, log)

			httpServer := &http.Server{
				Addr:              cfg.Server.Addr(),
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", "http://"+httpServer.Addr).Info("starting server")
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "host to bind to (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (default from config)")
	cmd.Flags().StringVar(&fixture, "fixture", "", "YAML fixture to import before serving")
	return cmd
}
