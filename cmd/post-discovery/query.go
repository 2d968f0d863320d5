package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderinc/post-discovery/internal/discovery"
	"github.com/renderinc/post-discovery/internal/facet"
	"github.com/renderinc/post-discovery/internal/query"
	"github.com/renderinc/post-discovery/internal/trending"
)

type filterFlags struct {
	tags     string
	category string
	author   string
	from     string
	to       string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tags, "tags", "", "comma-separated tag ids (posts must carry all)")
	cmd.Flags().StringVar(&f.category, "category", "", "category id")
	cmd.Flags().StringVar(&f.author, "author", "", "author id")
	cmd.Flags().StringVar(&f.from, "from", "", "published on or after (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&f.to, "to", "", "published on or before (YYYY-MM-DD or RFC3339)")
}

func (f *filterFlags) build(text string) (query.Filters, error) {
	filters := query.Filters{
		Query:      text,
		TagIDs:     query.SplitList(f.tags),
		CategoryID: f.category,
		AuthorID:   f.author,
	}
	if f.from != "" {
		ts, err := query.ParseTime(f.from, false)
		if err != nil {
			return filters, fmt.Errorf("invalid --from: %w", err)
		}
		filters.DateFrom = &ts
	}
	if f.to != "" {
		ts, err := query.ParseTime(f.to, true)
		if err != nil {
			return filters, fmt.Errorf("invalid --to: %w", err)
		}
		filters.DateTo = &ts
	}
	return filters, nil
}

func searchCmd() *cobra.Command {
	var (
		ff     filterFlags
		days   int
		sortBy string
		page   int
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "search [flags] [query...]",
		Short: "Search published posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := ff.build(strings.Join(args, " "))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			res, err := newSearcher(b).Search(ctx, discovery.SearchRequest{
				Filters:  filters,
				Days:     discovery.ClampDays(days),
				Sort:     discovery.ParseSearchSort(sortBy),
				Page:     page,
				PageSize: limit,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if len(res.Results) == 0 {
				fmt.Println("No results found")
				return nil
			}

			fmt.Printf("\nFound %d results (page %d of %d):\n\n", res.Meta.Total, res.Meta.CurrentPage, res.Meta.TotalPages)
			for i, doc := range res.Results {
				fmt.Printf("%d. %s\n", (res.Meta.CurrentPage-1)*res.Meta.Limit+i+1, doc.Title)
				fmt.Printf("   ID: %s\n", doc.ID)
				if doc.AuthorID != "" {
					fmt.Printf("   Author: %s\n", doc.AuthorID)
				}
				if doc.PublishedAt != nil {
					fmt.Printf("   Published: %s\n", doc.PublishedAt.Format(time.RFC3339))
				}
				fmt.Printf("   Views: %d\n", doc.Views)
				if doc.Excerpt != "" {
					fmt.Printf("   Preview: %s\n", doc.Excerpt)
				}
				fmt.Println()
			}

			printBuckets("Categories", res.Facets.Categories)
			if res.Facets.Uncategorized > 0 {
				fmt.Printf("  (uncategorized) %d\n", res.Facets.Uncategorized)
			}
			printBuckets("Tags", res.Facets.Tags)
			printBuckets("Authors", res.Facets.Authors)
			return nil
		},
	}

	ff.register(cmd)
	cmd.Flags().IntVar(&days, "days", 0, "only posts published in the last N days (0 for all time)")
	cmd.Flags().StringVar(&sortBy, "sort", "date", "relevance, date or popularity")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "results per page (default from config)")
	return cmd
}

func trendingCmd() *cobra.Command {
	var (
		ff     filterFlags
		days   int
		sortBy string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Rank trending posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := ff.build("")
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.Ranking.DefaultLimit
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			res, err := newTrender(b).Trending(ctx, discovery.TrendingRequest{
				Filters: filters,
				Days:    discovery.ClampDays(days),
				Sort:    trending.ParseSort(sortBy),
				Limit:   limit,
			})
			if err != nil {
				return fmt.Errorf("trending: %w", err)
			}

			if len(res.Posts) == 0 {
				fmt.Println("No trending posts")
				return nil
			}

			fmt.Println()
			for i, r := range res.Posts {
				fmt.Printf("%d. %s\n", i+1, r.Title)
				fmt.Printf("   ID: %s\n", r.ID)
				fmt.Printf("   Score: %.3f\n", r.Score)
				fmt.Printf("   Views: %d  Comments: %d  Reactions: %d  Bookmarks: %d\n",
					r.Views, r.Engagement.CommentCount, r.Engagement.ReactionCount, r.Engagement.BookmarkCount)
				fmt.Println()
			}
			printBuckets("Categories", res.Categories)
			return nil
		},
	}

	ff.register(cmd)
	cmd.Flags().IntVar(&days, "days", 0, "recency window in days (0 for all time)")
	cmd.Flags().StringVar(&sortBy, "sort", "score", "score, newest, views, comments or reactions")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of posts (default from config)")
	return cmd
}

func printBuckets(title string, buckets []facet.Bucket) {
	if len(buckets) == 0 {
		return
	}
	fmt.Printf("%s:\n", title)
	for _, b := range buckets {
		fmt.Printf("  %-20s %d\n", b.Label, b.Count)
	}
}
