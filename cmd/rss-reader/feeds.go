package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bingal/rss-reader/internal/store"
)

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage feed subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var feeds []store.Feed
		if err := apiGet("/v1/feeds", &feeds); err != nil {
			return err
		}

		if len(feeds) == 0 {
			fmt.Println("No feeds")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tUPDATED\tURL")
		for _, f := range feeds {
			category := f.Category
			if category == "" {
				category = "-"
			}
			updated := time.Unix(f.UpdatedAt, 0).Format("2006-01-02 15:04")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Title, category, updated, f.URL)
		}
		return w.Flush()
	},
}

var feedsAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Subscribe to a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		category, _ := cmd.Flags().GetString("category")

		result, err := apiDo("POST", "/v1/feeds", map[string]string{
			"url":      args[0],
			"title":    title,
			"category": category,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added %v (%v)\n", result["title"], result["id"])
		return nil
	},
}

var feedsRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Unsubscribe from a feed",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := apiDo("DELETE", "/v1/feeds/"+args[0], nil); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [feed-id]",
	Short: "Refresh one feed, or all feeds",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/v1/refresh"
		if len(args) == 1 {
			path = "/v1/feeds/" + args[0] + "/refresh"
		}
		result, err := apiDo("POST", path, nil)
		if err != nil {
			return err
		}
		fmt.Printf("%v new articles\n", result["new_articles"])
		if failed, ok := result["failed_feeds"]; ok && failed != float64(0) {
			fmt.Printf("%v feeds failed to refresh\n", failed)
		}
		return nil
	},
}

var articlesCmd = &cobra.Command{
	Use:   "articles",
	Short: "List stored articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		feedID, _ := cmd.Flags().GetString("feed")
		filter, _ := cmd.Flags().GetString("filter")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		if feedID != "" {
			q.Set("feed_id", feedID)
		}
		if filter != "" {
			q.Set("filter", filter)
		}
		q.Set("limit", fmt.Sprint(limit))

		var articles []store.Article
		if err := apiGet("/v1/articles?"+q.Encode(), &articles); err != nil {
			return err
		}

		if len(articles) == 0 {
			fmt.Println("No articles")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFLAGS\tDATE\tTITLE")
		for _, a := range articles {
			flags := ""
			if !a.Read {
				flags += "N"
			}
			if a.Starred {
				flags += "*"
			}
			if flags == "" {
				flags = "-"
			}
			date := "-"
			if a.PubDate > 0 {
				date = time.Unix(a.PubDate, 0).Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, flags, date, a.Title)
		}
		return w.Flush()
	},
}

func init() {
	feedsAddCmd.Flags().String("title", "", "override the feed's own title")
	feedsAddCmd.Flags().String("category", "", "category label")
	articlesCmd.Flags().String("feed", "", "limit to one feed id")
	articlesCmd.Flags().String("filter", "", "all, unread or starred")
	articlesCmd.Flags().Int("limit", 50, "maximum articles to list")

	feedsCmd.AddCommand(feedsAddCmd)
	feedsCmd.AddCommand(feedsRemoveCmd)
	rootCmd.AddCommand(feedsCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(articlesCmd)
}
