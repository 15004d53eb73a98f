// Package feed fetches and ingests RSS/Atom feeds.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/bingal/rss-reader/internal/metrics"
	"github.com/bingal/rss-reader/internal/store"
)

const (
	fetchTimeout   = 30 * time.Second
	summaryWords   = 100
	summaryMaxLen  = 200
	defaultRetries = 3
)

// Fetcher downloads feed documents and ingests their entries into the
// store. Outbound requests are retried on transient failures and
// rate-limited across all feeds.
type Fetcher struct {
	store   *store.Store
	client  *retryablehttp.Client
	limiter *rate.Limiter
	parser  *gofeed.Parser
	logger  *slog.Logger
}

// NewFetcher creates a fetcher backed by st.
func NewFetcher(st *store.Store) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = defaultRetries
	client.HTTPClient.Timeout = fetchTimeout
	client.Logger = nil

	return &Fetcher{
		store:   st,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		parser:  gofeed.NewParser(),
		logger:  slog.With("component", "feed"),
	}
}

// Fetch downloads and parses one feed document.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch feed: HTTP %d", resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return parsed, nil
}

// Refresh fetches one subscription and stores its new entries, keyed by
// link. It returns the number of newly stored articles.
func (f *Fetcher) Refresh(ctx context.Context, sub store.Feed) (int, error) {
	doc, err := f.Fetch(ctx, sub.URL)
	if err != nil {
		metrics.FeedRefreshes.WithLabelValues("error").Inc()
		return 0, err
	}

	title := sub.Title
	if doc.Title != "" {
		title = doc.Title
	}
	imageURL := sub.ImageURL
	if doc.Image != nil && doc.Image.URL != "" {
		imageURL = doc.Image.URL
	}
	if err := f.store.UpdateFeedMeta(sub.ID, title, doc.Description, imageURL); err != nil {
		f.logger.Warn("feed metadata update failed", "feed", sub.ID, "error", err)
	}

	saved := 0
	for _, item := range doc.Items {
		article := convertItem(sub.ID, doc, item)
		inserted, err := f.store.InsertArticle(article)
		if err != nil {
			metrics.FeedRefreshes.WithLabelValues("error").Inc()
			return saved, err
		}
		if inserted {
			saved++
		}
	}

	metrics.FeedRefreshes.WithLabelValues("ok").Inc()
	metrics.ArticlesIngested.Add(float64(saved))
	f.logger.Info("feed refreshed", "feed", sub.ID, "url", sub.URL, "new_articles", saved)
	return saved, nil
}

// RefreshAll refreshes every subscription, continuing past individual
// failures. It returns the total number of new articles and the count
// of feeds that failed.
func (f *Fetcher) RefreshAll(ctx context.Context) (saved, failed int, err error) {
	subs, err := f.store.Feeds()
	if err != nil {
		return 0, 0, err
	}
	for _, sub := range subs {
		n, err := f.Refresh(ctx, sub)
		saved += n
		if err != nil {
			failed++
			f.logger.Warn("feed refresh failed", "feed", sub.ID, "url", sub.URL, "error", err)
		}
		if ctx.Err() != nil {
			return saved, failed, ctx.Err()
		}
	}
	return saved, failed, nil
}

// convertItem maps one feed entry onto a stored article, applying the
// fallbacks for missing fields.
func convertItem(feedID string, doc *gofeed.Feed, item *gofeed.Item) store.Article {
	now := time.Now().Unix()

	link := item.Link
	if link == "" {
		// No link at all: synthesize a unique one so dedupe still works.
		link = uuid.NewString()
	}

	title := item.Title
	if title == "" {
		title = "Untitled"
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	summary := item.Description
	if summary == "" || summary == content {
		summary = Summarize(content)
	}

	author := ""
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}
	if author == "" {
		author = doc.Title
	}

	pubDate := now
	if item.PublishedParsed != nil {
		pubDate = item.PublishedParsed.Unix()
	} else if item.UpdatedParsed != nil {
		pubDate = item.UpdatedParsed.Unix()
	}

	return store.Article{
		FeedID:    feedID,
		Title:     title,
		Link:      link,
		Content:   content,
		Summary:   summary,
		Author:    author,
		PubDate:   pubDate,
		FetchedAt: now,
	}
}

// Summarize produces a short plain-text summary from HTML-ish content:
// angle brackets become separators, the first 100 words are kept, and
// the result is capped at 200 characters.
func Summarize(html string) string {
	if html == "" {
		return ""
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return ' '
		}
		return r
	}, html)

	words := strings.Fields(cleaned)
	if len(words) > summaryWords {
		words = words[:summaryWords]
	}
	text := strings.Join(words, " ")

	if len(text) > summaryMaxLen {
		cut := summaryMaxLen
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
