package rss

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"
)

const untitled = "(no title)"

// FeedsConfig is YAML config structure
// feeds:
//   - https://...
type FeedsConfig struct {
	Feeds []string `yaml:"feeds"`
}

// Entry is one feed item as the pipeline sees it.
type Entry struct {
	URL         string
	Title       string
	PublishedAt string    // raw feed date
	Published   time.Time // parsed by gofeed, zero when missing or unparsable
	ImageHint   string
	FeedName    string
}

// LoadFeeds reads the feed list. Files ending in .yaml/.yml use FeedsConfig;
// anything else is one URL per line with # comments. A missing file yields
// an empty list.
func LoadFeeds(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var cfg FeedsConfig
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		var feeds []string
		for _, u := range cfg.Feeds {
			if u = strings.TrimSpace(u); u != "" {
				feeds = append(feeds, u)
			}
		}
		return feeds, nil
	}

	var feeds []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ln := strings.TrimSpace(sc.Text())
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		feeds = append(feeds, ln)
	}
	return feeds, sc.Err()
}

// Source fetches and parses RSS/Atom feeds.
type Source struct {
	parser *gofeed.Parser
}

// NewSource builds a Source. A nil client falls back to http.DefaultClient.
func NewSource(client *http.Client, userAgent string) *Source {
	p := gofeed.NewParser()
	p.Client = client
	p.UserAgent = userAgent
	return &Source{parser: p}
}

// Entries downloads feedURL and returns at most limit entries in feed order.
func (s *Source) Entries(ctx context.Context, feedURL string, limit int) ([]Entry, error) {
	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return FromFeed(feed, limit), nil
}

// FromFeed converts parsed items. limit <= 0 means no cap.
func FromFeed(feed *gofeed.Feed, limit int) []Entry {
	if feed == nil {
		return nil
	}

	items := feed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	feedName := strings.TrimSpace(feed.Title)
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = untitled
		}
		published, parsed := item.Published, item.PublishedParsed
		if published == "" {
			published = item.Updated
		}
		if parsed == nil {
			parsed = item.UpdatedParsed
		}
		var publishedAt time.Time
		if parsed != nil {
			publishedAt = parsed.UTC()
		}
		out = append(out, Entry{
			URL:         strings.TrimSpace(item.Link),
			Title:       title,
			PublishedAt: strings.TrimSpace(published),
			Published:   publishedAt,
			ImageHint:   imageHint(item),
			FeedName:    feedName,
		})
	}
	return out
}

func imageHint(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}
