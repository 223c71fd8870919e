package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every driver-level failure. Callers treat it as fatal.
var ErrUnavailable = errors.New("article store unavailable")

// Article is a processed, summarized article. URL is the primary identity;
// ContentHash is a secondary dedup key.
type Article struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	PublishedAt   string    `json:"published_at"`   // RFC 3339 UTC, may be empty
	PublishedDate string    `json:"published_date"` // display form, may be empty
	ContentHash   string    `json:"content_hash"`
	Domain        string    `json:"domain"`
	Source        string    `json:"source"`
	ImageURL      string    `json:"image_url"`
	Summary       string    `json:"summary"`
	Takeaways     []string  `json:"takeaways"`
	Tags          []string  `json:"tags"`
	CreatedAt     time.Time `json:"created_at"`
}

// RunRecord is appended once per completed ingest run.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Seen       int       `json:"seen"`
	Summarized int       `json:"summarized"`
	Cached     int       `json:"cached"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
}

// RecentOptions narrows a Recent listing.
type RecentOptions struct {
	Limit  int
	Query  string // substring over title and summary
	Source string // exact source label
}

// ArticleStore persists articles and run statistics.
type ArticleStore interface {
	HasURL(ctx context.Context, url string) (bool, error)
	HasHash(ctx context.Context, hash string) (bool, error)
	// Insert stores a, replacing any row with the same URL. CreatedAt is
	// stamped by the store.
	Insert(ctx context.Context, a Article) error
	Recent(ctx context.Context, opts RecentOptions) ([]Article, error)
	Sources(ctx context.Context) ([]string, error)
	RecordRun(ctx context.Context, r RunRecord) error
	LatestRun(ctx context.Context) (*RunRecord, error)
	Close() error
}

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 200
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
