// Package pipeline runs one ingest pass over a set of feeds.
//
// Each entry moves through URL cache check, text extraction, filtering,
// fingerprint check, summarization and storage. Any gate may end the entry
// early as cached, skipped or errored. Per-entry failures never stop the
// run; a store failure does.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/deusflow/newsdesk/internal/filter"
	"github.com/deusflow/newsdesk/internal/rss"
	"github.com/deusflow/newsdesk/internal/storage"
	"github.com/deusflow/newsdesk/internal/summarize"
)

// ErrNoFeeds is returned before any work when the feed list is empty.
var ErrNoFeeds = errors.New("no feeds configured")

const (
	DefaultPerFeed     = 5
	DefaultPoliteDelay = 300 * time.Millisecond
)

type FeedSource interface {
	Entries(ctx context.Context, feedURL string, limit int) ([]rss.Entry, error)
}

// Extractor returns main article text, or "" when nothing could be read.
type Extractor interface {
	Extract(ctx context.Context, url string) string
}

type Summarizer interface {
	Summarize(ctx context.Context, url, title, text string) (*summarize.Summary, error)
}

// Recorder observes finished runs.
type Recorder interface {
	RecordRun(res Result, err error)
}

// Options configure a single run.
type Options struct {
	PerFeed           int
	DryRun            bool
	PoliteDelay       time.Duration
	FingerprintPrefix int
	Rules             *filter.RuleSet
}

// Stats are the run counters.
type Stats struct {
	Seen       int `json:"seen"`
	Summarized int `json:"summarized"`
	Cached     int `json:"cached"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// Result is what a run reports back, including per-outcome URL lists.
type Result struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`
	Stats

	SummarizedURLs []string `json:"summarized_urls"`
	CachedURLs     []string `json:"cached_urls"`
	SkippedURLs    []string `json:"skipped_urls"`
	ErrorURLs      []string `json:"error_urls"`
}

// Record converts the result into its persisted form.
func (r Result) Record() storage.RunRecord {
	return storage.RunRecord{
		ID:         r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Seen:       r.Seen,
		Summarized: r.Summarized,
		Cached:     r.Cached,
		Skipped:    r.Skipped,
		Errors:     r.Errors,
	}
}

type Pipeline struct {
	store      storage.ArticleStore
	feeds      FeedSource
	extractor  Extractor
	summarizer Summarizer
	recorder   Recorder
	log        *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func New(store storage.ArticleStore, feeds FeedSource, extractor Extractor, summarizer Summarizer, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:      store,
		feeds:      feeds,
		extractor:  extractor,
		summarizer: summarizer,
		log:        log,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// WithRecorder attaches a run observer such as the metrics registry.
func (p *Pipeline) WithRecorder(r Recorder) *Pipeline {
	p.recorder = r
	return p
}

// WithClock swaps the time source; used by tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run processes every feed once. The returned Result is valid even when err
// is non-nil and holds the counters accumulated up to the failure.
func (p *Pipeline) Run(ctx context.Context, feeds []string, opts Options) (Result, error) {
	res := Result{
		RunID:     ulid.Make().String(),
		StartedAt: p.now().UTC(),
		DryRun:    opts.DryRun,
	}
	if len(feeds) == 0 {
		return res, ErrNoFeeds
	}
	if opts.PerFeed <= 0 {
		opts.PerFeed = DefaultPerFeed
	}

	log := p.log.With("run_id", res.RunID)
	log.Info("ingest started", "feeds", len(feeds), "per_feed", opts.PerFeed, "dry_run", opts.DryRun)

	err := p.runFeeds(ctx, log, feeds, opts, &res)
	res.FinishedAt = p.now().UTC()

	if err == nil && !opts.DryRun {
		if rerr := p.store.RecordRun(ctx, res.Record()); rerr != nil {
			err = fmt.Errorf("record run: %w", rerr)
		}
	}
	if p.recorder != nil {
		p.recorder.RecordRun(res, err)
	}

	if err != nil {
		log.Error("ingest aborted", "err", err, "stats", res.Stats)
		return res, err
	}
	log.Info("ingest finished",
		"seen", res.Seen, "summarized", res.Summarized, "cached", res.Cached,
		"skipped", res.Skipped, "errors", res.Errors,
		"duration", res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

func (p *Pipeline) runFeeds(ctx context.Context, log *slog.Logger, feeds []string, opts Options, res *Result) error {
	for _, feedURL := range feeds {
		flog := log.With("feed", feedURL)

		entries, err := p.feeds.Entries(ctx, feedURL, opts.PerFeed)
		if err != nil {
			flog.Warn("feed unavailable", "err", err)
			continue
		}
		if len(entries) > opts.PerFeed {
			entries = entries[:opts.PerFeed]
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			fetched, err := p.processEntry(ctx, flog, entry, opts, res)
			if err != nil {
				return err
			}
			if fetched {
				p.sleep(ctx, opts.PoliteDelay)
			}
		}
	}
	return nil
}

// processEntry walks one entry through the gates. fetched reports whether
// any page was downloaded, so the caller knows to pause. A non-nil error is
// fatal for the run.
func (p *Pipeline) processEntry(ctx context.Context, log *slog.Logger, e rss.Entry, opts Options, res *Result) (fetched bool, err error) {
	if e.URL == "" {
		return false, nil
	}
	res.Seen++
	log = log.With("url", e.URL)

	known, err := p.store.HasURL(ctx, e.URL)
	if err != nil {
		return false, err
	}
	if known {
		res.Cached++
		res.CachedURLs = append(res.CachedURLs, e.URL)
		log.Debug("cached by url")
		return false, nil
	}

	text := p.extractor.Extract(ctx, e.URL)

	if !opts.Rules.ShouldKeep(e.URL, e.Title, text) {
		res.Skipped++
		res.SkippedURLs = append(res.SkippedURLs, e.URL)
		log.Info("skipped by filter")
		return true, nil
	}

	hash := Fingerprint(text, e.URL, opts.FingerprintPrefix)
	dup, err := p.store.HasHash(ctx, hash)
	if err != nil {
		return true, err
	}
	if dup {
		res.Cached++
		res.CachedURLs = append(res.CachedURLs, e.URL)
		log.Info("cached by content fingerprint", "hash", hash)
		return true, nil
	}

	if opts.DryRun {
		res.Summarized++
		res.SummarizedURLs = append(res.SummarizedURLs, e.URL)
		log.Info("dry run, summarizer skipped")
		return true, nil
	}

	sum, err := p.summarizer.Summarize(ctx, e.URL, e.Title, text)
	if err != nil {
		p.entryError(log, res, e.URL, "summarize failed", err)
		return true, nil
	}

	article := BuildArticle(e, sum, hash)
	if err := p.store.Insert(ctx, article); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return true, err
		}
		p.entryError(log, res, e.URL, "insert failed", err)
		return true, nil
	}

	res.Summarized++
	res.SummarizedURLs = append(res.SummarizedURLs, e.URL)
	log.Info("summarized", "source", article.Source)
	return true, nil
}

func (p *Pipeline) entryError(log *slog.Logger, res *Result, url, msg string, err error) {
	res.Errors++
	res.ErrorURLs = append(res.ErrorURLs, url)
	log.Warn(msg, "err", err)
}

// BuildArticle merges the feed entry with the summary into a storable row.
// The entry URL stays the primary key whatever the model echoed back.
func BuildArticle(e rss.Entry, s *summarize.Summary, hash string) storage.Article {
	domain := filter.Domain(e.URL)
	source := e.FeedName
	if source == "" {
		source = domain
	}
	title := s.Title
	if title == "" {
		title = e.Title
	}
	published := EntryPublished(e)

	return storage.Article{
		URL:           e.URL,
		Title:         title,
		PublishedAt:   published,
		PublishedDate: DisplayDate(published),
		ContentHash:   hash,
		Domain:        domain,
		Source:        source,
		ImageURL:      e.ImageHint,
		Summary:       s.Summary,
		Takeaways:     s.Takeaways,
		Tags:          s.Tags,
	}
}
