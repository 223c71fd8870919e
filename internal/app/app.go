// Package app wires configuration into the running collaborators: store,
// feed source, extractor, summarizer and pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deusflow/newsdesk/internal/config"
	"github.com/deusflow/newsdesk/internal/filter"
	"github.com/deusflow/newsdesk/internal/metrics"
	"github.com/deusflow/newsdesk/internal/pipeline"
	"github.com/deusflow/newsdesk/internal/ranker"
	"github.com/deusflow/newsdesk/internal/ratelimit"
	"github.com/deusflow/newsdesk/internal/retry"
	"github.com/deusflow/newsdesk/internal/rss"
	"github.com/deusflow/newsdesk/internal/scraper"
	"github.com/deusflow/newsdesk/internal/storage"
	"github.com/deusflow/newsdesk/internal/summarize"
)

const maxRetryDelay = 30 * time.Second

type App struct {
	cfg      *config.Config
	store    storage.ArticleStore
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	log      *slog.Logger
	closers  []func() error
}

// IngestOptions override the configured feed list, rule files and cap for a
// single run. Zero values fall back to config.
type IngestOptions struct {
	FeedsPath   string
	IncludePath string
	ExcludePath string
	PerFeed     int
	DryRun      bool
}

// New opens the store and builds the pipeline. The summarizer is only built
// when credentials are present; without them every summarize call fails and
// is counted as a per-entry error.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, metrics: metrics.Global, log: log}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	client := HTTPClient(cfg)

	sum, err := a.summarizer(ctx, client)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.pipeline = pipeline.New(
		store,
		rss.NewSource(client, cfg.UserAgent),
		scraper.New(client, cfg.UserAgent, ratelimit.NewDomainThrottle(cfg.DomainMinGap), log),
		sum,
		log,
	).WithRecorder(a.metrics)

	return a, nil
}

// OpenStore picks the store implementation for cfg.DatabaseDriver.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.ArticleStore, error) {
	switch cfg.DatabaseDriver {
	case config.DriverMemory:
		m := storage.NewMemoryStore(cfg.DatabaseURL)
		if err := m.Load(); err != nil {
			return nil, err
		}
		return m, nil
	case config.DriverSQLite:
		return storage.Open(ctx, storage.DriverSQLite, cfg.DatabaseURL)
	case config.DriverPostgres:
		return storage.Open(ctx, storage.DriverPostgres, cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
}

// HTTPClient is shared by feed, page and summarizer traffic.
func HTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (a *App) summarizer(ctx context.Context, client *http.Client) (pipeline.Summarizer, error) {
	if err := a.cfg.ValidateSummarizer(); err != nil {
		a.log.Warn("summarizer disabled", "backend", a.cfg.Summarizer, "err", err)
		return missingSummarizer{err: err}, nil
	}

	opts := summarize.Options{
		InputCharCap:    a.cfg.InputCharCap,
		MaxOutputTokens: a.cfg.MaxOutputTokens,
		Retry: retry.RetryConfig{
			MaxAttempts: a.cfg.RetryAttempts,
			Delay:       a.cfg.RetryDelay,
			Backoff:     true,
			MaxDelay:    maxRetryDelay,
		},
		Logger: a.log,
	}

	switch a.cfg.Summarizer {
	case config.SummarizerGemini:
		opts.Model = a.cfg.GeminiModel
		g, err := summarize.NewGemini(ctx, a.cfg.GeminiAPIKey, opts)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	default:
		opts.Model = a.cfg.OpenAIModel
		return summarize.NewOpenAI(a.cfg.OpenAIAPIKey, a.cfg.OpenAIBaseURL, client, opts), nil
	}
}

type missingSummarizer struct{ err error }

func (m missingSummarizer) Summarize(context.Context, string, string, string) (*summarize.Summary, error) {
	return nil, m.err
}

func (a *App) Store() storage.ArticleStore { return a.store }
func (a *App) Metrics() *metrics.Metrics   { return a.metrics }

// Ingest loads feeds and rules and runs the pipeline once.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) (pipeline.Result, error) {
	if opts.FeedsPath == "" {
		opts.FeedsPath = a.cfg.FeedsPath
	}
	if opts.IncludePath == "" {
		opts.IncludePath = a.cfg.IncludePath
	}
	if opts.ExcludePath == "" {
		opts.ExcludePath = a.cfg.ExcludePath
	}
	if opts.PerFeed <= 0 {
		opts.PerFeed = a.cfg.PerFeed
	}

	feeds, err := rss.LoadFeeds(opts.FeedsPath)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("load feeds: %w", err)
	}
	if len(feeds) == 0 {
		return pipeline.Result{}, fmt.Errorf("%w: no feeds found at %s", pipeline.ErrNoFeeds, opts.FeedsPath)
	}

	rules, err := filter.LoadRuleSet(opts.IncludePath, opts.ExcludePath)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("load rules: %w", err)
	}
	a.log.Debug("rules loaded", "include", rules.IncludeCount(), "exclude", rules.ExcludeCount())

	return a.pipeline.Run(ctx, feeds, pipeline.Options{
		PerFeed:           opts.PerFeed,
		DryRun:            opts.DryRun,
		PoliteDelay:       a.cfg.PoliteDelay,
		FingerprintPrefix: a.cfg.FingerprintPrefix,
		Rules:             rules,
	})
}

// Refresh is the ingest run behind POST /refresh. It uses the per-feed cap
// from server settings.
func (a *App) Refresh(ctx context.Context) (pipeline.Result, error) {
	st, err := config.LoadServerSettings(a.cfg.SettingsPath())
	if err != nil {
		a.log.Warn("settings unavailable, using defaults", "err", err)
	}
	return a.Ingest(ctx, IngestOptions{PerFeed: st.PerFeedCap})
}

// Home ranks the most recent pool of articles with the given settings.
func (a *App) Home(ctx context.Context, st config.ServerSettings, source string) ([]storage.Article, error) {
	pool, err := a.store.Recent(ctx, storage.RecentOptions{Limit: a.cfg.HomePoolSize, Source: source})
	if err != nil {
		return nil, err
	}
	return ranker.Select(pool, ranker.Options{
		HomeCount:      st.HomeCount,
		PerDomainQuota: st.PerDomainQuota,
		HalfLifeHours:  float64(st.RecencyHalfLifeHours),
	}, time.Now()), nil
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
