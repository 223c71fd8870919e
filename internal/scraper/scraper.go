package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"

	"github.com/deusflow/newsdesk/internal/cache"
	"github.com/deusflow/newsdesk/internal/ratelimit"
)

const (
	robotsTTL      = 6 * time.Hour
	maxRobotsBytes = 512 << 10
	maxPageBytes   = 8 << 20
)

// Extractor downloads pages and returns their readable text. Robots rules
// are cached per origin and every page fetch waits on the domain throttle.
type Extractor struct {
	client    *http.Client
	userAgent string
	throttle  *ratelimit.DomainThrottle
	robots    *cache.Cache[*robotstxt.RobotsData]
	log       *slog.Logger
}

// New builds an Extractor. throttle may be nil to disable per-domain gaps.
func New(client *http.Client, userAgent string, throttle *ratelimit.DomainThrottle, log *slog.Logger) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		client:    client,
		userAgent: userAgent,
		throttle:  throttle,
		robots:    cache.New[*robotstxt.RobotsData](),
		log:       log,
	}
}

// Extract returns best-effort article text, or "" on any failure.
func (e *Extractor) Extract(ctx context.Context, pageURL string) string {
	log := e.log.With("url", pageURL)

	if !e.Allowed(ctx, pageURL) {
		log.Debug("robots.txt disallows fetch")
		return ""
	}
	if err := e.throttle.Wait(ctx, pageURL); err != nil {
		return ""
	}

	doc, err := e.fetchDocument(ctx, pageURL)
	if err != nil {
		log.Debug("page fetch failed", "err", err)
		return ""
	}
	return ExtractText(doc)
}

func (e *Extractor) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := e.get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}
	return doc, nil
}

func (e *Extractor) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	return e.client.Do(req)
}

// Allowed reports whether robots.txt for pageURL's origin permits our agent.
// An unreachable robots.txt allows everything.
func (e *Extractor) Allowed(ctx context.Context, pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return false
	}
	origin := u.Scheme + "://" + u.Host

	data, ok := e.robots.Get(origin)
	if !ok {
		data = e.fetchRobots(ctx, origin)
		e.robots.Cleanup()
		e.robots.Set(origin, data, robotsTTL)
		e.log.Debug("robots.txt cached", "origin", origin, "origins", e.robots.Len())
	}
	if data == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, e.agentName())
}

func (e *Extractor) fetchRobots(ctx context.Context, origin string) *robotstxt.RobotsData {
	resp, err := e.get(ctx, origin+"/robots.txt")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return data
}

// agentName is the product token of the User-Agent, e.g. "newsdesk" from
// "newsdesk/1.0 (+https://...)".
func (e *Extractor) agentName() string {
	name, _, _ := strings.Cut(e.userAgent, "/")
	name = strings.TrimSpace(name)
	if name == "" {
		return "*"
	}
	return name
}
