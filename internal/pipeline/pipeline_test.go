package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdesk/internal/filter"
	"github.com/deusflow/newsdesk/internal/logger"
	"github.com/deusflow/newsdesk/internal/rss"
	"github.com/deusflow/newsdesk/internal/storage"
	"github.com/deusflow/newsdesk/internal/summarize"
)

type fakeFeeds struct {
	entries map[string][]rss.Entry
	fail    map[string]bool
}

func (f *fakeFeeds) Entries(_ context.Context, feedURL string, limit int) ([]rss.Entry, error) {
	if f.fail[feedURL] {
		return nil, errors.New("feed down")
	}
	return f.entries[feedURL], nil
}

type fakeExtractor struct {
	texts map[string]string
	calls []string
}

func (f *fakeExtractor) Extract(_ context.Context, url string) string {
	f.calls = append(f.calls, url)
	return f.texts[url]
}

type fakeSummarizer struct {
	fail  map[string]bool
	calls []string
}

func (f *fakeSummarizer) Summarize(_ context.Context, url, title, text string) (*summarize.Summary, error) {
	f.calls = append(f.calls, url)
	if f.fail[url] {
		return nil, fmt.Errorf("gave up: %w", summarize.ErrMalformed)
	}
	return &summarize.Summary{
		URL:       url,
		Title:     title,
		Summary:   "Summary of " + title,
		Takeaways: []string{"one"},
		Tags:      []string{"tag"},
	}, nil
}

type fakeRecorder struct {
	results []Result
	errs    []error
}

func (f *fakeRecorder) RecordRun(res Result, err error) {
	f.results = append(f.results, res)
	f.errs = append(f.errs, err)
}

// brokenStore fails every call the way a lost database connection would.
type brokenStore struct{ storage.ArticleStore }

func (brokenStore) HasURL(context.Context, string) (bool, error) {
	return false, fmt.Errorf("%w: has url: connection refused", storage.ErrUnavailable)
}

type fixture struct {
	store      *storage.MemoryStore
	feeds      *fakeFeeds
	extractor  *fakeExtractor
	summarizer *fakeSummarizer
	recorder   *fakeRecorder
	sleeps     []time.Duration
	p          *Pipeline
}

func clock() func() time.Time {
	t := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newFixture() *fixture {
	f := &fixture{
		store:      storage.NewMemoryStore(""),
		feeds:      &fakeFeeds{entries: map[string][]rss.Entry{}, fail: map[string]bool{}},
		extractor:  &fakeExtractor{texts: map[string]string{}},
		summarizer: &fakeSummarizer{fail: map[string]bool{}},
		recorder:   &fakeRecorder{},
	}
	f.p = New(f.store, f.feeds, f.extractor, f.summarizer, logger.Discard()).
		WithRecorder(f.recorder).
		WithClock(clock())
	f.p.sleep = func(_ context.Context, d time.Duration) { f.sleeps = append(f.sleeps, d) }
	return f
}

func entry(url, title string) rss.Entry {
	return rss.Entry{URL: url, Title: title, FeedName: "Example Feed", PublishedAt: "Mon, 03 Mar 2025 10:00:00 +0000"}
}

func TestRun_Outcomes(t *testing.T) {
	f := newFixture()
	f.feeds.entries["feed"] = []rss.Entry{
		{URL: "", Title: "no link"},
		entry("https://a.example/new", "Fresh golang story"),
		entry("https://b.example/copy", "Golang copy elsewhere"),
		entry("https://c.example/sport", "Sports roundup"),
		entry("https://d.example/broken", "Golang but the model fails"),
	}
	body := "Shared body text about the release."
	f.extractor.texts["https://a.example/new"] = body
	f.extractor.texts["https://b.example/copy"] = body
	f.extractor.texts["https://d.example/broken"] = "Different body text."
	f.summarizer.fail["https://d.example/broken"] = true

	res, err := f.p.Run(context.Background(), []string{"feed"}, Options{
		PerFeed:     10,
		PoliteDelay: 5 * time.Millisecond,
		Rules:       filter.Compile([]string{"golang"}, nil),
	})
	require.NoError(t, err)

	assert.Equal(t, Stats{Seen: 4, Summarized: 1, Cached: 1, Skipped: 1, Errors: 1}, res.Stats)
	assert.Equal(t, []string{"https://a.example/new"}, res.SummarizedURLs)
	assert.Equal(t, []string{"https://b.example/copy"}, res.CachedURLs)
	assert.Equal(t, []string{"https://c.example/sport"}, res.SkippedURLs)
	assert.Equal(t, []string{"https://d.example/broken"}, res.ErrorURLs)
	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.FinishedAt.After(res.StartedAt))

	assert.Equal(t, 1, f.store.Count())
	ok, _ := f.store.HasHash(context.Background(), Fingerprint(body, "", 0))
	assert.True(t, ok)

	run, err := f.store.LatestRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, 4, run.Seen)

	assert.Len(t, f.sleeps, 4, "every fetched entry is followed by a pause")
	require.Len(t, f.recorder.results, 1)
	assert.NoError(t, f.recorder.errs[0])
}

func TestRun_StoredArticlePayload(t *testing.T) {
	f := newFixture()
	e := entry("https://www.News.example/story", "Headline")
	e.ImageHint = "https://news.example/img.jpg"
	f.feeds.entries["feed"] = []rss.Entry{e}
	f.extractor.texts[e.URL] = "Body."

	_, err := f.p.Run(context.Background(), []string{"feed"}, Options{})
	require.NoError(t, err)

	got, err := f.store.Recent(context.Background(), storage.RecentOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	a := got[0]
	assert.Equal(t, e.URL, a.URL)
	assert.Equal(t, "news.example", a.Domain)
	assert.Equal(t, "Example Feed", a.Source)
	assert.Equal(t, "https://news.example/img.jpg", a.ImageURL)
	assert.Equal(t, "2025-03-03T10:00:00Z", a.PublishedAt)
	assert.Equal(t, "Mar 3, 2025", a.PublishedDate)
	assert.Equal(t, "Summary of Headline", a.Summary)
	assert.Equal(t, Fingerprint("Body.", e.URL, 0), a.ContentHash)
}

func TestRun_SecondRunIsCachedWithoutFetching(t *testing.T) {
	f := newFixture()
	f.feeds.entries["feed"] = []rss.Entry{entry("https://a.example/1", "One"), entry("https://a.example/2", "Two")}

	_, err := f.p.Run(context.Background(), []string{"feed"}, Options{})
	require.NoError(t, err)
	require.Len(t, f.extractor.calls, 2)
	require.Len(t, f.summarizer.calls, 2)

	res, err := f.p.Run(context.Background(), []string{"feed"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, Stats{Seen: 2, Cached: 2}, res.Stats)
	assert.Len(t, f.extractor.calls, 2, "url-cached entries are never extracted")
	assert.Len(t, f.summarizer.calls, 2, "url-cached entries never reach the summarizer")
	assert.Len(t, f.sleeps, 2, "no pause after url-cached entries")
}

func TestRun_EmptyTextFingerprintsURL(t *testing.T) {
	f := newFixture()
	f.feeds.entries["feed"] = []rss.Entry{entry("https://a.example/1", "One"), entry("https://a.example/2", "Two")}

	res, err := f.p.Run(context.Background(), []string{"feed"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summarized, "distinct URLs with no text are not duplicates")
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture()
	f.feeds.entries["feed"] = []rss.Entry{entry("https://a.example/1", "One"), entry("https://a.example/2", "Two")}

	res, err := f.p.Run(context.Background(), []string{"feed"}, Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summarized)
	assert.True(t, res.DryRun)
	assert.Empty(t, f.summarizer.calls)
	assert.Equal(t, 0, f.store.Count())

	run, err := f.store.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run, "dry runs are not recorded")
}

func TestRun_PerFeedCap(t *testing.T) {
	f := newFixture()
	for i := 0; i < 8; i++ {
		f.feeds.entries["feed"] = append(f.feeds.entries["feed"], entry(fmt.Sprintf("https://a.example/%d", i), "T"))
	}

	res, err := f.p.Run(context.Background(), []string{"feed"}, Options{PerFeed: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Seen)
}

func TestRun_NoFeeds(t *testing.T) {
	f := newFixture()
	_, err := f.p.Run(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoFeeds)
	assert.Empty(t, f.recorder.results)
}

func TestRun_FeedFailureContinues(t *testing.T) {
	f := newFixture()
	f.feeds.fail["down"] = true
	f.feeds.entries["up"] = []rss.Entry{entry("https://a.example/1", "One")}

	res, err := f.p.Run(context.Background(), []string{"down", "up"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summarized)
}

func TestRun_StoreUnavailableIsFatal(t *testing.T) {
	f := newFixture()
	f.feeds.entries["feed"] = []rss.Entry{entry("https://a.example/1", "One"), entry("https://a.example/2", "Two")}
	p := New(brokenStore{ArticleStore: f.store}, f.feeds, f.extractor, f.summarizer, logger.Discard()).
		WithRecorder(f.recorder)

	res, err := p.Run(context.Background(), []string{"feed"}, Options{})
	require.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, 1, res.Seen, "counters so far are still reported")
	assert.Empty(t, f.extractor.calls)
	require.Len(t, f.recorder.errs, 1)
	assert.Error(t, f.recorder.errs[0])
}

func TestRun_CancelledContextStops(t *testing.T) {
	f := newFixture()
	f.feeds.entries["feed"] = []rss.Entry{entry("https://a.example/1", "One")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.p.Run(ctx, []string{"feed"}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFingerprint(t *testing.T) {
	long := strings.Repeat("a", 2000)
	assert.Equal(t, Fingerprint(long+"tail one", "u1", 0), Fingerprint(long+"tail two", "u2", 0),
		"only the leading prefix counts")
	assert.NotEqual(t, Fingerprint("abc", "u1", 0), Fingerprint("abd", "u1", 0))
	assert.Equal(t, Fingerprint("", "https://x.example", 0), Fingerprint("https://x.example", "", 0))
	assert.Len(t, Fingerprint("x", "", 0), 40)
	assert.Equal(t, Fingerprint("abcX", "", 3), Fingerprint("abcY", "", 3))
}

func TestNormalizePublished(t *testing.T) {
	cases := map[string]string{
		"Mon, 03 Mar 2025 10:00:00 +0000": "2025-03-03T10:00:00Z",
		"Mon, 3 Mar 2025 12:00:00 +0200":  "2025-03-03T10:00:00Z",
		"Mon, 03 Mar 2025 10:00:00 GMT":   "2025-03-03T10:00:00Z",
		"2025-03-03T10:00:00+01:00":       "2025-03-03T09:00:00Z",
		"2025-03-03T10:00:00.123Z":        "2025-03-03T10:00:00Z",
		"2025-03-03T10:00:00":             "2025-03-03T10:00:00Z",
		"2025-03-03":                      "2025-03-03T00:00:00Z",
		"10 Jun 2003 04:00:00 +0200":      "2003-06-10T02:00:00Z",
		"Tue, 10 Jun 2003 04:00 +0000":    "2003-06-10T04:00:00Z",
		"10 Jun 03 04:00 +0000":           "2003-06-10T04:00:00Z",
		"Tue, 10 Jun 2003 04:00:00 EST":   "2003-06-10T09:00:00Z",
		"Tue, 10 Jun 2003 04:00:00 pdt":   "2003-06-10T11:00:00Z",
		"Tue, 10 Jun 2003 04:00:00 UT":    "2003-06-10T04:00:00Z",
		"yesterday":                       "",
		"":                                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePublished(in), in)
	}
}

func TestEntryPublished_PrefersParsedDate(t *testing.T) {
	parsed := time.Date(2003, 6, 10, 4, 0, 0, 0, time.FixedZone("", 2*3600))

	assert.Equal(t, "2003-06-10T02:00:00Z", EntryPublished(rss.Entry{
		PublishedAt: "10 Jun 2003 04:00:00 +0200",
		Published:   parsed,
	}))
	assert.Equal(t, "2003-06-10T02:00:00Z", EntryPublished(rss.Entry{PublishedAt: "10 Jun 2003 04:00:00 +0200"}),
		"raw string is the fallback")
	assert.Equal(t, "2003-06-10T02:00:00Z", EntryPublished(rss.Entry{PublishedAt: "garbage", Published: parsed}))
	assert.Empty(t, EntryPublished(rss.Entry{}))

	a := BuildArticle(rss.Entry{URL: "https://x.example/a", Published: parsed}, &summarize.Summary{Summary: "s"}, "h")
	assert.Equal(t, "2003-06-10T02:00:00Z", a.PublishedAt)
	assert.Equal(t, "Jun 10, 2003", a.PublishedDate)
}

func TestFingerprint_CutsOnCharacterBoundary(t *testing.T) {
	prefix := strings.Repeat("a", 10)
	assert.NotEqual(t, Fingerprint(prefix+"\xffzz", "", 11), Fingerprint(prefix+"\xfezz", "", 11),
		"invalid bytes are hashed as they are")
	assert.Equal(t, Fingerprint("ééé", "", 2), Fingerprint("éé", "", 0))
	assert.Equal(t, Fingerprint("abc", "", 3), Fingerprint("abc", "", 10))
}

func TestDisplayDate(t *testing.T) {
	assert.Equal(t, "Mar 3, 2025", DisplayDate("2025-03-03T10:00:00Z"))
	assert.Empty(t, DisplayDate(""))
	assert.Empty(t, DisplayDate("garbage"))
}
