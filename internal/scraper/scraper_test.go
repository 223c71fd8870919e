package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdesk/internal/logger"
)

const articlePage = `<html><head><title>Story</title><script>var x = "not text at all, really";</script></head>
<body>
<nav><p>Home | World | Business | Technology | Science</p></nav>
<article>
  <h1>Big story</h1>
  <p>The council approved the new transit budget on Tuesday evening.</p>
  <p>Officials said construction on the first line would begin next spring.</p>
  <p>Subscribe to our newsletter for more updates.</p>
  <p>Residents will be able to comment on the route at public meetings.</p>
</article>
<footer><p>Copyright 2025 Example Media, all rights reserved.</p></footer>
</body></html>`

func newTestServer(t *testing.T, robots string) (*httptest.Server, *int32) {
	t.Helper()
	var pageHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		if robots == "" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(robots))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pageHits, 1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articlePage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &pageHits
}

func TestExtract_ArticleText(t *testing.T) {
	srv, _ := newTestServer(t, "")
	e := New(srv.Client(), "newsdesk/1.0", nil, logger.Discard())

	text := e.Extract(context.Background(), srv.URL+"/news/1")
	require.NotEmpty(t, text)

	assert.Contains(t, text, "transit budget")
	assert.Contains(t, text, "public meetings")
	assert.NotContains(t, text, "newsletter")
	assert.NotContains(t, text, "not text at all")
	assert.NotContains(t, text, "Home | World")
	assert.Equal(t, 3, len(strings.Split(text, "\n\n")))
}

func TestExtract_FailuresAreEmpty(t *testing.T) {
	srv, _ := newTestServer(t, "")
	e := New(srv.Client(), "newsdesk/1.0", nil, logger.Discard())

	assert.Empty(t, e.Extract(context.Background(), srv.URL+"/missing"))
	assert.Empty(t, e.Extract(context.Background(), "::not a url"))
	assert.Empty(t, e.Extract(context.Background(), "http://127.0.0.1:1/unreachable"))
}

func TestExtract_RobotsDisallow(t *testing.T) {
	srv, hits := newTestServer(t, "User-agent: *\nDisallow: /private\n\nUser-agent: newsdesk\nDisallow: /drafts\n")
	e := New(srv.Client(), "newsdesk/1.0", nil, logger.Discard())
	ctx := context.Background()

	assert.Empty(t, e.Extract(ctx, srv.URL+"/drafts/1"))
	assert.EqualValues(t, 0, atomic.LoadInt32(hits), "disallowed page is never fetched")

	assert.True(t, e.Allowed(ctx, srv.URL+"/news/1"))
	assert.False(t, e.Allowed(ctx, srv.URL+"/drafts/2"))

	other := New(srv.Client(), "otherbot/2.0", nil, logger.Discard())
	assert.False(t, other.Allowed(ctx, srv.URL+"/private/x"))
	assert.True(t, other.Allowed(ctx, srv.URL+"/drafts/2"))
}

func TestAllowed_RobotsCachedPerOrigin(t *testing.T) {
	var robotsHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			atomic.AddInt32(&robotsHits, 1)
			_, _ = w.Write([]byte("User-agent: *\nDisallow:\n"))
		}
	}))
	defer srv.Close()

	e := New(srv.Client(), "newsdesk/1.0", nil, logger.Discard())
	for i := 0; i < 3; i++ {
		assert.True(t, e.Allowed(context.Background(), srv.URL+"/a"))
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&robotsHits))
}

func TestAllowed_ExpiredOriginsAreDropped(t *testing.T) {
	var robotsHits int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			atomic.AddInt32(&robotsHits, 1)
			_, _ = w.Write([]byte("User-agent: *\nDisallow:\n"))
		}
	})
	a := httptest.NewServer(handler)
	defer a.Close()
	b := httptest.NewServer(handler)
	defer b.Close()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := New(a.Client(), "newsdesk/1.0", nil, logger.Discard())
	e.robots.WithClock(func() time.Time { return now })

	assert.True(t, e.Allowed(context.Background(), a.URL+"/x"))
	assert.Equal(t, 1, e.robots.Len())

	now = now.Add(robotsTTL + time.Minute)
	assert.True(t, e.Allowed(context.Background(), b.URL+"/x"))
	assert.Equal(t, 1, e.robots.Len(), "expired origin is purged when a new one is cached")

	assert.True(t, e.Allowed(context.Background(), a.URL+"/y"))
	assert.EqualValues(t, 3, atomic.LoadInt32(&robotsHits))
}

func TestExtractText_FallsBackToAllParagraphs(t *testing.T) {
	html := `<html><body><div>
<p>First paragraph with enough words to count.</p>
<p>Second paragraph with enough words to count.</p>
<p>short</p>
</div></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	text := ExtractText(doc)
	assert.Equal(t, "First paragraph with enough words to count.\n\nSecond paragraph with enough words to count.", text)
}
