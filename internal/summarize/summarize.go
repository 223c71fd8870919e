// Package summarize turns article text into a short structured summary using
// an LLM backend. Backends share the prompt, the response contract and the
// retry policy defined here.
package summarize

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deusflow/newsdesk/internal/retry"
)

const (
	MaxTakeaways    = 4
	MaxTags         = 8
	MinOutputTokens = 360

	DefaultInputCharCap = 12000
)

// ErrMalformed is returned when the model reply is not a usable summary.
var ErrMalformed = errors.New("malformed summary response")

const SystemPrompt = "You are a factual summarizer. Write one coherent paragraph (120-160 words) " +
	"that captures the article's main events, facts, and context. Be strictly extractive. " +
	"Then produce 2-4 concise takeaways as short sentences, each a specific fact or implication. " +
	"Return ONLY valid JSON with keys: url, title, summary, takeaways[], tags[]. " +
	"Do not include analysis not present in the text."

// Summary is the structured result of one call.
type Summary struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Takeaways []string `json:"takeaways"`
	Tags      []string `json:"tags"`
}

// Options are shared by all backends.
type Options struct {
	Model           string
	InputCharCap    int
	MaxOutputTokens int
	Retry           retry.RetryConfig
	Logger          *slog.Logger
}

func (o Options) charCap() int {
	if o.InputCharCap <= 0 {
		return DefaultInputCharCap
	}
	return o.InputCharCap
}

func (o Options) outputTokens() int {
	if o.MaxOutputTokens < MinOutputTokens {
		return MinOutputTokens
	}
	return o.MaxOutputTokens
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// retryConfig attaches a warn log to every retry unless the caller set one.
func (o Options) retryConfig(backend, url string) retry.RetryConfig {
	cfg := o.Retry
	if cfg.OnRetry == nil {
		log := o.logger()
		cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
			log.Warn("summarizer call failed, retrying",
				"backend", backend, "url", url, "attempt", attempt, "wait", wait, "err", err)
		}
	}
	return cfg
}

// UserPrompt builds the user turn. text is capped at limit characters.
func UserPrompt(url, title, text string, limit int) string {
	var b strings.Builder
	b.WriteString("Return JSON only:\n")
	b.WriteString(`{"url": str, "title": str, "summary": str, "takeaways": [str,...], "tags": [str,...]}`)
	b.WriteString("\n")
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\n\nARTICLE:\n%s", url, title, capText(text, limit))
	return b.String()
}

func capText(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

type wireSummary struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Takeaways []any  `json:"takeaways"`
	Tags      []any  `json:"tags"`
}

// Parse decodes a model reply. Prose around the JSON object is tolerated by
// falling back to the span from the first '{' to the last '}'. Missing url
// and title default to the request values.
func Parse(raw, url, title string) (*Summary, error) {
	raw = strings.TrimSpace(raw)

	var w wireSummary
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformed)
		}
		w = wireSummary{}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	s := &Summary{
		URL:       strings.TrimSpace(w.URL),
		Title:     strings.TrimSpace(w.Title),
		Summary:   strings.Join(strings.Fields(w.Summary), " "),
		Takeaways: cleanList(w.Takeaways, MaxTakeaways),
		Tags:      cleanList(w.Tags, MaxTags),
	}
	if s.URL == "" {
		s.URL = url
	}
	if s.Title == "" {
		s.Title = title
	}
	if s.Summary == "" {
		return nil, fmt.Errorf("%w: empty summary", ErrMalformed)
	}
	return s, nil
}

func cleanList(items []any, limit int) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		v := strings.TrimSpace(fmt.Sprint(it))
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}

// classify marks client errors as permanent so retries stop. Rate limiting
// and server errors stay retryable.
func classify(status int, err error) error {
	if status == http.StatusTooManyRequests || status >= 500 || status == 0 {
		return err
	}
	if status >= 400 {
		return retry.Permanent(err)
	}
	return err
}
