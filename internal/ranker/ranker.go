// Package ranker picks the home page subset of stored articles.
//
// Selection is a recency-decay sort followed by two passes over the sorted
// list: a quota pass that caps how many items one domain may place, then a
// backfill pass that ignores the cap and fills what is left.
package ranker

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/deusflow/newsdesk/internal/storage"
)

// Options control a single selection.
type Options struct {
	HomeCount      int
	PerDomainQuota int
	HalfLifeHours  float64
}

// Score returns exp(-age/halfLife) for a normalized RFC 3339 publish time.
// Missing or unparsable times count as age zero; future times clamp to zero.
func Score(publishedAt string, halfLifeHours float64, now time.Time) float64 {
	hl := math.Max(1, halfLifeHours)
	return math.Exp(-ageHours(publishedAt, now) / hl)
}

func ageHours(publishedAt string, now time.Time) float64 {
	publishedAt = strings.TrimSpace(publishedAt)
	if publishedAt == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339, publishedAt)
	if err != nil {
		return 0
	}
	age := now.Sub(ts).Hours()
	if age < 0 {
		return 0
	}
	return age
}

type scored struct {
	idx   int
	score float64
}

// Select returns up to opts.HomeCount candidates in admission order. It does
// not modify candidates. The result length is min(HomeCount, len(candidates)).
func Select(candidates []storage.Article, opts Options, now time.Time) []storage.Article {
	if opts.HomeCount <= 0 || len(candidates) == 0 {
		return []storage.Article{}
	}

	order := make([]scored, len(candidates))
	for i, c := range candidates {
		order[i] = scored{idx: i, score: Score(c.PublishedAt, opts.HalfLifeHours, now)}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return order[a].score > order[b].score
	})

	want := opts.HomeCount
	if want > len(candidates) {
		want = len(candidates)
	}

	out := make([]storage.Article, 0, want)
	admitted := make(map[int]bool, want)
	perDomain := map[string]int{}

	// quota pass
	for _, s := range order {
		if len(out) == want {
			break
		}
		dom := strings.ToLower(candidates[s.idx].Domain)
		if perDomain[dom] >= opts.PerDomainQuota {
			continue
		}
		perDomain[dom]++
		admitted[s.idx] = true
		out = append(out, candidates[s.idx])
	}

	// backfill pass
	for _, s := range order {
		if len(out) == want {
			break
		}
		if admitted[s.idx] {
			continue
		}
		admitted[s.idx] = true
		out = append(out, candidates[s.idx])
	}

	return out
}
