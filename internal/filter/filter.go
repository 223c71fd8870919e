// Package filter decides whether an article is kept, using include/exclude
// rule lists that may be global or scoped to a single domain.
//
// Rule lines:
//
//	# comment
//	kubernetes             global word-boundary term
//	"open source"          global exact phrase
//	example.com: sponsored term applied only to example.com
package filter

import (
	"net/url"
	"regexp"
	"strings"
)

// nonWord mirrors \W over ASCII. Boundaries are explicit so that the start and
// end of the text also count.
const nonWord = `[^A-Za-z0-9_]`

// Term is one compiled rule.
type Term struct {
	pattern *regexp.Regexp
}

// Match reports whether the term occurs in text.
func (t Term) Match(text string) bool {
	return t.pattern.MatchString(text)
}

// Terms is an ordered list of compiled rules.
type Terms []Term

func (ts Terms) any(text string) bool {
	if text == "" {
		return false
	}
	for _, t := range ts {
		if t.Match(text) {
			return true
		}
	}
	return false
}

// RuleSet is immutable once compiled.
type RuleSet struct {
	includeGlobal Terms
	includeDomain map[string]Terms
	excludeGlobal Terms
	excludeDomain map[string]Terms
}

// Compile parses raw include and exclude lines into a RuleSet.
func Compile(includeLines, excludeLines []string) *RuleSet {
	rs := &RuleSet{}
	rs.includeGlobal, rs.includeDomain = parseLines(includeLines)
	rs.excludeGlobal, rs.excludeDomain = parseLines(excludeLines)
	return rs
}

// ShouldKeep applies the rules to an article. Excludes are a hard veto and
// are checked first; includes, when any apply, require at least one hit.
func (rs *RuleSet) ShouldKeep(rawURL, title, body string) bool {
	if rs == nil {
		return true
	}

	dom := Domain(rawURL)
	text := title + "\n" + body

	if rs.excludeDomain[dom].any(text) || rs.excludeGlobal.any(text) {
		return false
	}

	includes := len(rs.includeDomain[dom]) + len(rs.includeGlobal)
	if includes == 0 {
		return true
	}
	return rs.includeDomain[dom].any(text) || rs.includeGlobal.any(text)
}

// IncludeCount and ExcludeCount report how many terms were compiled.
func (rs *RuleSet) IncludeCount() int { return countTerms(rs.includeGlobal, rs.includeDomain) }
func (rs *RuleSet) ExcludeCount() int { return countTerms(rs.excludeGlobal, rs.excludeDomain) }

func countTerms(global Terms, perDomain map[string]Terms) int {
	n := len(global)
	for _, ts := range perDomain {
		n += len(ts)
	}
	return n
}

func parseLines(lines []string) (Terms, map[string]Terms) {
	var global Terms
	perDomain := map[string]Terms{}

	for _, raw := range lines {
		ln := strings.TrimSpace(raw)
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}

		if strings.Contains(ln, ":") && !strings.HasPrefix(ln, `"`) {
			dom, term, _ := strings.Cut(ln, ":")
			dom = normalizeDomain(dom)
			if t, ok := compileTerm(strings.TrimSpace(term)); ok {
				perDomain[dom] = append(perDomain[dom], t)
			}
			continue
		}

		if t, ok := compileTerm(ln); ok {
			global = append(global, t)
		}
	}
	return global, perDomain
}

func compileTerm(raw string) (Term, bool) {
	if raw == "" {
		return Term{}, false
	}

	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		phrase := strings.TrimSpace(raw[1 : len(raw)-1])
		if phrase == "" {
			return Term{}, false
		}
		return Term{pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase))}, true
	}

	return Term{
		pattern: regexp.MustCompile(`(?i)(?:^|` + nonWord + `)` + regexp.QuoteMeta(raw) + `(?:$|` + nonWord + `)`),
	}, true
}

// Domain returns rawURL's host, lower-cased, without a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return normalizeDomain(u.Hostname())
}

func normalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}
