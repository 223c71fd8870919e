package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldKeep_NoRulesKeepsEverything(t *testing.T) {
	rs := Compile(nil, nil)
	assert.True(t, rs.ShouldKeep("https://example.com/a", "Anything", ""))
	assert.True(t, rs.ShouldKeep("https://example.com/a", "", ""))
}

func TestShouldKeep_WordBoundary(t *testing.T) {
	rs := Compile([]string{"ai"}, nil)

	assert.False(t, rs.ShouldKeep("https://example.com/a", "Mainly sunny", "we maintain a list"))
	assert.True(t, rs.ShouldKeep("https://example.com/a", "AI breakthrough", ""))
	assert.True(t, rs.ShouldKeep("https://example.com/a", "Big week for ai", ""), "term at end of text")
	assert.True(t, rs.ShouldKeep("https://example.com/a", "", "(AI) regulation"))
}

func TestShouldKeep_QuotedPhraseIsSubstring(t *testing.T) {
	rs := Compile(nil, []string{`"banned"`})

	// A quoted phrase matches as a raw substring, so "unbanned" contains it.
	assert.False(t, rs.ShouldKeep("https://example.com/a", "unbanned topic", ""))
	assert.False(t, rs.ShouldKeep("https://example.com/a", "BANNED words", ""))
	assert.True(t, rs.ShouldKeep("https://example.com/a", "allowed topic", ""))
}

func TestShouldKeep_ExcludeVetoesInclude(t *testing.T) {
	rs := Compile([]string{"golang"}, []string{"sponsored"})

	assert.False(t, rs.ShouldKeep("https://example.com/a", "Golang tips", "Sponsored content"))
	assert.True(t, rs.ShouldKeep("https://example.com/a", "Golang tips", "free content"))
	assert.False(t, rs.ShouldKeep("https://example.com/a", "Rust tips", "free content"), "includes present but none matched")
}

func TestShouldKeep_PerDomain(t *testing.T) {
	rs := Compile(
		[]string{"www.News.example: politics"},
		[]string{"blog.example: podcast"},
	)

	// news.example has a domain include, so something must match.
	assert.True(t, rs.ShouldKeep("https://www.news.example/x", "Politics today", ""))
	assert.False(t, rs.ShouldKeep("https://news.example/x", "Sports today", ""))

	// other domains see no includes at all and keep by default.
	assert.True(t, rs.ShouldKeep("https://other.example/x", "Sports today", ""))

	// domain exclude only applies to its own domain.
	assert.False(t, rs.ShouldKeep("https://blog.example/x", "New podcast episode", ""))
	assert.True(t, rs.ShouldKeep("https://other.example/x", "New podcast episode", ""))
}

func TestShouldKeep_GlobalIncludesCombineWithDomain(t *testing.T) {
	rs := Compile([]string{"news.example: politics", "economy"}, nil)

	assert.True(t, rs.ShouldKeep("https://news.example/x", "Economy", ""))
	assert.True(t, rs.ShouldKeep("https://news.example/x", "Politics", ""))
	assert.False(t, rs.ShouldKeep("https://other.example/x", "Politics", ""), "domain include does not leak")
}

func TestCompile_IgnoresBlanksAndComments(t *testing.T) {
	rs := Compile([]string{"", "  ", "# heading", "go", `""`, "example.com:"}, []string{"#x"})
	assert.Equal(t, 1, rs.IncludeCount())
	assert.Equal(t, 0, rs.ExcludeCount())
}

func TestCompile_QuotedLineWithColonIsGlobal(t *testing.T) {
	rs := Compile([]string{`"note: important"`}, nil)
	assert.Equal(t, 1, rs.IncludeCount())
	assert.True(t, rs.ShouldKeep("https://any.example/", "NOTE: Important update", ""))
}

func TestShouldKeep_RegexMetaIsLiteral(t *testing.T) {
	rs := Compile([]string{"c++"}, nil)
	assert.True(t, rs.ShouldKeep("https://x.example/", "Learning C++ today", ""))
	assert.False(t, rs.ShouldKeep("https://x.example/", "Learning C today", ""))
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("https://WWW.Example.com:8080/path?q=1"))
	assert.Equal(t, "news.example.com", Domain("http://news.example.com"))
	assert.Equal(t, "", Domain("not a url"))
}

func TestLoadRuleSet(t *testing.T) {
	dir := t.TempDir()
	inc := filepath.Join(dir, "include.txt")
	require.NoError(t, os.WriteFile(inc, []byte("# topics\n\ngolang\n  \"open source\"  \n"), 0o644))

	lines, err := LoadLines(inc)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", `"open source"`}, lines)

	rs, err := LoadRuleSet(inc, filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.Equal(t, 2, rs.IncludeCount())
	assert.Equal(t, 0, rs.ExcludeCount())
}
