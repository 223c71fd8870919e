package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noise is removed before any text is collected.
const noise = "script, style, noscript, nav, header, footer, aside, form, iframe, figure figcaption"

// ExtractText pulls paragraph text from a parsed page.
func ExtractText(doc *goquery.Document) string {
	doc.Find(noise).Remove()
	return cleanContent(extractGenericContent(doc))
}

// extractGenericContent tries the usual article containers first and falls
// back to every paragraph on the page.
func extractGenericContent(doc *goquery.Document) string {
	selectors := []string{
		"article p",
		"[itemprop=articleBody] p",
		".article-body p",
		".article p",
		".post-content p",
		".entry-content p",
		".content p",
		"main p",
		"#content p",
		"p",
	}

	var paragraphs []string
	for _, selector := range selectors {
		paragraphs = paragraphs[:0]
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) >= 3 {
			break
		}
	}

	return strings.Join(paragraphs, "\n")
}

var junkIndicators = []string{
	"cookie", "gdpr", "subscribe to", "sign up for", "newsletter",
	"all rights reserved", "share this", "read more", "click here", "follow us",
}

// cleanContent normalizes whitespace, drops boilerplate lines and joins the
// rest into blank-line separated paragraphs.
func cleanContent(content string) string {
	if content == "" {
		return ""
	}

	var cleanLines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if len(line) < 8 {
			continue
		}

		lower := strings.ToLower(line)
		isJunk := false
		for _, indicator := range junkIndicators {
			if strings.Contains(lower, indicator) && len(line) < 200 {
				isJunk = true
				break
			}
		}
		if isJunk {
			continue
		}

		cleanLines = append(cleanLines, line)
	}

	return strings.Join(cleanLines, "\n\n")
}
