package pipeline

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/newsdesk/internal/rss"
)

// DefaultFingerprintPrefix is how many leading characters of extracted text
// feed the content fingerprint.
const DefaultFingerprintPrefix = 2000

// Fingerprint hashes the first prefix characters of text, or url when text
// is empty. prefix <= 0 uses DefaultFingerprintPrefix. The cut falls on a
// character boundary and the original bytes are hashed.
func Fingerprint(text, url string, prefix int) string {
	if prefix <= 0 {
		prefix = DefaultFingerprintPrefix
	}
	input := text
	for i, n := 0, 0; i < len(text); n++ {
		if n == prefix {
			input = text[:i]
			break
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	if input == "" {
		input = url
	}
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

// rfc822Zones are the zone names RFC 822 defines besides numeric offsets.
// time.Parse would read the US ones as UTC.
var rfc822Zones = map[string]string{
	"UT": "+0000", "GMT": "+0000", "Z": "+0000",
	"EST": "-0500", "EDT": "-0400",
	"CST": "-0600", "CDT": "-0500",
	"MST": "-0700", "MDT": "-0600",
	"PST": "-0800", "PDT": "-0700",
}

// feed dates are tried as RFC 822 variants first, then ISO 8601. Weekday and
// seconds are optional in RFC 822.
var publishedLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 06 15:04:05 -0700",
	"Mon, 2 Jan 06 15:04 -0700",
	"2 Jan 06 15:04:05 -0700",
	"2 Jan 06 15:04 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04 MST",
	"2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04 MST",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// EntryPublished is the normalized publish time of e. The date gofeed parsed
// wins; the raw string is the fallback.
func EntryPublished(e rss.Entry) string {
	if !e.Published.IsZero() {
		return e.Published.UTC().Format(time.RFC3339)
	}
	return NormalizePublished(e.PublishedAt)
}

// NormalizePublished returns raw as RFC 3339 UTC, or "" when unparsable.
func NormalizePublished(raw string) string {
	raw = numericZone(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ""
}

func numericZone(raw string) string {
	i := strings.LastIndexByte(raw, ' ')
	if i < 0 {
		return raw
	}
	if off, ok := rfc822Zones[strings.ToUpper(raw[i+1:])]; ok {
		return raw[:i+1] + off
	}
	return raw
}

// DisplayDate renders a normalized timestamp as "Jan 2, 2006".
func DisplayDate(normalized string) string {
	if normalized == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, normalized)
	if err != nil {
		return ""
	}
	return t.Format("Jan 2, 2006")
}
